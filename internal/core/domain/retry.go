package domain

import "time"

// RetryPolicy maps a retry index to the delay before that retry.
type RetryPolicy struct {
	Name   string
	Delays []time.Duration
}

// Next returns the delay for the retry following attempt retryCount, or false when exhausted.
func (p RetryPolicy) Next(retryCount int) (time.Duration, bool) {
	if retryCount < 0 || retryCount >= len(p.Delays) {
		return 0, false
	}
	return p.Delays[retryCount], true
}

func (p RetryPolicy) MaxRetries() int {
	return len(p.Delays)
}

var (
	AIMetadataRetryPolicy = RetryPolicy{
		Name:   "ai_metadata",
		Delays: []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute},
	}
	LinkTimeoutRetryPolicy = RetryPolicy{
		Name:   "link_timeout",
		Delays: []time.Duration{5 * time.Second, 5 * time.Second},
	}
	LinkNetworkRetryPolicy = RetryPolicy{
		Name:   "link_network",
		Delays: []time.Duration{5 * time.Second},
	}
	RenderablesRetryPolicy = RetryPolicy{
		Name:   "renderables",
		Delays: []time.Duration{5 * time.Second, 15 * time.Second},
	}
)
