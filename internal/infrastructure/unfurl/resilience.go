package unfurl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "unfurl status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("unfurl status: %s", e.Status)
	}
	return fmt.Sprintf("unfurl status: %s: %s", e.Status, strings.TrimSpace(e.Body))
}

// classifyUnfurlError keeps in-process retries to throttling; longer waits
// belong to the link metadata retry policy.
func classifyUnfurlError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return resilience.ErrorClassification{
			Retryable:     statusErr.StatusCode == http.StatusTooManyRequests,
			RecordFailure: statusErr.StatusCode >= 500,
			RetryAfter:    statusErr.RetryAfter,
		}
	}
	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

// toDomainError maps transport failures onto the kinds the link stage retries on.
func toDomainError(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrRejected) || domain.IsKind(err, domain.ErrTimeout) || domain.IsKind(err, domain.ErrNetwork) {
		return err
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return domain.WrapError(domain.ErrRejected, "unfurl", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTimeout, "unfurl", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.WrapError(domain.ErrTimeout, "unfurl", err)
		}
		return domain.WrapError(domain.ErrNetwork, "unfurl", err)
	}
	return domain.WrapError(domain.ErrNetwork, "unfurl", err)
}
