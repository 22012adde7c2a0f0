package domain

import "time"

// JobAction names a unit of work the scheduler can run.
type JobAction string

const (
	JobStartPipeline JobAction = "pipeline.start"
	JobLinkMetadata  JobAction = "link.metadata"
	JobCategorize    JobAction = "stage.categorize"
	JobAIMetadata    JobAction = "stage.metadata"
	JobRenderables   JobAction = "stage.renderables"
	JobLinkBackfill  JobAction = "backfill.links"
	JobAIBackfill    JobAction = "backfill.ai"
	JobCleanup       JobAction = "maintenance.cleanup"
)

var JobActions = []JobAction{
	JobStartPipeline,
	JobLinkMetadata,
	JobCategorize,
	JobAIMetadata,
	JobRenderables,
	JobLinkBackfill,
	JobAIBackfill,
	JobCleanup,
}

func (a JobAction) Valid() bool {
	for _, known := range JobActions {
		if a == known {
			return true
		}
	}
	return false
}

// PerCard reports whether the action needs a card id.
func (a JobAction) PerCard() bool {
	switch a {
	case JobStartPipeline, JobLinkMetadata, JobCategorize, JobAIMetadata, JobRenderables:
		return true
	default:
		return false
	}
}

type Job struct {
	ID         string    `json:"id"`
	Action     JobAction `json:"action"`
	CardID     string    `json:"card_id,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
	Cursor     string    `json:"cursor,omitempty"`
	// Chain continues the per-card pipeline once this stage settles.
	Chain      bool      `json:"chain,omitempty"`
	RunAt      time.Time `json:"run_at"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusDispatched JobStatus = "dispatched"
)

func CardJob(action JobAction, cardID string, retryCount int) Job {
	return Job{Action: action, CardID: cardID, RetryCount: retryCount}
}
