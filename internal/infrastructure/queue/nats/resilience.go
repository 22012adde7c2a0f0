package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
)

var (
	// A job that cannot be encoded onto the subject never will be.
	jobRejected = resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	// The broker is unreachable or slow; the dispatcher keeps the job claimed meanwhile.
	brokerDown = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
)

var jobPublishErrors = []struct {
	sentinels []error
	class     resilience.ErrorClassification
}{
	{
		sentinels: []error{nats.ErrMaxPayload, nats.ErrBadSubject, nats.ErrInvalidMsg},
		class:     jobRejected,
	},
	{
		sentinels: []error{
			nats.ErrNoServers,
			nats.ErrTimeout,
			nats.ErrConnectionClosed,
			nats.ErrConnectionDraining,
			nats.ErrDisconnected,
			nats.ErrReconnectBufExceeded,
			nats.ErrStaleConnection,
		},
		class: brokerDown,
	},
}

func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return brokerDown
	}
	for _, group := range jobPublishErrors {
		for _, sentinel := range group.sentinels {
			if errors.Is(err, sentinel) {
				return group.class
			}
		}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// publishFailure marks broker outages as ErrTemporary so the dispatcher
// releases the job for a later attempt; unpublishable jobs become ErrInvalidInput.
func publishFailure(job domain.Job, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	op := "publish " + string(job.Action)
	switch class := classifyNATSError(err); {
	case class.Retryable:
		return domain.WrapError(domain.ErrTemporary, op, err)
	case class == jobRejected:
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	return err
}
