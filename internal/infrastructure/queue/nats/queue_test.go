package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

type fakePublisher struct {
	errs     []error
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func TestEncodeDecodeJob(t *testing.T) {
	runAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	job := domain.Job{ID: "j1", Action: domain.JobLinkMetadata, CardID: "c1", RetryCount: 2, Chain: true, RunAt: runAt, EnqueuedAt: runAt}

	payload, err := EncodeJob(job)
	if err != nil {
		t.Fatalf("EncodeJob() error = %v", err)
	}
	got, err := DecodeJob(payload)
	if err != nil {
		t.Fatalf("DecodeJob() error = %v", err)
	}
	if got.ID != "j1" || got.Action != domain.JobLinkMetadata || got.CardID != "c1" || got.RetryCount != 2 || !got.Chain {
		t.Fatalf("decoded job = %+v", got)
	}
	if !got.RunAt.Equal(runAt) {
		t.Fatalf("run_at = %v, want %v", got.RunAt, runAt)
	}
}

func TestDecodeJobRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not json":       "card-1",
		"unknown action": `{"id":"j","action":"stage.explode","card_id":"c"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJob([]byte(payload))
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestPublishJobRetriesTransientErrors(t *testing.T) {
	pub := &fakePublisher{errs: []error{nats.ErrTimeout}}
	q := &Queue{
		pub:     pub,
		subject: "cards.jobs",
		executor: resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts:    3,
			RetryInitialBackoff: time.Millisecond,
			RetryMaxBackoff:     time.Millisecond,
			BreakerEnabled:      false,
		}),
	}

	if err := q.PublishJob(context.Background(), domain.CardJob(domain.JobAIMetadata, "c1", 0)); err != nil {
		t.Fatalf("PublishJob() error = %v", err)
	}
	if len(pub.payloads) != 2 {
		t.Fatalf("publish attempts = %d, want 2", len(pub.payloads))
	}
	if pub.subjects[1] != "cards.jobs" {
		t.Fatalf("subject = %q", pub.subjects[1])
	}
}

func TestPublishJobWrapsTemporaryFailures(t *testing.T) {
	pub := &fakePublisher{errs: []error{nats.ErrConnectionClosed}}
	q := &Queue{pub: pub, subject: "cards.jobs"}

	err := q.PublishJob(context.Background(), domain.CardJob(domain.JobRenderables, "c1", 0))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestPublishJobOversizedIsInvalidInput(t *testing.T) {
	pub := &fakePublisher{errs: []error{nats.ErrMaxPayload}}
	q := &Queue{pub: pub, subject: "cards.jobs"}

	err := q.PublishJob(context.Background(), domain.CardJob(domain.JobRenderables, "c1", 0))
	if !domain.IsKind(err, domain.ErrInvalidInput) || !errors.Is(err, nats.ErrMaxPayload) {
		t.Fatalf("expected invalid input wrapping max payload, got %v", err)
	}
}

func TestPublishJobRejectsUnknownAction(t *testing.T) {
	pub := &fakePublisher{}
	q := &Queue{pub: pub, subject: "cards.jobs"}

	err := q.PublishJob(context.Background(), domain.Job{Action: "nope"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if len(pub.payloads) != 0 {
		t.Fatalf("unexpected publish")
	}
}

func TestDeliverSkipsInvalidPayload(t *testing.T) {
	called := 0
	handler := func(context.Context, domain.Job) error {
		called++
		return fmt.Errorf("boom")
	}

	deliver(context.Background(), []byte("{"), handler)
	if called != 0 {
		t.Fatalf("handler called for invalid payload")
	}

	payload, _ := EncodeJob(domain.CardJob(domain.JobCategorize, "c9", 0))
	deliver(context.Background(), payload, handler)
	if called != 1 {
		t.Fatalf("handler calls = %d, want 1", called)
	}
}

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "timeout", err: nats.ErrTimeout, retryable: true, record: true},
		{name: "no servers", err: fmt.Errorf("wrap: %w", nats.ErrNoServers), retryable: true, record: true},
		{name: "max payload", err: nats.ErrMaxPayload, retryable: false, record: false},
		{name: "draining", err: nats.ErrConnectionDraining, retryable: true, record: true},
		{name: "canceled", err: context.Canceled, retryable: false, record: false},
		{name: "other", err: errors.New("boom"), retryable: false, record: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("classification = %+v", got)
			}
		})
	}
}
