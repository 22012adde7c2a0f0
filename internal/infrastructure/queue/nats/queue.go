package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

const (
	queueGroup = "workers"

	defaultDrainTimeout = 30 * time.Second
	drainPollInterval   = 50 * time.Millisecond
)

var errDrainTimeout = errors.New("nats drain timed out with jobs still pending")

type publisher interface {
	Publish(subject string, data []byte) error
}

type Queue struct {
	conn     *nats.Conn
	pub      publisher
	subject  string
	executor *resilience.Executor

	drainTimeout time.Duration
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	// DrainTimeout bounds how long shutdown waits for in-flight and buffered jobs.
	DrainTimeout time.Duration
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	drainTimeout := options.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("card-enricher"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:         conn,
		pub:          conn,
		subject:      subject,
		executor:     options.ResilienceExecutor,
		drainTimeout: drainTimeout,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishJob(ctx context.Context, job domain.Job) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := q.pub.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return publishFailure(job, err)
}

// SubscribeJobs blocks until ctx is done, then drains the subscription and
// returns only after every in-flight and buffered job has been handled (or the
// drain timeout passes). Dispatched jobs are not redelivered, so handlers get a
// context that outlives the shutdown signal.
func (q *Queue) SubscribeJobs(ctx context.Context, handler func(context.Context, domain.Job) error) error {
	handlerCtx := context.WithoutCancel(ctx)
	sub, err := q.conn.QueueSubscribe(q.subject, queueGroup, func(msg *nats.Msg) {
		deliver(handlerCtx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	pending, _, _ := sub.Pending()
	slog.Info("nats_drain_started", "subject", q.subject, "pending", pending)
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := waitDrained(sub, q.drainTimeout); err != nil {
		return err
	}
	slog.Info("nats_drain_completed", "subject", q.subject)
	return nil
}

type drainable interface {
	IsDraining() bool
}

// waitDrained polls until the subscription leaves the draining state.
// nats.go clears the flag only after the last pending callback has returned.
func waitDrained(sub drainable, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for sub.IsDraining() {
		select {
		case <-deadline.C:
			return errDrainTimeout
		case <-ticker.C:
		}
	}
	return nil
}

func deliver(ctx context.Context, data []byte, handler func(context.Context, domain.Job) error) {
	job, err := DecodeJob(data)
	if err != nil {
		slog.Error("job_message_invalid", "error", err, "payload_bytes", len(data))
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, job); err != nil {
		slog.Error("job_handler_failed",
			"job_id", job.ID,
			"action", string(job.Action),
			"card_id", job.CardID,
			"error", err,
		)
	}
}

func EncodeJob(job domain.Job) ([]byte, error) {
	if !job.Action.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode job", fmt.Errorf("unknown action %q", job.Action))
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return payload, nil
}

func DecodeJob(data []byte) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.Job{}, domain.WrapError(domain.ErrInvalidInput, "decode job", err)
	}
	if !job.Action.Valid() {
		return domain.Job{}, domain.WrapError(domain.ErrInvalidInput, "decode job", fmt.Errorf("unknown action %q", job.Action))
	}
	return job, nil
}
