package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

// claimLease is how long a claimed job stays invisible before another dispatcher may take it.
const claimLease = 30 * time.Second

// JobRepository is the durable store behind the scheduler.
type JobRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *JobRepository) Enqueue(ctx context.Context, job domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = r.now()
	}
	if job.RunAt.IsZero() {
		job.RunAt = job.EnqueuedAt
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO scheduled_jobs (id, action, card_id, retry_count, cursor, chain, status, run_at, enqueued_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, job.ID, string(job.Action), job.CardID, job.RetryCount, job.Cursor, job.Chain,
		string(domain.JobStatusPending), job.RunAt, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimDue leases up to limit due jobs. Rows locked by a concurrent claimer are skipped.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
UPDATE scheduled_jobs
SET run_at = $3, attempts = attempts + 1
WHERE id IN (
	SELECT id FROM scheduled_jobs
	WHERE status = $1 AND run_at <= $2
	ORDER BY run_at
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
RETURNING id, action, card_id, retry_count, cursor, chain, run_at, enqueued_at
`, string(domain.JobStatusPending), now, now.Add(claimLease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (r *JobRepository) MarkDispatched(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE scheduled_jobs
SET status = $2, dispatched_at = $3, last_error = ''
WHERE id = $1
`, id, string(domain.JobStatusDispatched), r.now())
	if err != nil {
		return fmt.Errorf("mark job dispatched: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark job dispatched rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job not found: id=%s", id)
	}
	return nil
}

// Release returns a claimed job to the pending set to be retried at runAt.
func (r *JobRepository) Release(ctx context.Context, id string, runAt time.Time, errMessage string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE scheduled_jobs
SET run_at = $2, last_error = $3
WHERE id = $1 AND status = $4
`, id, runAt, errMessage, string(domain.JobStatusPending))
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

func (r *JobRepository) PurgeDispatched(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM scheduled_jobs
WHERE status = $1 AND dispatched_at < $2
`, string(domain.JobStatusDispatched), before)
	if err != nil {
		return 0, fmt.Errorf("purge dispatched jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge dispatched rows affected: %w", err)
	}
	return n, nil
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var action string
	err := row.Scan(
		&job.ID,
		&action,
		&job.CardID,
		&job.RetryCount,
		&job.Cursor,
		&job.Chain,
		&job.RunAt,
		&job.EnqueuedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.Action = domain.JobAction(action)
	return job, nil
}
