package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

func TestJobRepositoryEnqueueAssignsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db)
	runAt := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	mock.ExpectExec("INSERT INTO scheduled_jobs").
		WithArgs(sqlmock.AnyArg(), "stage.metadata", "c-1", 1, "", false, "pending", runAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := domain.Job{Action: domain.JobAIMetadata, CardID: "c-1", RetryCount: 1, RunAt: runAt}
	if err := repo.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryClaimDueLeasesRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "action", "card_id", "retry_count", "cursor", "chain", "run_at", "enqueued_at"}).
		AddRow("j-1", "link.metadata", "c-1", 0, "", true, now.Add(claimLease), now).
		AddRow("j-2", "backfill.links", "", 0, "c-9", false, now.Add(claimLease), now)

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs("pending", now, now.Add(claimLease), 20).
		WillReturnRows(rows)

	jobs, err := repo.ClaimDue(context.Background(), now, 20)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Action != domain.JobLinkMetadata || !jobs[0].Chain || jobs[1].Cursor != "c-9" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryMarkDispatchedReturnsErrorWhenNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db)
	mock.ExpectExec("UPDATE scheduled_jobs").
		WithArgs("missing", "dispatched", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkDispatched(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryPurgeDispatched(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db)
	before := time.Date(2024, 4, 24, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM scheduled_jobs").
		WithArgs("dispatched", before).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.PurgeDispatched(context.Background(), before)
	if err != nil {
		t.Fatalf("PurgeDispatched() error = %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 purged rows, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
