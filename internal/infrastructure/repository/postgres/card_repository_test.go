package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

func newCardRepoWithMock(t *testing.T) (*CardRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	repo := NewCardRepository(db)
	repo.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return repo, mock, func() { _ = db.Close() }
}

func TestGetByIDReturnsCardNotFound(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, user_id, type").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDDecodesJSONColumns(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	created := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(cardColumns).AddRow(
		"c1", "u1", "link", "", "https://example.com", "", "", "",
		nil, nil,
		[]byte(`["go","rust"]`), "summary", "", created, []byte(`{"provider":"openai","model":"m","version":"1","generated_at":"2024-04-01T10:00:00Z"}`),
		[]byte(`{"link_title":"Example","raw":{"title":"Example"}}`), "completed", "Example", "",
		[]byte(`{"metadata":{"status":"completed","confidence":0.9}}`), false, nil, created, created,
	)
	mock.ExpectQuery("FROM cards").WithArgs("c1").WillReturnRows(rows)

	card, err := repo.GetByID(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if card.Type != domain.CardTypeLink || card.MetadataStatus != domain.MetadataStatusCompleted {
		t.Fatalf("unexpected card %+v", card)
	}
	if len(card.AITags) != 2 || card.AIModelMeta == nil || card.AIModelMeta.Provider != "openai" {
		t.Fatalf("unexpected ai fields %+v", card)
	}
	if card.Metadata == nil || card.Metadata.LinkTitle != "Example" || len(card.Metadata.Raw) == 0 {
		t.Fatalf("unexpected metadata %+v", card.Metadata)
	}
	if !card.ProcessingStatus.IsCompleted(domain.StageMetadata) {
		t.Fatalf("expected completed metadata stage, got %+v", card.ProcessingStatus)
	}
	if card.FileMetadata != nil || card.DeletedAt != nil {
		t.Fatalf("null columns should stay nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPatchMergesSingleStage(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	mock.ExpectExec(`UPDATE cards SET processing_status = jsonb_set\(COALESCE\(processing_status, '\{\}'::jsonb\), ARRAY\[\$1::text\], \$2::jsonb, true\), updated_at = \$3 WHERE id = \$4`).
		WithArgs("renderables", sqlmock.AnyArg(), repo.now(), "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	patch := domain.StagePatch(domain.StageRenderables, domain.StagePending())
	if err := repo.Patch(context.Background(), "c1", patch); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPatchClearAIIsOverriddenByNewValues(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE cards SET ai_tags = \\$1, ai_summary = \\$2, ai_transcript = \\$3, ai_generated_at = \\$4, ai_model_meta = \\$5, updated_at = \\$6 WHERE id = \\$7").
		WithArgs([]byte(`["x"]`), "new summary", "", nil, nil, repo.now(), "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	patch := domain.CardPatch{ClearAI: true, AITags: []string{"x"}, AISummary: domain.Ptr("new summary")}
	if err := repo.Patch(context.Background(), "c1", patch); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPatchStoresColorsAndLinkCategory(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	mock.ExpectExec(`UPDATE cards SET colors = \$1, metadata = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs(
			[]byte(`[{"hex":"#102030"}]`),
			[]byte(`{"link_title":"T","link_category":{"category":"book","confidence":0.98,"fetched_at":"2024-05-01T00:00:00Z"}}`),
			repo.now(), "c1",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	patch := domain.CardPatch{
		Colors: []domain.PaletteColor{{Hex: "#102030"}},
		Metadata: &domain.LinkMetadata{
			LinkTitle: "T",
			LinkCategory: &domain.LinkCategoryMetadata{
				Category:   domain.LinkCategoryBook,
				Confidence: domain.ConfidenceDomain,
				FetchedAt:  repo.now(),
			},
		},
	}
	if err := repo.Patch(context.Background(), "c1", patch); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPatchReturnsCardNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE cards").
		WithArgs("thumb-1", repo.now(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Patch(context.Background(), "missing", domain.CardPatch{ThumbnailID: domain.Ptr("thumb-1")})
	if !domain.IsKind(err, domain.ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPatchEmptyIsNoop(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	if err := repo.Patch(context.Background(), "c1", domain.CardPatch{}); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListLinksMissingMetadataPagesByID(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	mock.ExpectQuery(`SELECT id FROM cards WHERE .*metadata->'raw' IS NULL.*id > \$3 ORDER BY id LIMIT 25`).
		WithArgs(false, "link", "c-10").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c-11").AddRow("c-12"))

	ids, err := repo.ListLinksMissingMetadata(context.Background(), "c-10", 25)
	if err != nil {
		t.Fatalf("ListLinksMissingMetadata() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "c-11" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListMissingAIFiltersByCreation(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	before := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id FROM cards WHERE .*ai_generated_at IS NULL.*is_deleted = \$1.*created_at < \$2 ORDER BY created_at LIMIT 50`).
		WithArgs(false, before).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c-1"))

	ids, err := repo.ListMissingAI(context.Background(), before, 50)
	if err != nil {
		t.Fatalf("ListMissingAI() error = %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateInsertsAllColumns(t *testing.T) {
	repo, mock, done := newCardRepoWithMock(t)
	defer done()

	mock.ExpectExec(`INSERT INTO cards \(id,user_id,type,.*\) VALUES \(\$1,\$2,.*\$24\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	card := &domain.Card{ID: "c1", UserID: "u1", Type: domain.CardTypeText, Content: "hi"}
	if err := repo.Create(context.Background(), card); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
