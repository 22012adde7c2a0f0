package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

const cardsTable = "cards"

var cardColumns = []string{
	"id", "user_id", "type", "content", "url", "notes", "file_id", "thumbnail_id", "file_metadata", "colors",
	"ai_tags", "ai_summary", "ai_transcript", "ai_generated_at", "ai_model_meta",
	"metadata", "metadata_status", "metadata_title", "metadata_description",
	"processing_status", "is_deleted", "deleted_at", "created_at", "updated_at",
}

type CardRepository struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

func NewCardRepository(db *sql.DB) *CardRepository {
	return &CardRepository{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the cards and scheduled_jobs tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS cards (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	file_id TEXT NOT NULL DEFAULT '',
	thumbnail_id TEXT NOT NULL DEFAULT '',
	file_metadata JSONB,
	colors JSONB,
	ai_tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	ai_summary TEXT NOT NULL DEFAULT '',
	ai_transcript TEXT NOT NULL DEFAULT '',
	ai_generated_at TIMESTAMPTZ,
	ai_model_meta JSONB,
	metadata JSONB,
	metadata_status TEXT NOT NULL DEFAULT '',
	metadata_title TEXT NOT NULL DEFAULT '',
	metadata_description TEXT NOT NULL DEFAULT '',
	processing_status JSONB NOT NULL DEFAULT '{}'::jsonb,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cards_created_at ON cards(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cards_deleted ON cards(deleted_at) WHERE is_deleted;
CREATE INDEX IF NOT EXISTS idx_cards_missing_ai ON cards(created_at) WHERE ai_generated_at IS NULL AND NOT is_deleted;
CREATE INDEX IF NOT EXISTS idx_cards_links ON cards(id) WHERE type = 'link' AND NOT is_deleted;

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id TEXT PRIMARY KEY,
	action TEXT NOT NULL,
	card_id TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	cursor TEXT NOT NULL DEFAULT '',
	chain BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	run_at TIMESTAMPTZ NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL,
	dispatched_at TIMESTAMPTZ,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_due ON scheduled_jobs(run_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_dispatched ON scheduled_jobs(dispatched_at) WHERE status = 'dispatched';
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *CardRepository) Create(ctx context.Context, card *domain.Card) error {
	values, err := cardValues(card)
	if err != nil {
		return err
	}
	query, args, err := r.sb.Insert(cardsTable).Columns(cardColumns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert card: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (r *CardRepository) GetByID(ctx context.Context, id string) (*domain.Card, error) {
	query, args, err := r.sb.Select(cardColumns...).From(cardsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select card: %w", err)
	}

	card, err := scanCard(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrCardNotFound, "get card", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan card: %w", err)
	}
	return &card, nil
}

// Patch applies a partial update in one statement. Stage entries are merged
// with jsonb_set so stages patched concurrently do not overwrite each other.
func (r *CardRepository) Patch(ctx context.Context, id string, patch domain.CardPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	set, err := patchAssignments(patch)
	if err != nil {
		return err
	}
	set.put("updated_at", r.now())

	update := r.sb.Update(cardsTable).Where(sq.Eq{"id": id})
	for _, col := range set.cols {
		update = update.Set(col, set.vals[col])
	}

	query, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("build patch card: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("patch card: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("patch card rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrCardNotFound, "patch card", fmt.Errorf("id=%s", id))
	}
	return nil
}

func (r *CardRepository) Delete(ctx context.Context, id string) error {
	query, args, err := r.sb.Delete(cardsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete card: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return nil
}

func (r *CardRepository) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Card, error) {
	return r.listCards(ctx, r.sb.Select(cardColumns...).
		From(cardsTable).
		Where(sq.Eq{"is_deleted": true}).
		Where(sq.Lt{"deleted_at": cutoff}).
		OrderBy("deleted_at").
		Limit(uint64(limit)))
}

func (r *CardRepository) ListRecent(ctx context.Context, limit int) ([]domain.Card, error) {
	return r.listCards(ctx, r.sb.Select(cardColumns...).
		From(cardsTable).
		Where(sq.Eq{"is_deleted": false}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)))
}

func (r *CardRepository) ListMissingAI(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	return r.listIDs(ctx, r.sb.Select("id").
		From(cardsTable).
		Where(sq.Eq{"is_deleted": false, "ai_generated_at": nil}).
		Where(sq.Lt{"created_at": createdBefore}).
		OrderBy("created_at").
		Limit(uint64(limit)))
}

// ListLinksMissingMetadata pages link cards without a raw unfurl payload in id order.
func (r *CardRepository) ListLinksMissingMetadata(ctx context.Context, afterID string, limit int) ([]string, error) {
	q := r.sb.Select("id").
		From(cardsTable).
		Where(sq.Eq{"type": string(domain.CardTypeLink), "is_deleted": false}).
		Where(sq.Expr("(metadata IS NULL OR metadata->'raw' IS NULL)"))
	if afterID != "" {
		q = q.Where(sq.Gt{"id": afterID})
	}
	return r.listIDs(ctx, q.OrderBy("id").Limit(uint64(limit)))
}

func (r *CardRepository) listCards(ctx context.Context, q sq.SelectBuilder) ([]domain.Card, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list cards: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return out, nil
}

func (r *CardRepository) listIDs(ctx context.Context, q sq.SelectBuilder) ([]string, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list ids: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list card ids: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan card id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate card ids: %w", err)
	}
	return out, nil
}

// assignments keeps SET clauses in first-write order so later writes override earlier ones.
type assignments struct {
	cols []string
	vals map[string]any
}

func (a *assignments) put(col string, v any) {
	if a.vals == nil {
		a.vals = map[string]any{}
	}
	if _, ok := a.vals[col]; !ok {
		a.cols = append(a.cols, col)
	}
	a.vals[col] = v
}

func patchAssignments(p domain.CardPatch) (*assignments, error) {
	set := &assignments{}

	if p.ThumbnailID != nil {
		set.put("thumbnail_id", *p.ThumbnailID)
	}
	if p.FileMetadata != nil {
		raw, err := json.Marshal(p.FileMetadata)
		if err != nil {
			return nil, fmt.Errorf("marshal file metadata: %w", err)
		}
		set.put("file_metadata", raw)
	}
	if p.Colors != nil {
		raw, err := json.Marshal(p.Colors)
		if err != nil {
			return nil, fmt.Errorf("marshal colors: %w", err)
		}
		set.put("colors", raw)
	}

	if p.ClearAI {
		set.put("ai_tags", []byte("[]"))
		set.put("ai_summary", "")
		set.put("ai_transcript", "")
		set.put("ai_generated_at", nil)
		set.put("ai_model_meta", nil)
	}
	if p.AITags != nil {
		raw, err := json.Marshal(p.AITags)
		if err != nil {
			return nil, fmt.Errorf("marshal ai tags: %w", err)
		}
		set.put("ai_tags", raw)
	}
	if p.AISummary != nil {
		set.put("ai_summary", *p.AISummary)
	}
	if p.AITranscript != nil {
		set.put("ai_transcript", *p.AITranscript)
	}
	if p.AIGeneratedAt != nil {
		set.put("ai_generated_at", *p.AIGeneratedAt)
	}
	if p.AIModelMeta != nil {
		raw, err := json.Marshal(p.AIModelMeta)
		if err != nil {
			return nil, fmt.Errorf("marshal ai model meta: %w", err)
		}
		set.put("ai_model_meta", raw)
	}

	if p.Metadata != nil {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal link metadata: %w", err)
		}
		set.put("metadata", raw)
	}
	if p.MetadataStatus != nil {
		set.put("metadata_status", string(*p.MetadataStatus))
	}
	if p.MetadataTitle != nil {
		set.put("metadata_title", *p.MetadataTitle)
	}
	if p.MetadataDescription != nil {
		set.put("metadata_description", *p.MetadataDescription)
	}

	switch {
	case p.ProcessingStatus != nil:
		status := p.ProcessingStatus.Clone()
		for stage, s := range p.Stages {
			status[stage] = s
		}
		raw, err := json.Marshal(status)
		if err != nil {
			return nil, fmt.Errorf("marshal processing status: %w", err)
		}
		set.put("processing_status", raw)
	case len(p.Stages) > 0:
		expr, err := stageMergeExpr(p.Stages)
		if err != nil {
			return nil, err
		}
		set.put("processing_status", expr)
	}
	return set, nil
}

// stageMergeExpr nests one jsonb_set per stage, in stage-name order.
func stageMergeExpr(stages map[domain.Stage]domain.StageStatus) (sq.Sqlizer, error) {
	names := make([]string, 0, len(stages))
	for stage := range stages {
		names = append(names, string(stage))
	}
	sort.Strings(names)

	sqlText := "COALESCE(processing_status, '{}'::jsonb)"
	args := make([]any, 0, len(names)*2)
	for _, name := range names {
		raw, err := json.Marshal(stages[domain.Stage(name)])
		if err != nil {
			return nil, fmt.Errorf("marshal stage %s: %w", name, err)
		}
		sqlText = "jsonb_set(" + sqlText + ", ARRAY[?::text], ?::jsonb, true)"
		args = append(args, name, string(raw))
	}
	return sq.Expr(sqlText, args...), nil
}

func cardValues(c *domain.Card) ([]any, error) {
	fileMeta, err := nullableJSON(c.FileMetadata != nil, c.FileMetadata)
	if err != nil {
		return nil, fmt.Errorf("marshal file metadata: %w", err)
	}
	colors, err := nullableJSON(len(c.Colors) > 0, c.Colors)
	if err != nil {
		return nil, fmt.Errorf("marshal colors: %w", err)
	}
	tags := c.AITags
	if tags == nil {
		tags = []string{}
	}
	tagsRaw, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal ai tags: %w", err)
	}
	modelMeta, err := nullableJSON(c.AIModelMeta != nil, c.AIModelMeta)
	if err != nil {
		return nil, fmt.Errorf("marshal ai model meta: %w", err)
	}
	metadata, err := nullableJSON(c.Metadata != nil, c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal link metadata: %w", err)
	}
	status := c.ProcessingStatus
	if status == nil {
		status = domain.ProcessingStatus{}
	}
	statusRaw, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("marshal processing status: %w", err)
	}

	return []any{
		c.ID, c.UserID, string(c.Type), c.Content, c.URL, c.Notes, c.FileID, c.ThumbnailID, fileMeta, colors,
		tagsRaw, c.AISummary, c.AITranscript, c.AIGeneratedAt, modelMeta,
		metadata, string(c.MetadataStatus), c.MetadataTitle, c.MetadataDescription,
		statusRaw, c.IsDeleted, c.DeletedAt, c.CreatedAt, c.UpdatedAt,
	}, nil
}

func nullableJSON(present bool, v any) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCard(row rowScanner) (domain.Card, error) {
	var card domain.Card
	var cardType, metadataStatus string
	var fileMetaRaw, colorsRaw, tagsRaw, modelMetaRaw, metadataRaw, statusRaw []byte

	err := row.Scan(
		&card.ID, &card.UserID, &cardType, &card.Content, &card.URL, &card.Notes, &card.FileID, &card.ThumbnailID,
		&fileMetaRaw, &colorsRaw,
		&tagsRaw, &card.AISummary, &card.AITranscript, &card.AIGeneratedAt, &modelMetaRaw,
		&metadataRaw, &metadataStatus, &card.MetadataTitle, &card.MetadataDescription,
		&statusRaw, &card.IsDeleted, &card.DeletedAt, &card.CreatedAt, &card.UpdatedAt,
	)
	if err != nil {
		return domain.Card{}, err
	}
	card.Type = domain.CardType(cardType)
	card.MetadataStatus = domain.MetadataStatus(metadataStatus)

	decoders := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"file_metadata", fileMetaRaw, &card.FileMetadata},
		{"colors", colorsRaw, &card.Colors},
		{"ai_tags", tagsRaw, &card.AITags},
		{"ai_model_meta", modelMetaRaw, &card.AIModelMeta},
		{"metadata", metadataRaw, &card.Metadata},
		{"processing_status", statusRaw, &card.ProcessingStatus},
	}
	for _, d := range decoders {
		if len(d.raw) == 0 || strings.TrimSpace(string(d.raw)) == "null" {
			continue
		}
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return domain.Card{}, fmt.Errorf("unmarshal %s: %w", d.name, err)
		}
	}
	if len(card.AITags) == 0 {
		card.AITags = nil
	}
	return card, nil
}
