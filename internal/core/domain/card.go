package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CardType is immutable after creation and drives which stages apply.
type CardType string

const (
	CardTypeText     CardType = "text"
	CardTypeLink     CardType = "link"
	CardTypeImage    CardType = "image"
	CardTypeVideo    CardType = "video"
	CardTypeAudio    CardType = "audio"
	CardTypeDocument CardType = "document"
	CardTypePalette  CardType = "palette"
	CardTypeQuote    CardType = "quote"
)

var CardTypes = []CardType{
	CardTypeText,
	CardTypeLink,
	CardTypeImage,
	CardTypeVideo,
	CardTypeAudio,
	CardTypeDocument,
	CardTypePalette,
	CardTypeQuote,
}

func ParseCardType(raw string) (CardType, error) {
	t := CardType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown card type %q", ErrInvalidInput, raw)
	}
	return t, nil
}

func (t CardType) Valid() bool {
	for _, known := range CardTypes {
		if t == known {
			return true
		}
	}
	return false
}

type MetadataStatus string

const (
	MetadataStatusPending   MetadataStatus = "pending"
	MetadataStatusCompleted MetadataStatus = "completed"
	MetadataStatusFailed    MetadataStatus = "failed"
)

// FileMetadata is populated by the renderables stage.
type FileMetadata struct {
	FileName string  `json:"file_name,omitempty"`
	FileSize int64   `json:"file_size,omitempty"`
	MimeType string  `json:"mime_type,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type AIModelMeta struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
}

type PaletteColor struct {
	Hex  string `json:"hex"`
	Name string `json:"name,omitempty"`
}

// LinkMetadata keeps the raw unfurl payload next to the normalized fields.
type LinkMetadata struct {
	LinkTitle       string          `json:"link_title,omitempty"`
	LinkDescription string          `json:"link_description,omitempty"`
	LinkImage       string          `json:"link_image,omitempty"`
	LinkFavicon     string          `json:"link_favicon,omitempty"`
	LinkAuthor      string          `json:"link_author,omitempty"`
	LinkPublisher   string          `json:"link_publisher,omitempty"`
	LinkPublishedAt string          `json:"link_published_at,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`

	LinkCategory *LinkCategoryMetadata `json:"link_category,omitempty"`
}

type Card struct {
	ID     string   `json:"id"`
	UserID string   `json:"user_id"`
	Type   CardType `json:"type"`

	Content      string         `json:"content,omitempty"`
	URL          string         `json:"url,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	FileID       string         `json:"file_id,omitempty"`
	ThumbnailID  string         `json:"thumbnail_id,omitempty"`
	FileMetadata *FileMetadata  `json:"file_metadata,omitempty"`
	Colors       []PaletteColor `json:"colors,omitempty"`

	AITags        []string     `json:"ai_tags,omitempty"`
	AISummary     string       `json:"ai_summary,omitempty"`
	AITranscript  string       `json:"ai_transcript,omitempty"`
	AIGeneratedAt *time.Time   `json:"ai_generated_at,omitempty"`
	AIModelMeta   *AIModelMeta `json:"ai_model_meta,omitempty"`

	Metadata            *LinkMetadata  `json:"metadata,omitempty"`
	MetadataStatus      MetadataStatus `json:"metadata_status,omitempty"`
	MetadataTitle       string         `json:"metadata_title,omitempty"`
	MetadataDescription string         `json:"metadata_description,omitempty"`

	ProcessingStatus ProcessingStatus `json:"processing_status,omitempty"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FileName falls back to an empty string when no file metadata was recorded.
func (c *Card) FileName() string {
	if c.FileMetadata == nil {
		return ""
	}
	return c.FileMetadata.FileName
}

func (c *Card) MimeType() string {
	if c.FileMetadata == nil {
		return ""
	}
	return c.FileMetadata.MimeType
}

func (c *Card) FileSize() int64 {
	if c.FileMetadata == nil {
		return 0
	}
	return c.FileMetadata.FileSize
}

// HasAIMetadata reports whether the AI stage stamped the card.
func (c *Card) HasAIMetadata() bool {
	return c.AIGeneratedAt != nil
}

// CardPatch is a single-document partial update. Nil fields are left untouched.
type CardPatch struct {
	ThumbnailID  *string
	FileMetadata *FileMetadata
	Colors       []PaletteColor

	AITags        []string
	AISummary     *string
	AITranscript  *string
	AIGeneratedAt *time.Time
	AIModelMeta   *AIModelMeta
	// ClearAI resets every AI field before the other AI fields are applied.
	ClearAI bool

	Metadata            *LinkMetadata
	MetadataStatus      *MetadataStatus
	MetadataTitle       *string
	MetadataDescription *string

	// ProcessingStatus replaces the whole map; Stages replaces single entries.
	ProcessingStatus ProcessingStatus
	Stages           map[Stage]StageStatus
}

func (p CardPatch) IsEmpty() bool {
	return p.ThumbnailID == nil &&
		p.FileMetadata == nil &&
		p.Colors == nil &&
		p.AITags == nil &&
		p.AISummary == nil &&
		p.AITranscript == nil &&
		p.AIGeneratedAt == nil &&
		p.AIModelMeta == nil &&
		!p.ClearAI &&
		p.Metadata == nil &&
		p.MetadataStatus == nil &&
		p.MetadataTitle == nil &&
		p.MetadataDescription == nil &&
		p.ProcessingStatus == nil &&
		len(p.Stages) == 0
}

// StagePatch is a patch that only replaces one stage entry.
func StagePatch(stage Stage, status StageStatus) CardPatch {
	return CardPatch{Stages: map[Stage]StageStatus{stage: status}}
}

// Apply mirrors what the store does with a patch; used by in-memory fakes and previews.
func (c *Card) Apply(p CardPatch) {
	if p.ThumbnailID != nil {
		c.ThumbnailID = *p.ThumbnailID
	}
	if p.FileMetadata != nil {
		fm := *p.FileMetadata
		c.FileMetadata = &fm
	}
	if p.Colors != nil {
		c.Colors = append([]PaletteColor(nil), p.Colors...)
	}
	if p.ClearAI {
		c.AITags = nil
		c.AISummary = ""
		c.AITranscript = ""
		c.AIGeneratedAt = nil
		c.AIModelMeta = nil
	}
	if p.AITags != nil {
		c.AITags = append([]string(nil), p.AITags...)
	}
	if p.AISummary != nil {
		c.AISummary = *p.AISummary
	}
	if p.AITranscript != nil {
		c.AITranscript = *p.AITranscript
	}
	if p.AIGeneratedAt != nil {
		at := *p.AIGeneratedAt
		c.AIGeneratedAt = &at
	}
	if p.AIModelMeta != nil {
		meta := *p.AIModelMeta
		c.AIModelMeta = &meta
	}
	if p.Metadata != nil {
		md := *p.Metadata
		c.Metadata = &md
	}
	if p.MetadataStatus != nil {
		c.MetadataStatus = *p.MetadataStatus
	}
	if p.MetadataTitle != nil {
		c.MetadataTitle = *p.MetadataTitle
	}
	if p.MetadataDescription != nil {
		c.MetadataDescription = *p.MetadataDescription
	}
	if p.ProcessingStatus != nil {
		c.ProcessingStatus = p.ProcessingStatus.Clone()
	}
	for stage, status := range p.Stages {
		c.ProcessingStatus = WithStageStatus(c.ProcessingStatus, stage, status)
	}
}

func Ptr[T any](v T) *T {
	return &v
}
