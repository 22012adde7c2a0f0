package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/eino-contrib/jsonschema"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

const (
	minMetadataTags = 2
	maxMetadataTags = 8

	metadataSchemaName = "card_metadata"
)

// metadataSchemaJSON is sent as the structured-output contract to both providers.
const metadataSchemaJSON = `{
  "type": "object",
  "properties": {
    "tags": {
      "type": "array",
      "items": {"type": "string"},
      "minItems": 2,
      "maxItems": 8
    },
    "summary": {"type": "string"}
  },
  "required": ["tags", "summary"],
  "additionalProperties": false
}`

var errInvalidCompletion = errors.New("llm completion does not match metadata schema")

func metadataSchema() (*jsonschema.Schema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(metadataSchemaJSON), &s); err != nil {
		return nil, fmt.Errorf("decode metadata schema: %w", err)
	}
	return &s, nil
}

// parseMetadata decodes a completion and enforces the tag bounds of the schema.
func parseMetadata(raw string) (domain.AIMetadata, error) {
	var payload struct {
		Tags    []string `json:"tags"`
		Summary string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return domain.AIMetadata{}, fmt.Errorf("%w: %w", errInvalidCompletion, err)
	}

	tags := make([]string, 0, len(payload.Tags))
	for _, tag := range payload.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) < minMetadataTags {
		return domain.AIMetadata{}, fmt.Errorf("%w: got %d tags, want at least %d", errInvalidCompletion, len(tags), minMetadataTags)
	}
	if len(tags) > maxMetadataTags {
		tags = tags[:maxMetadataTags]
	}
	return domain.AIMetadata{Tags: tags, Summary: strings.TrimSpace(payload.Summary)}, nil
}
