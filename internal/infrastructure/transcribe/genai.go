package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"google.golang.org/genai"
)

const transcribeInstruction = "Transcribe this audio verbatim. Return only the transcript text."

type GenAI struct {
	client *genai.Client
	model  string
}

func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAI{client: client, model: model}, nil
}

func (g *GenAI) Transcribe(ctx context.Context, clip domain.AudioClip) (string, error) {
	mimeType := clip.MimeType
	if mimeType == "" {
		mimeType = "audio/" + domain.AudioExtension(mimeType)
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribeInstruction),
			genai.NewPartFromBytes(clip.Data, mimeType),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "genai transcribe", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
