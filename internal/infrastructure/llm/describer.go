package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
)

var errEmptyCompletion = errors.New("llm returned an empty completion")

// Describer turns card content into tags and a summary through eino chat models.
type Describer struct {
	text     model.BaseChatModel
	vision   model.BaseChatModel
	meta     domain.AIModelMeta
	executor *resilience.Executor
}

func NewDescriber(text, vision model.BaseChatModel, meta domain.AIModelMeta, executor *resilience.Executor) *Describer {
	if vision == nil {
		vision = text
	}
	return &Describer{text: text, vision: vision, meta: meta, executor: executor}
}

func (d *Describer) ModelMeta() domain.AIModelMeta {
	return d.meta
}

func (d *Describer) DescribeText(ctx context.Context, req domain.TextAnalysisRequest) (domain.AIMetadata, error) {
	if strings.TrimSpace(req.Content) == "" {
		return domain.AIMetadata{}, domain.WrapError(domain.ErrNoContent, "llm describe text", errors.New("empty content"))
	}
	messages := []*schema.Message{
		schema.SystemMessage(systemPromptFor(req.Kind)),
		schema.UserMessage(buildTextPrompt(req)),
	}
	return d.describe(ctx, d.text, "llm.describe_text", messages)
}

func (d *Describer) DescribeImage(ctx context.Context, imageURL string) (domain.AIMetadata, error) {
	if strings.TrimSpace(imageURL) == "" {
		return domain.AIMetadata{}, domain.WrapError(domain.ErrInvalidInput, "llm describe image", errors.New("empty image url"))
	}
	messages := []*schema.Message{
		schema.SystemMessage(imageSystemPrompt),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: imageUserPrompt},
				{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: imageURL}},
			},
		},
	}
	return d.describe(ctx, d.vision, "llm.describe_image", messages)
}

func (d *Describer) describe(ctx context.Context, chat model.BaseChatModel, operation string, messages []*schema.Message) (domain.AIMetadata, error) {
	var meta domain.AIMetadata
	call := func(callCtx context.Context) error {
		resp, err := chat.Generate(callCtx, messages)
		if err != nil {
			return err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return errEmptyCompletion
		}
		meta, err = parseMetadata(resp.Content)
		return err
	}

	var err error
	if d.executor != nil {
		err = d.executor.Execute(ctx, operation, call, classifyLLMError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.AIMetadata{}, wrapTemporaryIfNeeded(operation, err)
	}
	return meta, nil
}
