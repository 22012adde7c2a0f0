package llm

import (
	"strings"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

const maxPromptContent = 12000

const metadataFormat = `Return a strict JSON object with keys:
tags (array of 2 to 8 strings), summary (string).
No markdown, no extra keys.`

const textSystemPrompt = `You are an expert content analyzer. Generate relevant tags and a concise summary for the given content.

Guidelines:
- Tags should be 5-6 specific, relevant keywords, each 1-2 words maximum
- Summary should be 1-2 sentences that capture the essence
- Focus on the main topics, themes, and key information
- Use clear, searchable language

` + metadataFormat

const linkSystemPrompt = `You are an expert web content analyzer. Generate relevant tags and a concise summary for the given web page content.

Guidelines:
- Tags should be 5-6 keywords capturing main topics, categories, and key concepts, each 1-2 words maximum
- Include relevant technology, industry, or topic tags where applicable
- Summary should be 1-2 sentences capturing the essence and value of the content
- Consider the source, author, and context when available

` + metadataFormat

const imageSystemPrompt = `You are an expert image analyzer. Generate relevant tags and a concise summary for the given image.

Guidelines:
- Tags should be 5-6 keywords describing objects, scenes, concepts, emotions, each 1-2 words maximum
- Summary should be 1-2 sentences describing what the image shows
- Focus on the main visual elements and context

` + metadataFormat

const imageUserPrompt = "Analyze this image and generate tags and summary:"

func systemPromptFor(kind domain.AnalysisKind) string {
	if kind == domain.AnalysisLink {
		return linkSystemPrompt
	}
	return textSystemPrompt
}

func buildTextPrompt(req domain.TextAnalysisRequest) string {
	content := truncateRunes(strings.TrimSpace(req.Content), maxPromptContent)
	if req.Kind != domain.AnalysisLink {
		return "Analyze this content and generate tags and summary:\n\n" + content
	}

	var b strings.Builder
	b.WriteString("Analyze this web page content and generate optimized tags and summary for knowledge management:\n\n")
	b.WriteString(content)
	if url := strings.TrimSpace(req.URL); url != "" {
		b.WriteString("\n\nURL: ")
		b.WriteString(url)
	}
	b.WriteString("\n\nGenerate tags and summary that will help the user rediscover and understand the value of this content.")
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
