package domain

import (
	"encoding/json"
	"strings"
)

// UnfurlResult is a successful unfurl response mapped to flat fields.
type UnfurlResult struct {
	Title       string
	Description string
	ImageURL    string
	LogoURL     string
	Author      string
	Publisher   string
	PublishedAt string
	Raw         json.RawMessage
}

func (r UnfurlResult) LinkMetadata() LinkMetadata {
	return LinkMetadata{
		LinkTitle:       r.Title,
		LinkDescription: r.Description,
		LinkImage:       r.ImageURL,
		LinkFavicon:     r.LogoURL,
		LinkAuthor:      r.Author,
		LinkPublisher:   r.Publisher,
		LinkPublishedAt: r.PublishedAt,
		Raw:             r.Raw,
	}
}

// NormalizeURL prepends https:// when the url carries no http(s) scheme.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return trimmed
	}
	return "https://" + trimmed
}
