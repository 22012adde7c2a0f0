package domain

import (
	"testing"
	"time"
)

func TestResolveLinkCategory(t *testing.T) {
	cases := []struct {
		name       string
		url        string
		title      string
		category   LinkCategory
		confidence float64
		provider   string
	}{
		{"known domain", "https://github.com/acme/tool", "", LinkCategorySoftware, ConfidenceDomain, "github"},
		{"subdomain of known domain", "https://gist.github.com/x", "", LinkCategorySoftware, ConfidenceDomain, "github"},
		{"www stripped", "www.imdb.com/title/tt1", "", LinkCategoryMovie, ConfidenceDomain, "imdb"},
		{"spotify episode path", "https://open.spotify.com/episode/abc", "", LinkCategoryPodcast, 0.9, "spotify"},
		{"spotify track", "https://open.spotify.com/track/abc", "", LinkCategoryMusic, ConfidenceDomain, "spotify"},
		{"apex match", "https://blog.substack.com/p/x", "", LinkCategoryArticle, ConfidenceDomain, "substack"},
		{"path keyword", "https://cooking.example/recipes/soup", "", LinkCategoryRecipe, ConfidencePath, "cooking.example"},
		{"provider hint", "https://artist.bandcamp.example/", "", LinkCategoryMusic, ConfidenceProvider, "artist.bandcamp.example"},
		{"title heuristic", "https://example.org/a/1", "Company press release", LinkCategoryNews, ConfidenceHeuristic, "example.org"},
		{"fallback", "https://example.org/a/1", "", LinkCategoryOther, ConfidenceFallback, "example.org"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveLinkCategory(tc.url, "", tc.title)
			if got.Category != tc.category || got.Confidence != tc.confidence || got.Provider != tc.provider {
				t.Fatalf("ResolveLinkCategory(%q) = %+v", tc.url, got)
			}
		})
	}
}

func TestCanonicalLinkURL(t *testing.T) {
	got := CanonicalLinkURL("example.com/post/?utm_source=x&fbclid=1&id=7#top")
	if got != "https://example.com/post?id=7" {
		t.Fatalf("CanonicalLinkURL() = %q", got)
	}
}

func TestLinkCategoryFresh(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	m := &LinkCategoryMetadata{SourceURL: "https://a.test", FetchedAt: now.Add(-29 * 24 * time.Hour)}
	if !m.Fresh("https://a.test", now) {
		t.Fatalf("expected fresh within ttl")
	}
	if m.Fresh("https://b.test", now) {
		t.Fatalf("different source url must not be fresh")
	}
	if m.Fresh("https://a.test", now.Add(48*time.Hour)) {
		t.Fatalf("expected stale after ttl")
	}
	var missing *LinkCategoryMetadata
	if missing.Fresh("https://a.test", now) {
		t.Fatalf("nil metadata is never fresh")
	}
}
