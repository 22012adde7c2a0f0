package domain

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type LinkCategory string

const (
	LinkCategoryBook            LinkCategory = "book"
	LinkCategoryMovie           LinkCategory = "movie"
	LinkCategoryTV              LinkCategory = "tv"
	LinkCategoryArticle         LinkCategory = "article"
	LinkCategoryNews            LinkCategory = "news"
	LinkCategoryPodcast         LinkCategory = "podcast"
	LinkCategoryMusic           LinkCategory = "music"
	LinkCategoryProduct         LinkCategory = "product"
	LinkCategoryRecipe          LinkCategory = "recipe"
	LinkCategoryCourse          LinkCategory = "course"
	LinkCategoryResearch        LinkCategory = "research"
	LinkCategoryEvent           LinkCategory = "event"
	LinkCategorySoftware        LinkCategory = "software"
	LinkCategoryDesignPortfolio LinkCategory = "design_portfolio"
	LinkCategoryOther           LinkCategory = "other"
)

// Confidence per resolution source, strongest first.
const (
	ConfidenceDomain    = 0.98
	ConfidencePath      = 0.8
	ConfidenceProvider  = 0.72
	ConfidenceHeuristic = 0.58
	ConfidenceFallback  = 0.35
)

// LinkCategoryTTL bounds how long a stored category is reused for the same source url.
const LinkCategoryTTL = 30 * 24 * time.Hour

type LinkCategoryFact struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// LinkCategoryMetadata is stored under the link metadata of a card.
type LinkCategoryMetadata struct {
	Category         LinkCategory       `json:"category"`
	Confidence       float64            `json:"confidence"`
	DetectedProvider string             `json:"detected_provider,omitempty"`
	FetchedAt        time.Time          `json:"fetched_at"`
	SourceURL        string             `json:"source_url,omitempty"`
	ImageURL         string             `json:"image_url,omitempty"`
	Facts            []LinkCategoryFact `json:"facts,omitempty"`
	Raw              json.RawMessage    `json:"raw,omitempty"`
}

// Fresh reports whether m was fetched for sourceURL within LinkCategoryTTL of now.
func (m *LinkCategoryMetadata) Fresh(sourceURL string, now time.Time) bool {
	if m == nil || m.SourceURL == "" || m.SourceURL != sourceURL {
		return false
	}
	return now.Sub(m.FetchedAt) < LinkCategoryTTL
}

// StructuredEntity is one decoded JSON-LD object.
type StructuredEntity map[string]any

type CategoryResolution struct {
	Category   LinkCategory
	Confidence float64
	Provider   string
	Reason     string
}

type domainRule struct {
	host       string
	category   LinkCategory
	provider   string
	path       *regexp.Regexp
	confidence float64
	reason     string
}

// Ordered: path-qualified rules precede the bare host rule for the same host.
var domainRules = []domainRule{
	{host: "github.com", category: LinkCategorySoftware, provider: "github"},
	{host: "gitlab.com", category: LinkCategorySoftware, provider: "gitlab"},
	{host: "bitbucket.org", category: LinkCategorySoftware, provider: "bitbucket"},
	{host: "npmjs.com", category: LinkCategorySoftware, provider: "npm"},
	{host: "pypi.org", category: LinkCategorySoftware, provider: "pypi"},
	{host: "rubygems.org", category: LinkCategorySoftware},
	{host: "itch.io", category: LinkCategorySoftware},
	{host: "imdb.com", category: LinkCategoryMovie, provider: "imdb"},
	{host: "letterboxd.com", category: LinkCategoryMovie},
	{host: "goodreads.com", category: LinkCategoryBook, provider: "goodreads"},
	{host: "audible.com", category: LinkCategoryBook},
	{host: "amazon.com", category: LinkCategoryProduct, provider: "amazon"},
	{host: "amazon.co.uk", category: LinkCategoryProduct, provider: "amazon"},
	{host: "amazon.in", category: LinkCategoryProduct, provider: "amazon"},
	{host: "dribbble.com", category: LinkCategoryDesignPortfolio, provider: "dribbble"},
	{host: "behance.net", category: LinkCategoryDesignPortfolio, provider: "behance"},
	{host: "figma.com", category: LinkCategoryDesignPortfolio, provider: "figma"},
	{host: "youtube.com", category: LinkCategoryTV, provider: "youtube"},
	{host: "youtu.be", category: LinkCategoryTV, provider: "youtube"},
	{host: "vimeo.com", category: LinkCategoryTV},
	{host: "netflix.com", category: LinkCategoryTV, provider: "netflix"},
	{host: "hulu.com", category: LinkCategoryTV},
	{host: "medium.com", category: LinkCategoryArticle, provider: "medium"},
	{host: "substack.com", category: LinkCategoryArticle, provider: "substack"},
	{host: "dev.to", category: LinkCategoryArticle},
	{
		host:       "open.spotify.com",
		category:   LinkCategoryPodcast,
		provider:   "spotify",
		path:       regexp.MustCompile(`^/(episode|show)/`),
		confidence: 0.9,
		reason:     "spotify episode/show path",
	},
	{host: "open.spotify.com", category: LinkCategoryMusic, provider: "spotify"},
	{host: "spotify.com", category: LinkCategoryMusic, provider: "spotify"},
	{host: "podcasts.apple.com", category: LinkCategoryPodcast, provider: "apple"},
	{host: "music.apple.com", category: LinkCategoryMusic, provider: "apple"},
	{host: "eventbrite.com", category: LinkCategoryEvent},
	{host: "lu.ma", category: LinkCategoryEvent},
	{host: "arxiv.org", category: LinkCategoryResearch},
	{host: "doi.org", category: LinkCategoryResearch},
}

type patternRule struct {
	pattern  *regexp.Regexp
	category LinkCategory
}

var pathRules = []patternRule{
	{regexp.MustCompile(`\brecipes?\b`), LinkCategoryRecipe},
	{regexp.MustCompile(`\bpodcasts?\b|/episode/`), LinkCategoryPodcast},
	{regexp.MustCompile(`\bcourses?\b|tutorial|bootcamp|lesson|learn`), LinkCategoryCourse},
	{regexp.MustCompile(`\bresearch\b|arxiv|doi\.org|paper\b`), LinkCategoryResearch},
	{regexp.MustCompile(`\bevent\b|webinar|meetup|conference`), LinkCategoryEvent},
	{regexp.MustCompile(`shop|store|product|listing|item|cart`), LinkCategoryProduct},
	{regexp.MustCompile(`music|album|track|mixtape`), LinkCategoryMusic},
	{regexp.MustCompile(`movie|film|trailer`), LinkCategoryMovie},
	{regexp.MustCompile(`series|season|episode`), LinkCategoryTV},
}

var heuristicRules = []patternRule{
	{regexp.MustCompile(`blog|post`), LinkCategoryArticle},
	{regexp.MustCompile(`news|press`), LinkCategoryNews},
	{regexp.MustCompile(`docs?/|documentation|changelog`), LinkCategorySoftware},
	{regexp.MustCompile(`design|portfolio`), LinkCategoryDesignPortfolio},
}

type providerHint struct {
	needles  []string
	category LinkCategory
}

var providerHints = []providerHint{
	{[]string{"youtube", "youtu"}, LinkCategoryTV},
	{[]string{"spotify", "soundcloud", "bandcamp"}, LinkCategoryMusic},
	{[]string{"github", "gitlab", "bitbucket", "npm", "pypi"}, LinkCategorySoftware},
	{[]string{"dribbble", "behance", "figma"}, LinkCategoryDesignPortfolio},
	{[]string{"medium", "substack", "devto"}, LinkCategoryArticle},
	{[]string{"imdb"}, LinkCategoryMovie},
	{[]string{"goodreads", "kindle"}, LinkCategoryBook},
}

// ResolveLinkCategory classifies a link by known domains, then path keywords,
// then provider hints in the host, then page-text heuristics.
func ResolveLinkCategory(rawURL, siteName, title string) CategoryResolution {
	host, path := splitLinkURL(rawURL)

	if host != "" {
		apex := apexDomain(host)
		for _, rule := range domainRules {
			if !hostMatches(host, rule.host) && !hostMatches(apex, rule.host) {
				continue
			}
			if rule.path != nil && !rule.path.MatchString(path) {
				continue
			}
			confidence := rule.confidence
			if confidence == 0 {
				confidence = ConfidenceDomain
			}
			reason := rule.reason
			if reason == "" {
				reason = "domain " + rule.host
			}
			return CategoryResolution{
				Category:   rule.category,
				Confidence: confidence,
				Provider:   DetectProvider(host, rule.provider),
				Reason:     reason,
			}
		}
	}

	provider := DetectProvider(host, "")
	for _, rule := range pathRules {
		if rule.pattern.MatchString(path) {
			return CategoryResolution{Category: rule.category, Confidence: ConfidencePath, Provider: provider, Reason: "path " + rule.pattern.String()}
		}
	}
	for _, hint := range providerHints {
		for _, needle := range hint.needles {
			if strings.Contains(host, needle) {
				return CategoryResolution{Category: hint.category, Confidence: ConfidenceProvider, Provider: provider, Reason: "provider " + needle}
			}
		}
	}
	text := strings.ToLower(strings.Join([]string{host, path, siteName, title}, " "))
	for _, rule := range heuristicRules {
		if rule.pattern.MatchString(text) {
			return CategoryResolution{Category: rule.category, Confidence: ConfidenceHeuristic, Provider: provider, Reason: "heuristic " + rule.pattern.String()}
		}
	}
	return CategoryResolution{Category: LinkCategoryOther, Confidence: ConfidenceFallback, Provider: provider, Reason: "fallback"}
}

// DetectProvider names well-known hosts; any other host is its own provider.
func DetectProvider(host, hint string) string {
	if hint != "" {
		return hint
	}
	switch {
	case host == "":
		return ""
	case strings.Contains(host, "github.com"):
		return "github"
	case strings.Contains(host, "goodreads.com"):
		return "goodreads"
	case strings.Contains(host, "amazon."):
		return "amazon"
	case strings.Contains(host, "imdb.com"):
		return "imdb"
	case strings.Contains(host, "netflix.com"):
		return "netflix"
	case strings.Contains(host, "behance.net"):
		return "behance"
	case strings.Contains(host, "dribbble.com"):
		return "dribbble"
	case strings.Contains(host, "spotify.com"):
		return "spotify"
	case strings.Contains(host, "apple.com"):
		return "apple"
	case strings.Contains(host, "youtube.com"), strings.Contains(host, "youtu.be"):
		return "youtube"
	case strings.Contains(host, "medium.com"):
		return "medium"
	case strings.Contains(host, "substack.com"):
		return "substack"
	}
	return host
}

var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"igshid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"mkt_tok": true,
}

// CanonicalLinkURL drops tracking parameters, the fragment and trailing slashes.
func CanonicalLinkURL(raw string) string {
	normalized := NormalizeURL(raw)
	u, err := url.Parse(normalized)
	if err != nil || u.Host == "" {
		return normalized
	}
	u.Fragment = ""
	u.RawFragment = ""
	query := u.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

func splitLinkURL(raw string) (host, path string) {
	u, err := url.Parse(NormalizeURL(raw))
	if err != nil {
		return "", ""
	}
	host = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host, strings.ToLower(u.EscapedPath())
}

func hostMatches(host, ruleHost string) bool {
	return host == ruleHost || strings.HasSuffix(host, "."+ruleHost)
}

func apexDomain(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
