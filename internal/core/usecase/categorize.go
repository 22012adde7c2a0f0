package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

// Categorize resolves a link card's category, enriches it with the page's
// structured data and, when chained, hands over to AI metadata. Other card
// types complete the stage without work.
func (uc *PipelineUseCase) Categorize(ctx context.Context, cardID string, chain bool) error {
	card, err := uc.cards.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, domain.ErrCardNotFound) {
			return nil
		}
		return fmt.Errorf("load card: %w", err)
	}

	if card.Type == domain.CardTypeLink && strings.TrimSpace(card.URL) != "" {
		if err := uc.categorizeLink(ctx, card); err != nil {
			return err
		}
	} else if !card.ProcessingStatus.IsCompleted(domain.StageCategorize) {
		previous, _ := card.ProcessingStatus.Get(domain.StageCategorize)
		done := domain.StageCompletedFrom(uc.now(), 1, previous)
		if err := uc.cards.Patch(ctx, cardID, domain.StagePatch(domain.StageCategorize, done)); err != nil {
			return fmt.Errorf("mark categorize completed: %w", err)
		}
	}

	if chain && !card.ProcessingStatus.IsCompleted(domain.StageMetadata) {
		if err := uc.scheduler.RunAfter(ctx, 0, domain.CardJob(domain.JobAIMetadata, cardID, 0)); err != nil {
			return fmt.Errorf("schedule ai metadata: %w", err)
		}
	}
	return nil
}

func (uc *PipelineUseCase) categorizeLink(ctx context.Context, card *domain.Card) error {
	now := uc.now()
	sourceURL := domain.CanonicalLinkURL(card.URL)

	var linkMeta domain.LinkMetadata
	if card.Metadata != nil {
		linkMeta = *card.Metadata
	}
	resolution := domain.ResolveLinkCategory(sourceURL, linkMeta.LinkPublisher, firstNonEmpty(linkMeta.LinkTitle, card.MetadataTitle))

	category := &domain.LinkCategoryMetadata{
		Category:         resolution.Category,
		Confidence:       resolution.Confidence,
		DetectedProvider: resolution.Provider,
		FetchedAt:        now,
		SourceURL:        sourceURL,
		ImageURL:         linkMeta.LinkImage,
	}

	raw := map[string]any{}
	if resolution.Provider != "" {
		raw["provider"] = map[string]any{"name": resolution.Provider}
	}

	if cached := linkMeta.LinkCategory; cached.Fresh(sourceURL, now) && cached.Category == resolution.Category {
		category.FetchedAt = cached.FetchedAt
		category.Facts = cached.Facts
		category.Raw = cached.Raw
		if category.ImageURL == "" {
			category.ImageURL = cached.ImageURL
		}
	} else if uc.structured != nil {
		entities, err := uc.structured.FetchStructuredData(ctx, sourceURL)
		if err != nil {
			slog.Warn("structured_data_fetch_failed", "card_id", card.ID, "error", err)
		}
		if enriched, ok := enrichFromStructuredData(resolution.Category, entities); ok {
			if category.ImageURL == "" {
				category.ImageURL = enriched.imageURL
			}
			category.Facts = enriched.facts
			if enriched.raw != nil {
				raw["structured"] = enriched.raw
			}
		}
	}
	if category.Raw == nil && len(raw) > 0 {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("encode link category raw: %w", err)
		}
		category.Raw = encoded
	}

	linkMeta.LinkCategory = category
	previous, _ := card.ProcessingStatus.Get(domain.StageCategorize)
	patch := domain.CardPatch{
		Metadata: &linkMeta,
		Stages: map[domain.Stage]domain.StageStatus{
			domain.StageCategorize: domain.StageCompletedFrom(now, resolution.Confidence, previous),
		},
	}
	if err := uc.cards.Patch(ctx, card.ID, patch); err != nil {
		return fmt.Errorf("save link category: %w", err)
	}
	slog.Info("link_categorized",
		"card_id", card.ID,
		"category", string(resolution.Category),
		"confidence", resolution.Confidence,
		"reason", resolution.Reason,
		"facts", len(category.Facts),
	)
	return nil
}

type structuredEnrichment struct {
	imageURL string
	facts    []domain.LinkCategoryFact
	raw      map[string]any
}

var structuredTypes = map[domain.LinkCategory][]string{
	domain.LinkCategoryBook:            {"Book"},
	domain.LinkCategoryMovie:           {"Movie", "VideoObject", "CreativeWork"},
	domain.LinkCategoryTV:              {"TVSeries", "TVEpisode", "VideoObject"},
	domain.LinkCategoryArticle:         {"NewsArticle", "Article", "BlogPosting"},
	domain.LinkCategoryNews:            {"NewsArticle", "Article", "BlogPosting"},
	domain.LinkCategoryPodcast:         {"PodcastEpisode", "PodcastSeries", "AudioObject"},
	domain.LinkCategoryMusic:           {"MusicRecording", "MusicAlbum", "MusicPlaylist"},
	domain.LinkCategoryProduct:         {"Product", "Offer"},
	domain.LinkCategoryRecipe:          {"Recipe"},
	domain.LinkCategoryCourse:          {"Course", "EducationalOccupationalProgram"},
	domain.LinkCategoryResearch:        {"ScholarlyArticle", "ResearchArticle", "Report"},
	domain.LinkCategoryEvent:           {"Event", "MusicEvent", "BusinessEvent"},
	domain.LinkCategorySoftware:        {"SoftwareApplication", "SoftwareSourceCode"},
	domain.LinkCategoryDesignPortfolio: {"CreativeWork", "CollectionPage", "Portfolio"},
}

var structuredRawFields = []string{"@type", "name", "headline", "url", "description", "datePublished", "dateModified"}

func enrichFromStructuredData(category domain.LinkCategory, entities []domain.StructuredEntity) (structuredEnrichment, bool) {
	entity := findEntity(entities, structuredTypes[category])
	if entity == nil {
		return structuredEnrichment{}, false
	}

	var out structuredEnrichment
	out.imageURL = imageOf(entity["image"])
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			out.facts = append(out.facts, domain.LinkCategoryFact{Label: label, Value: value})
		}
	}
	rating := asMap(entity["aggregateRating"])

	switch category {
	case domain.LinkCategoryBook:
		add("Authors", strings.Join(namesOf(entity["author"]), ", "))
		add("Rating", textOf(rating["ratingValue"]))
		add("Reviews", firstNonEmpty(textOf(rating["ratingCount"]), textOf(rating["reviewCount"])))
		add("Length", firstNonEmpty(textOf(entity["numberOfPages"]), textOf(entity["bookFormat"])))
		add("Published", formatDate(entity["datePublished"]))
	case domain.LinkCategoryMovie:
		add("Rating", textOf(rating["ratingValue"]))
		add("Votes", firstNonEmpty(textOf(rating["ratingCount"]), textOf(rating["reviewCount"])))
		add("Release", firstNonEmpty(formatDate(entity["datePublished"]), formatDate(entity["dateCreated"])))
	case domain.LinkCategoryTV:
		add("Seasons", firstNonEmpty(textOf(entity["numberOfSeasons"]), textOf(entity["seasonNumber"])))
		add("Episodes", textOf(entity["numberOfEpisodes"]))
		add("First aired", firstNonEmpty(formatDate(entity["datePublished"]), formatDate(entity["dateCreated"])))
	case domain.LinkCategoryArticle, domain.LinkCategoryNews:
		published := formatDate(entity["datePublished"])
		add("Published", published)
		if updated := formatDate(entity["dateModified"]); updated != published {
			add("Updated", updated)
		}
	case domain.LinkCategoryPodcast:
		add("Duration", formatISODuration(entity["duration"]))
		add("Series", firstNonEmpty(textOf(entity["partOfSeries"]), textOf(entity["isPartOf"])))
	case domain.LinkCategoryMusic:
		artists := namesOf(entity["byArtist"])
		if len(artists) == 0 {
			artists = namesOf(entity["creator"])
		}
		add("Artist", strings.Join(artists, ", "))
		add("Length", formatISODuration(entity["duration"]))
	case domain.LinkCategoryProduct:
		if offers := asMap(entity["offers"]); textOf(offers["price"]) != "" {
			add("Price", strings.TrimSpace(textOf(offers["price"])+" "+textOf(offers["priceCurrency"])))
		}
		add("Brand", textOf(entity["brand"]))
	case domain.LinkCategoryRecipe:
		add("Servings", textOf(entity["recipeYield"]))
		var timing []string
		for _, part := range []struct{ label, key string }{{"Prep", "prepTime"}, {"Cook", "cookTime"}, {"Total", "totalTime"}} {
			if d := formatISODuration(entity[part.key]); d != "" {
				timing = append(timing, part.label+" "+d)
			}
		}
		add("Timing", strings.Join(timing, " · "))
		ingredients := namesOf(entity["recipeIngredient"])
		if len(ingredients) > 6 {
			ingredients = ingredients[:6]
		}
		add("Ingredients", strings.Join(ingredients, ", "))
	case domain.LinkCategoryCourse:
		add("Provider", firstNonEmpty(textOf(entity["provider"]), textOf(entity["publisher"])))
	case domain.LinkCategoryResearch:
		add("Authors", strings.Join(namesOf(entity["author"]), ", "))
		add("Published", formatDate(entity["datePublished"]))
	case domain.LinkCategoryEvent:
		start, end := formatDate(entity["startDate"]), formatDate(entity["endDate"])
		dates := firstNonEmpty(start, end)
		if start != "" && end != "" && start != end {
			dates = start + " → " + end
		}
		add("Dates", dates)
		add("Location", textOf(entity["location"]))
	case domain.LinkCategorySoftware:
		add("Platform", textOf(entity["operatingSystem"]))
		add("Category", textOf(entity["applicationCategory"]))
	case domain.LinkCategoryDesignPortfolio:
		add("Creator", firstNonEmpty(textOf(entity["author"]), textOf(entity["creator"])))
	}

	out.raw = make(map[string]any)
	for _, field := range structuredRawFields {
		if v, ok := entity[field]; ok {
			out.raw[field] = v
		}
	}
	if len(out.raw) == 0 {
		out.raw = nil
	}
	return out, out.imageURL != "" || len(out.facts) > 0 || out.raw != nil
}

func findEntity(entities []domain.StructuredEntity, types []string) domain.StructuredEntity {
	for _, entity := range entities {
		for _, t := range typesOf(entity["@type"]) {
			for _, want := range types {
				if strings.EqualFold(t, want) {
					return entity
				}
			}
		}
	}
	return nil
}

func typesOf(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// textOf renders strings, numbers and named objects.
func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		return textOf(t["name"])
	}
	return ""
}

func namesOf(v any) []string {
	if list, ok := v.([]any); ok {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if name := textOf(item); name != "" {
				out = append(out, name)
			}
		}
		return out
	}
	if name := textOf(v); name != "" {
		return []string{name}
	}
	return nil
}

func imageOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return imageOf(t[0])
		}
	case map[string]any:
		if u, ok := t["url"].(string); ok {
			return u
		}
	}
	return ""
}

func formatDate(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.Format("2006-01-02")
		}
	}
	return s
}

var isoDuration = regexp.MustCompile(`(?i)^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

func formatISODuration(v any) string {
	s, _ := v.(string)
	match := isoDuration.FindStringSubmatch(s)
	if match == nil {
		return ""
	}
	var parts []string
	for i, unit := range []string{"h", "m", "s"} {
		if match[i+1] != "" {
			parts = append(parts, match[i+1]+unit)
		}
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
