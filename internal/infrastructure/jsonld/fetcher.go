package jsonld

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
)

const (
	userAgent       = "CardEnricherBot/1.0"
	acceptHeader    = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	requestTimeout  = 15 * time.Second
	maxContentBytes = 500_000
	maxParseBytes   = 250_000
	maxEntities     = 8
)

// Fetcher reads structured data blocks from link targets.
type Fetcher struct {
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(executor *resilience.Executor) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: requestTimeout},
		executor:   executor,
	}
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return "structured data status: " + e.status
}

// FetchStructuredData returns no entities, without error, for non-html or oversized pages.
func (f *Fetcher) FetchStructuredData(ctx context.Context, url string) ([]domain.StructuredEntity, error) {
	if strings.TrimSpace(url) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch structured data", errors.New("empty url"))
	}

	var page []byte
	call := func(callCtx context.Context) error {
		body, err := f.get(callCtx, url)
		if err != nil {
			return err
		}
		page = body
		return nil
	}

	var err error
	if f.executor != nil {
		err = f.executor.Execute(ctx, "structured.fetch", call, classifyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if classifyError(err).Retryable {
			return nil, domain.WrapError(domain.ErrTemporary, "fetch structured data", err)
		}
		return nil, domain.WrapError(domain.ErrNetwork, "fetch structured data", err)
	}
	if len(page) == 0 {
		return nil, nil
	}
	return Parse(page)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create structured data request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("structured data request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}
	if !isHTML(resp.Header.Get("Content-Type")) {
		slog.Debug("structured_data_skipped", "url", url, "reason", "content_type")
		return nil, nil
	}
	if resp.ContentLength > maxContentBytes {
		slog.Debug("structured_data_skipped", "url", url, "reason", "content_length", "content_length", resp.ContentLength)
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxParseBytes))
	if err != nil {
		return nil, fmt.Errorf("read structured data body: %w", err)
	}
	return body, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// Parse decodes every application/ld+json script in page, flattening arrays and
// @graph containers and dropping duplicates by type, name and url.
func Parse(page []byte) ([]domain.StructuredEntity, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var entities []domain.StructuredEntity
	seen := make(map[string]bool)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return true
		}
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			slog.Debug("structured_data_block_invalid", "error", err)
			return true
		}
		for _, entity := range flatten(decoded) {
			key := fingerprint(entity)
			if seen[key] {
				continue
			}
			seen[key] = true
			entities = append(entities, entity)
			if len(entities) >= maxEntities {
				return false
			}
		}
		return true
	})
	return entities, nil
}

func flatten(value any) []domain.StructuredEntity {
	switch v := value.(type) {
	case []any:
		var out []domain.StructuredEntity
		for _, item := range v {
			out = append(out, flatten(item)...)
		}
		return out
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			return flatten(graph)
		}
		return []domain.StructuredEntity{domain.StructuredEntity(v)}
	}
	return nil
}

func fingerprint(entity domain.StructuredEntity) string {
	raw, _ := json.Marshal([]any{entity["@type"], entity["name"], entity["url"]})
	return string(raw)
}

func classifyError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{}
	}
	var se *statusError
	if errors.As(err, &se) {
		return resilience.ErrorClassification{
			Retryable:     se.code == http.StatusTooManyRequests || se.code >= 500,
			RecordFailure: se.code >= 500,
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
