package unfurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
)

const (
	DefaultBaseURL = "https://api.microlink.io"
	requestTimeout = 20 * time.Second
	maxBodyBytes   = 4 << 20
)

// Microlink unfurls urls through a microlink-compatible API.
type Microlink struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
	timeout    time.Duration
}

func NewMicrolink(baseURL string, executor *resilience.Executor) *Microlink {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Microlink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		executor:   executor,
		timeout:    requestTimeout,
	}
}

type microlinkAsset struct {
	URL string `json:"url"`
}

type microlinkResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Author      string          `json:"author"`
		Publisher   string          `json:"publisher"`
		Date        string          `json:"date"`
		Image       *microlinkAsset `json:"image"`
		Logo        *microlinkAsset `json:"logo"`
	} `json:"data"`
}

func (m *Microlink) Unfurl(ctx context.Context, target string) (domain.UnfurlResult, error) {
	if strings.TrimSpace(target) == "" {
		return domain.UnfurlResult{}, domain.WrapError(domain.ErrRejected, "unfurl", errors.New("empty url"))
	}

	var raw []byte
	call := func(callCtx context.Context) error {
		body, err := m.fetch(callCtx, target)
		if err != nil {
			return err
		}
		raw = body
		return nil
	}

	var err error
	if m.executor != nil {
		err = m.executor.Execute(ctx, "unfurl.microlink", call, classifyUnfurlError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.UnfurlResult{}, toDomainError(err)
	}
	return ParseResponse(raw)
}

func (m *Microlink) fetch(ctx context.Context, target string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	endpoint := m.baseURL + "/?url=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create unfurl request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "card-enricher/1.0")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unfurl request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read unfurl response: %w", err)
	}
	if resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > 2048 {
			snippet = snippet[:2048]
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(snippet),
			RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return body, nil
}

// ParseResponse maps a successful microlink payload; any other status is a rejection.
func ParseResponse(raw []byte) (domain.UnfurlResult, error) {
	var payload microlinkResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.UnfurlResult{}, domain.WrapError(domain.ErrRejected, "unfurl", fmt.Errorf("decode response: %w", err))
	}
	if payload.Status != "success" {
		return domain.UnfurlResult{}, domain.WrapError(domain.ErrRejected, "unfurl",
			fmt.Errorf("extraction status %q: %s", payload.Status, payload.Message))
	}

	result := domain.UnfurlResult{
		Title:       strings.TrimSpace(payload.Data.Title),
		Description: strings.TrimSpace(payload.Data.Description),
		Author:      payload.Data.Author,
		Publisher:   payload.Data.Publisher,
		PublishedAt: payload.Data.Date,
		Raw:         json.RawMessage(raw),
	}
	if payload.Data.Image != nil {
		result.ImageURL = payload.Data.Image.URL
	}
	if payload.Data.Logo != nil {
		result.LogoURL = payload.Data.Logo.URL
	}
	return result, nil
}
