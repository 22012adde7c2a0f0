package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
)

const DefaultMaxBytes = 100 << 20

// Fetcher downloads source files for renderers and AI analysis.
type Fetcher struct {
	httpClient *http.Client
	executor   *resilience.Executor
	maxBytes   int64
}

func New(timeout time.Duration, maxBytes int64, executor *resilience.Executor) *Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
		maxBytes:   maxBytes,
	}
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return "fetch status: " + e.status
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if strings.TrimSpace(url) == "" {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "fetch blob", errors.New("empty url"))
	}

	var (
		data     []byte
		mimeType string
	)
	call := func(callCtx context.Context) error {
		body, mt, err := f.get(callCtx, url)
		if err != nil {
			return err
		}
		data, mimeType = body, mt
		return nil
	}

	var err error
	if f.executor != nil {
		err = f.executor.Execute(ctx, "blob.fetch", call, classifyFetchError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if classifyFetchError(err).Retryable {
			return nil, "", domain.WrapError(domain.ErrTemporary, "fetch blob", err)
		}
		return nil, "", err
	}
	return data, mimeType, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create fetch request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", &statusError{code: resp.StatusCode, status: resp.Status}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read fetch body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "fetch blob", fmt.Errorf("body exceeds %d bytes", f.maxBytes))
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(body)
	}
	return body, mimeType, nil
}

func classifyFetchError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var se *statusError
	if errors.As(err, &se) {
		retryable := se.code == http.StatusTooManyRequests || se.code >= 500
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: se.code >= 500}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
