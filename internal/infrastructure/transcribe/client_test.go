package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/infrastructure/resilience"
)

func TestTranscribePostsMultipart(t *testing.T) {
	var gotModel, gotFileName, gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		gotModel = r.FormValue("model")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		gotFileName = header.Filename
		raw, _ := io.ReadAll(file)
		gotBody = string(raw)
		_, _ = w.Write([]byte(`{"text":"  hello there  "}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", "secret", "", nil)
	text, err := client.Transcribe(context.Background(), domain.AudioClip{Data: []byte("OggS"), MimeType: "audio/ogg"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text = %q", text)
	}
	if gotModel != "whisper-1" || gotFileName != "audio.ogg" || gotBody != "OggS" || gotAuth != "Bearer secret" {
		t.Fatalf("request model=%q file=%q body=%q auth=%q", gotModel, gotFileName, gotBody, gotAuth)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	client := New(server.URL, "", "m", executor)
	text, err := client.Transcribe(context.Background(), domain.AudioClip{Data: []byte("x"), MimeType: "audio/mpeg"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "ok" || calls != 2 {
		t.Fatalf("text = %q calls = %d", text, calls)
	}
}

func TestTranscribeIncludesBodyInPermanentError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported format", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, "", "m", nil)
	_, err := client.Transcribe(context.Background(), domain.AudioClip{Data: []byte("x")})
	if err == nil {
		t.Fatalf("expected error")
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("400 should not be temporary: %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestTranscribeRejectsEmptyClip(t *testing.T) {
	client := New("http://unused", "", "m", nil)
	_, err := client.Transcribe(context.Background(), domain.AudioClip{})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type stubTranscriber struct {
	text  string
	err   error
	calls int
}

func (s *stubTranscriber) Transcribe(context.Context, domain.AudioClip) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestFallbackUsesSecondaryOnFailure(t *testing.T) {
	primary := &stubTranscriber{err: errors.New("down")}
	secondary := &stubTranscriber{text: "from genai"}

	text, err := NewFallback(primary, secondary).Transcribe(context.Background(), domain.AudioClip{Data: []byte("x")})
	if err != nil || text != "from genai" {
		t.Fatalf("text = %q err = %v", text, err)
	}

	invalid := &stubTranscriber{err: domain.WrapError(domain.ErrInvalidInput, "transcribe", errors.New("empty"))}
	secondary.calls = 0
	if _, err := NewFallback(invalid, secondary).Transcribe(context.Background(), domain.AudioClip{}); err == nil {
		t.Fatalf("expected invalid input to pass through")
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary called for invalid input")
	}
}

func TestFallbackWithoutSecondary(t *testing.T) {
	primary := &stubTranscriber{err: errors.New("down")}
	if _, err := NewFallback(primary, nil).Transcribe(context.Background(), domain.AudioClip{Data: []byte("x")}); err == nil {
		t.Fatalf("expected primary error")
	}
}
