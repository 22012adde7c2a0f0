package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/card-enricher/internal/config"
	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
	"github.com/kirillkom/card-enricher/internal/observability/metrics"
)

const metricsService = "api"

type Router struct {
	cfg     config.Config
	intake  ports.CardIntake
	cards   ports.CardReader
	admin   ports.Administration
	blobs   ports.BlobStore
	metrics *metrics.HTTPServerMetrics
	spec    routers.Router
}

func NewRouter(
	cfg config.Config,
	intake ports.CardIntake,
	cards ports.CardReader,
	admin ports.Administration,
	blobs ports.BlobStore,
	httpMetrics *metrics.HTTPServerMetrics,
) (*Router, error) {
	spec, err := loadOpenAPIRouter()
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:     cfg,
		intake:  intake,
		cards:   cards,
		admin:   admin,
		blobs:   blobs,
		metrics: httpMetrics,
		spec:    spec,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, accessLogMiddleware, recoverMiddleware)
	if rt.metrics != nil {
		r.Use(func(next http.Handler) http.Handler { return rt.metrics.Middleware(metricsService, next) })
	}
	r.Use(
		func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
		},
		func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond)
		},
		openAPIValidationMiddleware(rt.spec),
	)

	r.Get("/healthz", rt.healthz)
	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/cards", rt.registerCard)
		r.Get("/cards/{cardID}", rt.getCard)

		r.Post("/blobs", rt.uploadBlob)
		r.Get("/blobs/{handle}", rt.getBlob)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/overview", rt.adminOverview)
			r.Post("/cards/{cardID}/retry", rt.adminRetryStage)
			r.Post("/cards/{cardID}/retry-link-metadata", rt.adminRetryLinkMetadata)
			r.Post("/cards/{cardID}/refresh", rt.adminRefreshCard)
			r.Post("/backfill/ai", rt.adminBackfillAI)
			r.Post("/backfill/links", rt.adminBackfillLinks)
			r.Post("/cleanup", rt.adminCleanup)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerCardRequest struct {
	Type        string                `json:"type"`
	UserID      string                `json:"user_id"`
	Content     string                `json:"content"`
	URL         string                `json:"url"`
	Notes       string                `json:"notes"`
	FileID      string                `json:"file_id"`
	ThumbnailID string                `json:"thumbnail_id"`
	Colors      []domain.PaletteColor `json:"colors"`
}

func (rt *Router) registerCard(w http.ResponseWriter, r *http.Request) {
	var req registerCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	cardType, err := domain.ParseCardType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, err := rt.intake.Register(r.Context(), domain.Card{
		UserID:      strings.TrimSpace(req.UserID),
		Type:        cardType,
		Content:     req.Content,
		URL:         strings.TrimSpace(req.URL),
		Notes:       req.Notes,
		FileID:      strings.TrimSpace(req.FileID),
		ThumbnailID: strings.TrimSpace(req.ThumbnailID),
		Colors:      req.Colors,
	})
	if err != nil {
		rt.writeDomainError(w, r, "register_card", err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordCardRegistered(metricsService, card.Type)
	}
	writeJSON(w, http.StatusAccepted, card)
}

func (rt *Router) getCard(w http.ResponseWriter, r *http.Request) {
	card, err := rt.cards.GetByID(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		rt.writeDomainError(w, r, "get_card", err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (rt *Router) uploadBlob(w http.ResponseWriter, r *http.Request) {
	limit := int64(rt.cfg.MaxBlobBytes)
	if limit <= 0 {
		limit = 100 << 20
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "blob too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	mimeType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	handle, err := rt.blobs.Store(r.Context(), data, mimeType)
	if err != nil {
		rt.writeDomainError(w, r, "store_blob", err)
		return
	}
	url, err := rt.blobs.URL(r.Context(), handle)
	if err != nil {
		rt.writeDomainError(w, r, "store_blob", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"handle": handle, "url": url})
}

// getBlob serves blob bytes with Range support. Blobs load cross-origin from
// the browser sandbox (video frames drawn to canvas), so the response allows any origin.
func (rt *Router) getBlob(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	data, mimeType, err := rt.blobs.Open(r.Context(), handle)
	if err != nil {
		rt.writeDomainError(w, r, "get_blob", err)
		return
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
	header.Set("Content-Type", mimeType)
	header.Set("Cache-Control", "public, max-age=31536000, immutable")
	header.Set("ETag", `"`+handle+`"`)
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed", "request_id", requestIDFromContext(r.Context()), "op", op, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
