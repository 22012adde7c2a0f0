package usecase

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

func newImageCard(id string, fm domain.FileMetadata) *domain.Card {
	return &domain.Card{
		ID:           id,
		UserID:       "user-1",
		Type:         domain.CardTypeImage,
		FileID:       "file-" + id,
		FileMetadata: &fm,
		ProcessingStatus: domain.BuildInitialProcessingStatus(domain.InitialStatusOptions{
			Now:      testEpoch,
			CardType: domain.CardTypeImage,
		}),
	}
}

type renderHarness struct {
	cards     *cardStoreFake
	blobs     *blobStoreFake
	fetcher   *fetcherFake
	processor *imageProcessorFake
	sandbox   *sandboxFake
	scheduler *schedulerFake
	observer  *observerFake
	uc        *RenderablesUseCase
}

func newRenderHarness(cards ...*domain.Card) *renderHarness {
	h := &renderHarness{
		cards:     newCardStore(cards...),
		blobs:     newBlobStore(),
		fetcher:   &fetcherFake{data: map[string][]byte{}},
		processor: &imageProcessorFake{},
		sandbox:   &sandboxFake{},
		scheduler: &schedulerFake{},
		observer:  &observerFake{},
	}
	h.uc = NewRenderablesUseCase(
		h.cards,
		NewImageThumbnailer(h.cards, h.blobs, h.fetcher, h.processor),
		NewVideoThumbnailer(h.cards, h.blobs, h.sandbox),
		NewSVGThumbnailer(h.cards, h.blobs, h.fetcher, h.sandbox),
		NewPDFThumbnailer(h.cards, h.blobs, h.sandbox),
		h.scheduler,
		h.observer,
	)
	h.uc.now = steppingClock(testEpoch)
	return h
}

// source registers a fetchable blob for handle.
func (h *renderHarness) source(handle string, data []byte) {
	url := "http://blobs.local/" + handle
	h.blobs.urls[handle] = url
	h.fetcher.data[url] = data
}

func TestSettingsForSize(t *testing.T) {
	cases := []struct {
		size    int64
		quality int
		skip    bool
	}{
		{size: 100_000, quality: 100, skip: true},
		{size: 499_999, quality: 100, skip: true},
		{size: 500_000, quality: 80},
		{size: 1_500_000, quality: 70},
		{size: 2_400_000, quality: 65},
		{size: 7_000_000, quality: 60},
		{size: 15_000_000, quality: 60},
		{size: 25_000_000, quality: 50},
	}
	for _, tc := range cases {
		got := SettingsForSize(tc.size)
		if got.Quality != tc.quality || got.Skip != tc.skip {
			t.Fatalf("SettingsForSize(%d) = %+v, want quality=%d skip=%v", tc.size, got, tc.quality, tc.skip)
		}
	}
}

func TestFitWithin(t *testing.T) {
	cases := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{4000, 3000, 500, 500, 500, 375},
		{1000, 4000, 500, 500, 125, 500},
		{300, 200, 500, 500, 300, 200},
		{5000, 5, 500, 500, 500, 1},
		{800, 800, 400, 400, 400, 400},
		{0, 10, 500, 500, 0, 0},
	}
	for _, tc := range cases {
		w, h := FitWithin(tc.w, tc.h, tc.maxW, tc.maxH)
		if w != tc.wantW || h != tc.wantH {
			t.Fatalf("FitWithin(%d,%d) = %dx%d, want %dx%d", tc.w, tc.h, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestRenderablesRasterGeneratesThumbnail(t *testing.T) {
	card := newImageCard("c1", domain.FileMetadata{FileName: "photo.jpg", MimeType: "image/jpeg", FileSize: 2_400_000})
	h := newRenderHarness(card)
	h.source(card.FileID, make([]byte, 2_400_000))
	h.processor.width, h.processor.height = 4000, 3000

	if err := h.uc.Run(context.Background(), "c1", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(h.processor.encodes) != 1 {
		t.Fatalf("expected one encode, got %d", len(h.processor.encodes))
	}
	enc := h.processor.encodes[0]
	if enc.width != 500 || enc.height != 375 || enc.quality != 65 {
		t.Fatalf("unexpected encode call: %+v", enc)
	}

	got := h.cards.card("c1")
	if got.ThumbnailID == "" {
		t.Fatalf("expected thumbnail id to be stored")
	}
	if h.blobs.mimes[got.ThumbnailID] != "image/webp" {
		t.Fatalf("expected webp thumbnail, got %q", h.blobs.mimes[got.ThumbnailID])
	}
	if got.FileMetadata.Width != 4000 || got.FileMetadata.Height != 3000 {
		t.Fatalf("expected original dimensions 4000x3000, got %dx%d", got.FileMetadata.Width, got.FileMetadata.Height)
	}
	if got.FileMetadata.FileName != "photo.jpg" {
		t.Fatalf("file metadata should be merged, got %+v", got.FileMetadata)
	}
	stage := got.ProcessingStatus[domain.StageRenderables]
	if stage.Status != domain.StageCompletedState || stage.Confidence == nil || *stage.Confidence != 0.95 {
		t.Fatalf("unexpected renderables status: %+v", stage)
	}
	if stage.StartedAt == nil || stage.CompletedAt == nil || !stage.CompletedAt.After(*stage.StartedAt) {
		t.Fatalf("expected startedAt before completedAt, got %+v", stage)
	}
}

func TestRenderablesIsIdempotent(t *testing.T) {
	card := newImageCard("c1", domain.FileMetadata{MimeType: "image/png", FileSize: 900_000})
	h := newRenderHarness(card)
	h.source(card.FileID, make([]byte, 900_000))
	h.processor.width, h.processor.height = 1200, 800

	for i := 0; i < 2; i++ {
		if err := h.uc.Run(context.Background(), "c1", 0); err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
	}
	if len(h.processor.encodes) != 1 {
		t.Fatalf("expected a single encode across runs, got %d", len(h.processor.encodes))
	}
	if len(h.blobs.stored) != 1 {
		t.Fatalf("expected a single stored thumbnail, got %d", len(h.blobs.stored))
	}
}

func TestImageThumbnailerSkipsSmallFilesButRecordsDimensions(t *testing.T) {
	card := newImageCard("c1", domain.FileMetadata{MimeType: "image/png"})
	h := newRenderHarness(card)
	h.source(card.FileID, make([]byte, 120_000))
	h.processor.width, h.processor.height = 640, 480

	res := NewImageThumbnailer(h.cards, h.blobs, h.fetcher, h.processor).Generate(context.Background(), "c1")
	if !res.Success || res.Generated {
		t.Fatalf("expected skipped result, got %+v", res)
	}
	got := h.cards.card("c1")
	if got.ThumbnailID != "" {
		t.Fatalf("expected no thumbnail, got %q", got.ThumbnailID)
	}
	if got.FileMetadata.Width != 640 || got.FileMetadata.Height != 480 {
		t.Fatalf("expected dimensions recorded, got %+v", got.FileMetadata)
	}
}

func TestImageThumbnailerMissingStorageURL(t *testing.T) {
	card := newImageCard("c1", domain.FileMetadata{MimeType: "image/png"})
	h := newRenderHarness(card)

	if err := h.uc.Run(context.Background(), "c1", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := h.cards.card("c1")
	stage := got.ProcessingStatus[domain.StageRenderables]
	if stage.Status != domain.StageFailedState || stage.Error != domain.RenderErrMissingStorageURL {
		t.Fatalf("expected missing_storage_url failure, got %+v", stage)
	}
	if len(h.scheduler.jobs) != 0 {
		t.Fatalf("permanent failures must not retry, got %+v", h.scheduler.jobs)
	}
}

func TestRenderablesMissingCardIsNoop(t *testing.T) {
	h := newRenderHarness()
	if err := h.uc.Run(context.Background(), "ghost", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.cards.patches) != 0 || len(h.scheduler.jobs) != 0 {
		t.Fatalf("expected no side effects for a missing card")
	}
	res := NewPDFThumbnailer(h.cards, h.blobs, h.sandbox).Generate(context.Background(), "ghost")
	if res.Success || res.Error != domain.RenderErrCardNotFound {
		t.Fatalf("expected card_not_found, got %+v", res)
	}
}

func TestRenderablesSkipsDocumentsWithoutPDF(t *testing.T) {
	doc := &domain.Card{
		ID:   "d1",
		Type: domain.CardTypeDocument,
		ProcessingStatus: domain.BuildInitialProcessingStatus(domain.InitialStatusOptions{
			Now:      testEpoch,
			CardType: domain.CardTypeDocument,
		}),
	}
	h := newRenderHarness(doc)
	if err := h.uc.Run(context.Background(), "d1", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !h.cards.card("d1").ProcessingStatus.IsCompleted(domain.StageRenderables) {
		t.Fatalf("expected documents to complete renderables without a preview")
	}
	if h.sandbox.created != 0 {
		t.Fatalf("non-pdf documents must not reach the sandbox")
	}
}

func newPDFCard(id string) *domain.Card {
	return &domain.Card{
		ID:           id,
		Type:         domain.CardTypeDocument,
		FileID:       "file-" + id,
		FileMetadata: &domain.FileMetadata{FileName: "paper.pdf", MimeType: "application/pdf"},
		ProcessingStatus: domain.BuildInitialProcessingStatus(domain.InitialStatusOptions{
			Now:      testEpoch,
			CardType: domain.CardTypeDocument,
		}),
	}
}

func TestRenderablesPDFStoresFirstPage(t *testing.T) {
	h := newRenderHarness(newPDFCard("d1"))
	h.blobs.urls["file-d1"] = "http://blobs.local/file-d1"
	h.sandbox.result = `{"success":true,"data":"` + base64.StdEncoding.EncodeToString([]byte("page")) +
		`","width":400,"height":518,"originalWidth":612,"originalHeight":792,"mimeType":"image/png"}`

	if err := h.uc.Run(context.Background(), "d1", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := h.cards.card("d1")
	if got.ThumbnailID == "" || string(h.blobs.stored[got.ThumbnailID]) != "page" || h.blobs.mimes[got.ThumbnailID] != "image/png" {
		t.Fatalf("expected png page thumbnail, got id=%q", got.ThumbnailID)
	}
	if !got.ProcessingStatus.IsCompleted(domain.StageRenderables) {
		t.Fatalf("expected renderables completed, got %+v", got.ProcessingStatus[domain.StageRenderables])
	}
	req := h.sandbox.requests[0]
	if req.TimeoutSec != pdfScriptTimeoutSec {
		t.Fatalf("timeout = %d", req.TimeoutSec)
	}
	for _, want := range []string{`"http://blobs.local/file-d1"`, pdfJSModuleURL, "getPage(1)"} {
		if !strings.Contains(req.Code, want) {
			t.Fatalf("script missing %q", want)
		}
	}
	if strings.Contains(req.Code, "{{") {
		t.Fatalf("script parameters were not substituted")
	}
	if h.sandbox.created != 1 || h.sandbox.closed != 1 {
		t.Fatalf("session created=%d closed=%d", h.sandbox.created, h.sandbox.closed)
	}
}

func TestRenderablesPDFSandboxFailureRetries(t *testing.T) {
	h := newRenderHarness(newPDFCard("d1"))
	h.blobs.urls["file-d1"] = "http://blobs.local/file-d1"
	h.sandbox.result = `{"success":false,"error":"pdf render timed out"}`

	if err := h.uc.Run(context.Background(), "d1", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	stage := h.cards.card("d1").ProcessingStatus[domain.StageRenderables]
	if stage.Status != domain.StageFailedState || stage.Error != domain.RenderErrGeneration {
		t.Fatalf("unexpected stage %+v", stage)
	}
	if len(h.scheduler.jobs) != 1 {
		t.Fatalf("expected a retry, got %+v", h.scheduler.jobs)
	}
}

func TestThumbnailersKeepExistingThumbnail(t *testing.T) {
	cases := []struct {
		name   string
		card   *domain.Card
		render func(h *renderHarness) Renderer
	}{
		{
			name:   "raster",
			card:   newImageCard("c1", domain.FileMetadata{MimeType: "image/png", FileSize: 900_000}),
			render: func(h *renderHarness) Renderer { return NewImageThumbnailer(h.cards, h.blobs, h.fetcher, h.processor) },
		},
		{
			name: "video",
			card: &domain.Card{ID: "c1", Type: domain.CardTypeVideo, FileID: "file-c1",
				FileMetadata: &domain.FileMetadata{MimeType: "video/mp4"}},
			render: func(h *renderHarness) Renderer { return NewVideoThumbnailer(h.cards, h.blobs, h.sandbox) },
		},
		{
			name:   "svg",
			card:   newImageCard("c1", domain.FileMetadata{FileName: "logo.svg", MimeType: "image/svg+xml"}),
			render: func(h *renderHarness) Renderer { return NewSVGThumbnailer(h.cards, h.blobs, h.fetcher, h.sandbox) },
		},
		{
			name:   "pdf",
			card:   newPDFCard("c1"),
			render: func(h *renderHarness) Renderer { return NewPDFThumbnailer(h.cards, h.blobs, h.sandbox) },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.card.ThumbnailID = "thumb-existing"
			h := newRenderHarness(tc.card)
			h.source(tc.card.FileID, make([]byte, 900_000))

			res := tc.render(h).Generate(context.Background(), "c1")
			if !res.Success || res.Generated || res.ThumbnailID != "thumb-existing" {
				t.Fatalf("expected existing thumbnail result, got %+v", res)
			}
			if len(h.blobs.stored) != 0 {
				t.Fatalf("existing thumbnail must not store a new blob, got %d", len(h.blobs.stored))
			}
			if h.sandbox.created != 0 || len(h.processor.encodes) != 0 {
				t.Fatalf("existing thumbnail must not render again")
			}
			if got := h.cards.card("c1").ThumbnailID; got != "thumb-existing" {
				t.Fatalf("thumbnail handle changed to %q", got)
			}
		})
	}
}

func TestRasterThumbnailRecordsPalette(t *testing.T) {
	card := newImageCard("c1", domain.FileMetadata{MimeType: "image/jpeg"})
	h := newRenderHarness(card)
	h.source(card.FileID, make([]byte, 900_000))
	h.processor.width, h.processor.height = 800, 600
	h.processor.palette = []string{"#FF1010", "#0000D0"}

	if err := h.uc.Run(context.Background(), "c1", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := h.cards.card("c1")
	if len(got.Colors) != 2 || got.Colors[0].Hex != "#FF1010" || got.Colors[1].Hex != "#0000D0" {
		t.Fatalf("unexpected colors %+v", got.Colors)
	}
}

func TestSmallImageStillRecordsPalette(t *testing.T) {
	card := newImageCard("c1", domain.FileMetadata{MimeType: "image/png"})
	h := newRenderHarness(card)
	h.source(card.FileID, make([]byte, 10_000))
	h.processor.width, h.processor.height = 64, 64
	h.processor.palette = []string{"#202020"}

	res := NewImageThumbnailer(h.cards, h.blobs, h.fetcher, h.processor).Generate(context.Background(), "c1")
	if !res.Success || res.Generated {
		t.Fatalf("expected skipped result, got %+v", res)
	}
	if got := h.cards.card("c1").Colors; len(got) != 1 || got[0].Hex != "#202020" {
		t.Fatalf("unexpected colors %+v", got)
	}
}

func TestPaletteKeepsExistingColors(t *testing.T) {
	card := newImageCard("c1", domain.FileMetadata{MimeType: "image/png"})
	card.Colors = []domain.PaletteColor{{Hex: "#ABCDEF", Name: "sky"}}
	h := newRenderHarness(card)
	h.source(card.FileID, make([]byte, 10_000))
	h.processor.width, h.processor.height = 64, 64
	h.processor.palette = []string{"#202020"}

	NewImageThumbnailer(h.cards, h.blobs, h.fetcher, h.processor).Generate(context.Background(), "c1")
	if h.processor.paletteCalls != 0 {
		t.Fatalf("palette must not be recomputed when colors exist")
	}
	if got := h.cards.card("c1").Colors; len(got) != 1 || got[0].Name != "sky" {
		t.Fatalf("existing colors overwritten: %+v", got)
	}
}

func TestVideoSandboxFailureSchedulesRetry(t *testing.T) {
	card := &domain.Card{
		ID:           "v1",
		Type:         domain.CardTypeVideo,
		FileID:       "file-v1",
		FileMetadata: &domain.FileMetadata{MimeType: "video/mp4"},
		ProcessingStatus: domain.BuildInitialProcessingStatus(domain.InitialStatusOptions{
			Now:      testEpoch,
			CardType: domain.CardTypeVideo,
		}),
	}
	h := newRenderHarness(card)
	h.blobs.urls["file-v1"] = "http://blobs.local/file-v1"
	h.sandbox.execErr = errFake

	if err := h.uc.Run(context.Background(), "v1", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.sandbox.created != 1 || h.sandbox.closed != 1 {
		t.Fatalf("expected session to be created and closed once, got created=%d closed=%d", h.sandbox.created, h.sandbox.closed)
	}
	stage := h.cards.card("v1").ProcessingStatus[domain.StageRenderables]
	if stage.Status != domain.StageFailedState || stage.Error != domain.RenderErrKernelExecution {
		t.Fatalf("unexpected stage: %+v", stage)
	}
	if len(h.scheduler.jobs) != 1 {
		t.Fatalf("expected one retry, got %+v", h.scheduler.jobs)
	}
	retry := h.scheduler.jobs[0]
	if retry.delay != 5*time.Second || retry.job.Action != domain.JobRenderables || retry.job.RetryCount != 1 {
		t.Fatalf("unexpected retry: %+v", retry)
	}

	// Last attempt under the policy gives up.
	h.scheduler.jobs = nil
	if err := h.uc.Run(context.Background(), "v1", 2); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.scheduler.jobs) != 0 {
		t.Fatalf("expected no retry after the policy is exhausted, got %+v", h.scheduler.jobs)
	}
}

func TestVideoThumbnailStoresFrame(t *testing.T) {
	card := &domain.Card{
		ID:           "v1",
		Type:         domain.CardTypeVideo,
		FileID:       "file-v1",
		FileMetadata: &domain.FileMetadata{MimeType: "video/mp4"},
	}
	h := newRenderHarness(card)
	h.blobs.urls["file-v1"] = "http://blobs.local/file-v1"
	h.sandbox.result = `{"success":true,"data":"` + base64.StdEncoding.EncodeToString([]byte("frame")) +
		`","width":400,"height":225,"originalWidth":1920,"originalHeight":1080,"duration":12.5,"mimeType":"image/webp"}`

	res := NewVideoThumbnailer(h.cards, h.blobs, h.sandbox).Generate(context.Background(), "v1")
	if !res.Success || !res.Generated {
		t.Fatalf("expected generated result, got %+v", res)
	}
	if string(h.blobs.stored[res.ThumbnailID]) != "frame" {
		t.Fatalf("expected decoded frame bytes to be stored")
	}
	got := h.cards.card("v1")
	if got.FileMetadata.Width != 1920 || got.FileMetadata.Height != 1080 || got.FileMetadata.Duration != 12.5 {
		t.Fatalf("unexpected file metadata: %+v", got.FileMetadata)
	}
	script := h.sandbox.requests[0].Code
	if !strings.Contains(script, `"http://blobs.local/file-v1"`) || strings.Contains(script, "{{") {
		t.Fatalf("script parameters were not substituted: %s", script)
	}
}

func TestSVGThumbnailUsesNativeDimensions(t *testing.T) {
	card := newImageCard("s1", domain.FileMetadata{FileName: "logo.svg", MimeType: "image/svg+xml"})
	h := newRenderHarness(card)
	h.source(card.FileID, []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="120px" height="80"><rect/></svg>`))
	h.sandbox.result = `{"success":true,"data":"` + base64.StdEncoding.EncodeToString([]byte("png")) +
		`","width":500,"height":333,"originalWidth":800,"originalHeight":600,"mimeType":"image/png"}`

	if err := h.uc.Run(context.Background(), "s1", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := h.cards.card("s1")
	if got.ThumbnailID == "" || h.blobs.mimes[got.ThumbnailID] != "image/png" {
		t.Fatalf("expected png thumbnail, got id=%q", got.ThumbnailID)
	}
	if got.FileMetadata.Width != 120 || got.FileMetadata.Height != 80 {
		t.Fatalf("expected native 120x80, got %dx%d", got.FileMetadata.Width, got.FileMetadata.Height)
	}
	if len(h.processor.encodes) != 0 {
		t.Fatalf("svg must not go through the raster path")
	}
	req := h.sandbox.requests[0]
	if req.TimeoutSec != 60 || !strings.Contains(req.Code, "data:image/svg+xml;base64,") {
		t.Fatalf("unexpected sandbox request: timeout=%d", req.TimeoutSec)
	}
}

func TestSVGThumbnailRejectsNonSVGContent(t *testing.T) {
	card := newImageCard("s1", domain.FileMetadata{FileName: "logo.svg"})
	h := newRenderHarness(card)
	h.source(card.FileID, []byte("<html><body>nope</body></html>"))

	if err := h.uc.Run(context.Background(), "s1", 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	stage := h.cards.card("s1").ProcessingStatus[domain.StageRenderables]
	if stage.Error != domain.RenderErrInvalidSVG {
		t.Fatalf("expected invalid_svg, got %+v", stage)
	}
	if h.sandbox.created != 0 || len(h.scheduler.jobs) != 0 {
		t.Fatalf("invalid svg must not reach the sandbox or retry")
	}
}

func TestSVGDimensions(t *testing.T) {
	cases := []struct {
		svg    string
		w, h   float64
		native bool
	}{
		{`<svg width="64" height="32">`, 64, 32, true},
		{`<svg width='10.5em' height='4'>`, 10.5, 4, true},
		{`<svg viewBox="0 0 300 150">`, 300, 150, true},
		{`<svg viewBox="0,0,30,15">`, 30, 15, true},
		{`<svg width="100%" viewBox="0 0 20 10">`, 20, 10, true},
		{`<svg>`, 0, 0, false},
		{`<?xml version="1.0"?>` + "\n" + `<svg xmlns="http://www.w3.org/2000/svg"` + "\n  " + `width="48" height="24">`, 48, 24, true},
		{`<svg stroke-width="3" viewBox="0 0 90 45"><rect width="10" height="5"/></svg>`, 90, 45, true},
		{`<svg viewBox="0 0 60 30"><rect width="10" height="5"/></svg>`, 60, 30, true},
		{`<svg data-height="7" line-width="2"><rect width="10" height="5"/></svg>`, 0, 0, false},
		{`<rect width="10" height="5"/>`, 0, 0, false},
	}
	for _, tc := range cases {
		w, h, ok := SVGDimensions(tc.svg)
		if w != tc.w || h != tc.h || ok != tc.native {
			t.Fatalf("SVGDimensions(%q) = %v,%v,%v", tc.svg, w, h, ok)
		}
	}
}

func TestIsSVGCard(t *testing.T) {
	if !IsSVGCard(&domain.Card{FileMetadata: &domain.FileMetadata{MimeType: "IMAGE/SVG+XML"}}) {
		t.Fatalf("mime match should be case-insensitive")
	}
	if !IsSVGCard(&domain.Card{FileMetadata: &domain.FileMetadata{FileName: "a.SVG"}}) {
		t.Fatalf("extension match expected")
	}
	if IsSVGCard(&domain.Card{FileMetadata: &domain.FileMetadata{FileName: "a.png"}}) || IsSVGCard(&domain.Card{}) {
		t.Fatalf("unexpected svg match")
	}
}
