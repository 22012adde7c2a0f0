package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

var errFake = errors.New("fake failure")

type cardStoreFake struct {
	mu      sync.Mutex
	cards   map[string]*domain.Card
	patches []domain.CardPatch
	deleted []string

	getErr    error
	patchErr  error
	createErr error
	// deleteFail rejects deletes of the listed ids.
	deleteFail map[string]bool

	missingAI    []string
	linksMissing []string
	listAfter    []string
}

func newCardStore(cards ...*domain.Card) *cardStoreFake {
	f := &cardStoreFake{cards: map[string]*domain.Card{}}
	for _, c := range cards {
		f.cards[c.ID] = c
	}
	return f
}

func copyCard(c *domain.Card) *domain.Card {
	out := *c
	out.ProcessingStatus = c.ProcessingStatus.Clone()
	if c.FileMetadata != nil {
		fm := *c.FileMetadata
		out.FileMetadata = &fm
	}
	if c.Metadata != nil {
		md := *c.Metadata
		out.Metadata = &md
	}
	out.AITags = append([]string(nil), c.AITags...)
	return &out
}

func (f *cardStoreFake) Create(_ context.Context, card *domain.Card) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[card.ID] = copyCard(card)
	return nil
}

func (f *cardStoreFake) GetByID(_ context.Context, id string) (*domain.Card, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[id]
	if !ok {
		return nil, domain.ErrCardNotFound
	}
	return copyCard(card), nil
}

func (f *cardStoreFake) Patch(_ context.Context, id string, patch domain.CardPatch) error {
	if f.patchErr != nil {
		return f.patchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[id]
	if !ok {
		return domain.ErrCardNotFound
	}
	card.Apply(patch)
	f.patches = append(f.patches, patch)
	return nil
}

func (f *cardStoreFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteFail[id] {
		return errFake
	}
	delete(f.cards, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *cardStoreFake) ListDeletedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Card{}
	for _, id := range f.sortedIDs() {
		card := f.cards[id]
		if card.IsDeleted && card.DeletedAt != nil && card.DeletedAt.Before(cutoff) {
			out = append(out, *copyCard(card))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *cardStoreFake) ListMissingAI(context.Context, time.Time, int) ([]string, error) {
	return f.missingAI, nil
}

func (f *cardStoreFake) ListLinksMissingMetadata(_ context.Context, afterID string, _ int) ([]string, error) {
	f.listAfter = append(f.listAfter, afterID)
	return f.linksMissing, nil
}

func (f *cardStoreFake) ListRecent(_ context.Context, limit int) ([]domain.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Card{}
	for _, id := range f.sortedIDs() {
		out = append(out, *copyCard(f.cards[id]))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *cardStoreFake) sortedIDs() []string {
	ids := make([]string, 0, len(f.cards))
	for id := range f.cards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *cardStoreFake) card(id string) *domain.Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyCard(f.cards[id])
}

type scheduledJob struct {
	delay time.Duration
	job   domain.Job
}

type schedulerFake struct {
	mu     sync.Mutex
	jobs   []scheduledJob
	err    error
	failOn map[string]bool
}

func (f *schedulerFake) RunAfter(_ context.Context, delay time.Duration, job domain.Job) error {
	if f.err != nil {
		return f.err
	}
	if f.failOn[job.CardID] {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, scheduledJob{delay: delay, job: job})
	return nil
}

func (f *schedulerFake) actions() []domain.JobAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.JobAction, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.job.Action)
	}
	return out
}

type blobStoreFake struct {
	urls     map[string]string
	stored   map[string][]byte
	mimes    map[string]string
	deleted  []string
	storeErr error
	seq      int
}

func newBlobStore() *blobStoreFake {
	return &blobStoreFake{urls: map[string]string{}, stored: map[string][]byte{}, mimes: map[string]string{}}
}

func (f *blobStoreFake) Store(_ context.Context, data []byte, mimeType string) (string, error) {
	if f.storeErr != nil {
		return "", f.storeErr
	}
	f.seq++
	handle := fmt.Sprintf("blob-%d", f.seq)
	f.stored[handle] = data
	f.mimes[handle] = mimeType
	f.urls[handle] = "http://blobs.local/" + handle
	return handle, nil
}

func (f *blobStoreFake) URL(_ context.Context, handle string) (string, error) {
	return f.urls[handle], nil
}

func (f *blobStoreFake) Open(_ context.Context, handle string) ([]byte, string, error) {
	data, ok := f.stored[handle]
	if !ok {
		return nil, "", errFake
	}
	return data, f.mimes[handle], nil
}

func (f *blobStoreFake) Delete(_ context.Context, handle string) error {
	f.deleted = append(f.deleted, handle)
	return nil
}

type fetcherFake struct {
	data map[string][]byte
	mime string
	err  error
}

func (f *fetcherFake) Fetch(_ context.Context, url string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	data, ok := f.data[url]
	if !ok {
		return nil, "", fmt.Errorf("no fixture for %s", url)
	}
	return data, f.mime, nil
}

type encodeCall struct {
	width, height, quality int
}

type imageProcessorFake struct {
	width, height int
	decodeErr     error
	encodes       []encodeCall
	palette       []string
	paletteCalls  int
}

func (f *imageProcessorFake) DecodeOriented([]byte) (image.Image, error) {
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	return image.NewGray(image.Rect(0, 0, f.width, f.height)), nil
}

func (f *imageProcessorFake) EncodeThumbnail(_ image.Image, width, height, quality int) ([]byte, string, error) {
	f.encodes = append(f.encodes, encodeCall{width: width, height: height, quality: quality})
	return []byte("webp-bytes"), "image/webp", nil
}

func (f *imageProcessorFake) Palette(image.Image, int) []string {
	f.paletteCalls++
	return f.palette
}

type sandboxFake struct {
	result    string
	execErr   error
	createErr error
	created   int
	closed    int
	requests  []domain.SandboxRequest
}

func (f *sandboxFake) CreateSession(context.Context) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return fmt.Sprintf("session-%d", f.created), nil
}

func (f *sandboxFake) Execute(_ context.Context, _ string, req domain.SandboxRequest) (domain.SandboxResponse, error) {
	f.requests = append(f.requests, req)
	if f.execErr != nil {
		return domain.SandboxResponse{}, f.execErr
	}
	return domain.SandboxResponse{Success: true, Result: f.result}, nil
}

func (f *sandboxFake) CloseSession(context.Context, string) error {
	f.closed++
	return nil
}

type modelFake struct {
	meta      domain.AIMetadata
	errs      []error
	calls     int
	textReqs  []domain.TextAnalysisRequest
	imageURLs []string
}

func (f *modelFake) next() (domain.AIMetadata, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.AIMetadata{}, err
		}
	}
	return f.meta, nil
}

func (f *modelFake) DescribeText(_ context.Context, req domain.TextAnalysisRequest) (domain.AIMetadata, error) {
	f.textReqs = append(f.textReqs, req)
	return f.next()
}

func (f *modelFake) DescribeImage(_ context.Context, imageURL string) (domain.AIMetadata, error) {
	f.imageURLs = append(f.imageURLs, imageURL)
	return f.next()
}

func (f *modelFake) ModelMeta() domain.AIModelMeta {
	return domain.AIModelMeta{Provider: "fake", Model: "fake-model", Version: "1"}
}

type transcriberFake struct {
	text  string
	err   error
	clips []domain.AudioClip
}

func (f *transcriberFake) Transcribe(_ context.Context, clip domain.AudioClip) (string, error) {
	f.clips = append(f.clips, clip)
	return f.text, f.err
}

type documentExtractorFake struct {
	text string
	err  error
}

func (f *documentExtractorFake) Extract(context.Context, []byte, string, string) (string, error) {
	return f.text, f.err
}

type unfurlerFake struct {
	result domain.UnfurlResult
	err    error
	urls   []string
}

func (f *unfurlerFake) Unfurl(_ context.Context, url string) (domain.UnfurlResult, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return domain.UnfurlResult{}, f.err
	}
	return f.result, nil
}

type observerFake struct {
	outcomes []string
}

func (f *observerFake) ObserveStage(action domain.JobAction, outcome string) {
	f.outcomes = append(f.outcomes, string(action)+":"+outcome)
}

// steppingClock returns a time that advances by one second on every call.
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type structuredFake struct {
	entities []domain.StructuredEntity
	err      error
	urls     []string
}

func (f *structuredFake) FetchStructuredData(_ context.Context, url string) ([]domain.StructuredEntity, error) {
	f.urls = append(f.urls, url)
	return f.entities, f.err
}
