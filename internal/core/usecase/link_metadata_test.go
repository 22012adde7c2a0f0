package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

func newLinkHarness(card *domain.Card, unfurler *unfurlerFake) (*LinkMetadataUseCase, *cardStoreFake, *schedulerFake) {
	cards := newCardStore(card)
	scheduler := &schedulerFake{}
	uc := NewLinkMetadataUseCase(cards, unfurler, scheduler, nil)
	uc.now = steppingClock(testEpoch)
	return uc, cards, scheduler
}

func newLinkCard(id, url string) *domain.Card {
	card := newCard(id, domain.CardTypeLink)
	card.URL = url
	card.MetadataStatus = domain.MetadataStatusPending
	return card
}

func TestLinkMetadataTimeoutRetriesThenFails(t *testing.T) {
	unfurler := &unfurlerFake{err: domain.WrapError(domain.ErrTimeout, "unfurl", errors.New("deadline exceeded"))}
	uc, cards, scheduler := newLinkHarness(newLinkCard("l1", "example.com/a"), unfurler)
	ctx := context.Background()

	for retry := 0; retry < 3; retry++ {
		if err := uc.Run(ctx, "l1", retry, false); err != nil {
			t.Fatalf("Run(%d) error = %v", retry, err)
		}
	}

	if len(scheduler.jobs) != 2 {
		t.Fatalf("expected two retries, got %+v", scheduler.jobs)
	}
	for i, j := range scheduler.jobs {
		if j.delay != 5*time.Second || j.job.RetryCount != i+1 || j.job.Action != domain.JobLinkMetadata {
			t.Fatalf("retry %d = %+v", i, j)
		}
	}
	for _, u := range unfurler.urls {
		if u != "https://example.com/a" {
			t.Fatalf("expected normalized url, got %q", u)
		}
	}

	got := cards.card("l1")
	if got.MetadataStatus != domain.MetadataStatusFailed {
		t.Fatalf("expected failed status, got %q", got.MetadataStatus)
	}
	if got.MetadataTitle != "example.com/a" {
		t.Fatalf("expected title to fall back to the raw url, got %q", got.MetadataTitle)
	}
	if got.Metadata == nil || got.Metadata.LinkTitle != "example.com/a" {
		t.Fatalf("expected placeholder metadata, got %+v", got.Metadata)
	}
}

func TestLinkMetadataNetworkErrorRetriesOnce(t *testing.T) {
	unfurler := &unfurlerFake{err: domain.WrapError(domain.ErrNetwork, "unfurl", errors.New("connection reset"))}
	uc, cards, scheduler := newLinkHarness(newLinkCard("l1", "https://example.com"), unfurler)

	if err := uc.Run(context.Background(), "l1", 0, false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(scheduler.jobs) != 1 || scheduler.jobs[0].delay != 5*time.Second {
		t.Fatalf("expected one 5s retry, got %+v", scheduler.jobs)
	}
	if cards.card("l1").MetadataStatus != domain.MetadataStatusPending {
		t.Fatalf("status should stay pending while a retry is scheduled")
	}

	if err := uc.Run(context.Background(), "l1", 1, false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(scheduler.jobs) != 1 || cards.card("l1").MetadataStatus != domain.MetadataStatusFailed {
		t.Fatalf("expected failure after the single network retry")
	}
}

func TestLinkMetadataRejectionFailsImmediately(t *testing.T) {
	unfurler := &unfurlerFake{err: domain.WrapError(domain.ErrRejected, "unfurl", errors.New("status 400"))}
	uc, cards, scheduler := newLinkHarness(newLinkCard("l1", "https://bad.example"), unfurler)

	if err := uc.Run(context.Background(), "l1", 0, true); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if cards.card("l1").MetadataStatus != domain.MetadataStatusFailed {
		t.Fatalf("expected failed status")
	}
	// Only the chained categorize job, no retry.
	if len(scheduler.jobs) != 1 || scheduler.jobs[0].job.Action != domain.JobCategorize || !scheduler.jobs[0].job.Chain {
		t.Fatalf("unexpected jobs %+v", scheduler.jobs)
	}
}

func TestLinkMetadataSuccessSavesAndChains(t *testing.T) {
	raw := json.RawMessage(`{"title":"Example","url":"https://example.com"}`)
	unfurler := &unfurlerFake{result: domain.UnfurlResult{
		Title:       "Example",
		Description: "An example page",
		ImageURL:    "https://example.com/og.png",
		LogoURL:     "https://example.com/favicon.ico",
		Raw:         raw,
	}}
	card := newLinkCard("l1", "https://example.com")
	card.MetadataTitle = "user supplied"
	uc, cards, scheduler := newLinkHarness(card, unfurler)

	if err := uc.Run(context.Background(), "l1", 0, true); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := cards.card("l1")
	if got.MetadataStatus != domain.MetadataStatusCompleted || got.MetadataTitle != "Example" || got.MetadataDescription != "An example page" {
		t.Fatalf("unexpected link fields %+v", got)
	}
	if got.Metadata.LinkImage != "https://example.com/og.png" || got.Metadata.LinkFavicon != "https://example.com/favicon.ico" {
		t.Fatalf("unexpected metadata %+v", got.Metadata)
	}
	if string(got.Metadata.Raw) != string(raw) {
		t.Fatalf("raw payload not kept: %s", got.Metadata.Raw)
	}
	if len(scheduler.jobs) != 1 || scheduler.jobs[0].job.Action != domain.JobCategorize {
		t.Fatalf("expected categorize to be chained, got %+v", scheduler.jobs)
	}

	// Completed with a raw payload: a second run does not unfurl again.
	if err := uc.Run(context.Background(), "l1", 0, false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(unfurler.urls) != 1 {
		t.Fatalf("expected a single unfurl, got %d", len(unfurler.urls))
	}
}

func TestLinkMetadataKeepsTitleWhenUnfurlHasNone(t *testing.T) {
	unfurler := &unfurlerFake{result: domain.UnfurlResult{Raw: json.RawMessage(`{}`)}}
	card := newLinkCard("l1", "https://example.com")
	card.MetadataTitle = "user supplied"
	uc, cards, _ := newLinkHarness(card, unfurler)

	if err := uc.Run(context.Background(), "l1", 0, false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := cards.card("l1"); got.MetadataTitle != "user supplied" {
		t.Fatalf("empty unfurl title must not overwrite, got %q", got.MetadataTitle)
	}
}

func TestLinkMetadataIgnoresOtherTypes(t *testing.T) {
	card := newCard("t1", domain.CardTypeText)
	unfurler := &unfurlerFake{}
	uc, cards, _ := newLinkHarness(card, unfurler)

	if err := uc.Run(context.Background(), "t1", 0, true); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(unfurler.urls) != 0 || len(cards.patches) != 0 {
		t.Fatalf("non-link cards must be left alone")
	}
}

func TestLinkMetadataMissingURLFails(t *testing.T) {
	uc, cards, _ := newLinkHarness(newLinkCard("l1", ""), &unfurlerFake{})

	if err := uc.Run(context.Background(), "l1", 0, false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if cards.card("l1").MetadataStatus != domain.MetadataStatusFailed {
		t.Fatalf("expected failed status for a link without url")
	}
}
