package domain

import (
	"fmt"
	"strings"
	"time"
)

type Stage string

const (
	StageClassify    Stage = "classify"
	StageCategorize  Stage = "categorize"
	StageMetadata    Stage = "metadata"
	StageRenderables Stage = "renderables"
)

var Stages = []Stage{StageClassify, StageCategorize, StageMetadata, StageRenderables}

func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Stages {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, raw)
}

type StageState string

const (
	StagePendingState    StageState = "pending"
	StageInProgressState StageState = "in_progress"
	StageCompletedState  StageState = "completed"
	StageFailedState     StageState = "failed"
)

// StageStatus is embedded in the card; it is never persisted on its own.
type StageStatus struct {
	Status      StageState `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Confidence  *float64   `json:"confidence,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (s StageStatus) IsCompleted() bool { return s.Status == StageCompletedState }

func (s StageStatus) IsTerminal() bool {
	return s.Status == StageCompletedState || s.Status == StageFailedState
}

func StagePending() StageStatus {
	return StageStatus{Status: StagePendingState}
}

func StageCompleted(now time.Time, confidence float64) StageStatus {
	return StageCompletedFrom(now, confidence, nil)
}

// StageCompletedFrom completes a stage keeping the startedAt of the attempt that produced it.
func StageCompletedFrom(now time.Time, confidence float64, previous *StageStatus) StageStatus {
	out := StageStatus{
		Status:      StageCompletedState,
		CompletedAt: timePtr(now),
		Confidence:  floatPtr(clampConfidence(confidence)),
	}
	if previous != nil && previous.StartedAt != nil {
		out.StartedAt = timePtr(*previous.StartedAt)
	}
	return out
}

func StageInProgress(now time.Time, previous *StageStatus) StageStatus {
	out := StageStatus{
		Status:    StageInProgressState,
		StartedAt: timePtr(now),
	}
	if previous != nil {
		if previous.StartedAt != nil && !previous.IsCompleted() {
			out.StartedAt = timePtr(*previous.StartedAt)
		}
		if previous.Confidence != nil {
			out.Confidence = floatPtr(*previous.Confidence)
		}
	}
	return out
}

func StageFailed(now time.Time, errMessage string, previous *StageStatus) StageStatus {
	out := StageStatus{
		Status:      StageFailedState,
		StartedAt:   timePtr(now),
		CompletedAt: timePtr(now),
		Error:       errMessage,
	}
	if previous != nil {
		if previous.StartedAt != nil {
			out.StartedAt = timePtr(*previous.StartedAt)
		}
		if previous.Confidence != nil {
			out.Confidence = floatPtr(*previous.Confidence)
		}
	}
	return out
}

// ProcessingStatus maps stage name to its status record.
type ProcessingStatus map[Stage]StageStatus

func (p ProcessingStatus) Clone() ProcessingStatus {
	if p == nil {
		return nil
	}
	out := make(ProcessingStatus, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Get returns a copy of the stage entry so callers can pass it as "previous".
func (p ProcessingStatus) Get(stage Stage) (*StageStatus, bool) {
	s, ok := p[stage]
	if !ok {
		return nil, false
	}
	return &s, true
}

func (p ProcessingStatus) IsCompleted(stage Stage) bool {
	s, ok := p[stage]
	return ok && s.IsCompleted()
}

// FullyEnriched holds when every stage the card type requires is completed.
// A classify entry, when present, is required as well.
func (p ProcessingStatus) FullyEnriched(cardType CardType) bool {
	for _, stage := range RequiredStages(cardType) {
		if !p.IsCompleted(stage) {
			return false
		}
	}
	if s, ok := p[StageClassify]; ok && !s.IsCompleted() {
		return false
	}
	return true
}

func WithStageStatus(status ProcessingStatus, stage Stage, next StageStatus) ProcessingStatus {
	out := make(ProcessingStatus, len(status)+1)
	for k, v := range status {
		out[k] = v
	}
	out[stage] = next
	return out
}

func ShouldRunRenderablesStage(cardType CardType) bool {
	switch cardType {
	case CardTypeImage, CardTypeVideo, CardTypeDocument:
		return true
	case CardTypeText, CardTypeLink, CardTypeAudio, CardTypePalette, CardTypeQuote:
		return false
	}
	return false
}

func ShouldRunCategorizeStage(cardType CardType) bool {
	return cardType == CardTypeLink
}

// RequiredStages lists the stages a card type actually runs.
func RequiredStages(cardType CardType) []Stage {
	stages := []Stage{StageMetadata}
	if ShouldRunCategorizeStage(cardType) {
		stages = append(stages, StageCategorize)
	}
	if ShouldRunRenderablesStage(cardType) {
		stages = append(stages, StageRenderables)
	}
	return stages
}

type InitialStatusOptions struct {
	Now      time.Time
	CardType CardType
	// ClassificationStatus is set only when an upstream classifier produced a result.
	ClassificationStatus *StageStatus
	// MetadataStageNeeded defaults to true when nil.
	MetadataStageNeeded *bool
	CategorizeOverride  *bool
	RenderablesOverride *bool
}

func BuildInitialProcessingStatus(opts InitialStatusOptions) ProcessingStatus {
	status := ProcessingStatus{}

	if opts.ClassificationStatus != nil {
		status[StageClassify] = *opts.ClassificationStatus
	}

	runCategorize := ShouldRunCategorizeStage(opts.CardType)
	if opts.CategorizeOverride != nil {
		runCategorize = *opts.CategorizeOverride
	}
	status[StageCategorize] = pendingOrDone(runCategorize, opts.Now)

	metadataNeeded := true
	if opts.MetadataStageNeeded != nil {
		metadataNeeded = *opts.MetadataStageNeeded
	}
	status[StageMetadata] = pendingOrDone(metadataNeeded, opts.Now)

	runRenderables := ShouldRunRenderablesStage(opts.CardType)
	if opts.RenderablesOverride != nil {
		runRenderables = *opts.RenderablesOverride
	}
	status[StageRenderables] = pendingOrDone(runRenderables, opts.Now)

	return status
}

func pendingOrDone(needed bool, now time.Time) StageStatus {
	if needed {
		return StagePending()
	}
	return StageCompleted(now, 1)
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func floatPtr(f float64) *float64 {
	return &f
}
