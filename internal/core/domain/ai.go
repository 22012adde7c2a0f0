package domain

import "strings"

type AIMetadata struct {
	Tags    []string `json:"tags"`
	Summary string   `json:"summary"`
}

func (m AIMetadata) IsEmpty() bool {
	return len(m.Tags) == 0 && strings.TrimSpace(m.Summary) == ""
}

type AnalysisKind string

const (
	AnalysisText AnalysisKind = "text"
	AnalysisLink AnalysisKind = "link"
)

type TextAnalysisRequest struct {
	Kind    AnalysisKind
	Content string
	URL     string
}

type AudioClip struct {
	Data     []byte
	MimeType string
	FileName string
}

// AudioExtension infers the upload extension a transcription endpoint accepts.
func AudioExtension(mimeType string) string {
	mime := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mime, "ogg"), strings.Contains(mime, "oga"):
		return "ogg"
	case strings.Contains(mime, "mp3"), strings.Contains(mime, "mpeg"), strings.Contains(mime, "mpga"):
		return "mp3"
	case strings.Contains(mime, "wav"):
		return "wav"
	case strings.Contains(mime, "m4a"), strings.Contains(mime, "mp4"):
		return "m4a"
	case strings.Contains(mime, "webm"):
		return "webm"
	default:
		return "mp3"
	}
}

// AIConfidence is the confidence recorded on the metadata stage per card type.
func AIConfidence(cardType CardType) float64 {
	switch cardType {
	case CardTypeText, CardTypeQuote:
		return 0.95
	case CardTypeImage, CardTypeLink, CardTypePalette:
		return 0.9
	case CardTypeAudio, CardTypeDocument:
		return 0.85
	case CardTypeVideo:
		return 0.8
	}
	return 0.8
}
