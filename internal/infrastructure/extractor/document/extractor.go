package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

type format string

const (
	formatPDF   format = "pdf"
	formatXLSX  format = "xlsx"
	formatHTML  format = "html"
	formatPlain format = "plain"
)

// Extractor pulls plain text out of document uploads for AI analysis.
type Extractor struct {
	maxChars int
}

func NewExtractor(maxChars int) *Extractor {
	return &Extractor{maxChars: maxChars}
}

func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}

	var (
		text string
		err  error
	)
	switch detectFormat(mimeType, fileName) {
	case formatPDF:
		text, err = extractPDF(data)
	case formatXLSX:
		text, err = extractXLSX(data)
	case formatHTML:
		text, err = extractHTML(data)
	default:
		text, err = extractPlain(data, fileName)
	}
	if err != nil {
		return "", err
	}
	return e.limit(collapseBlankLines(text)), nil
}

func (e *Extractor) limit(text string) string {
	if e.maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= e.maxChars {
		return text
	}
	return string(runes[:e.maxChars])
}

func detectFormat(mimeType, fileName string) format {
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case mime == "application/pdf" || ext == ".pdf":
		return formatPDF
	case strings.Contains(mime, "spreadsheetml") || ext == ".xlsx":
		return formatXLSX
	case strings.HasPrefix(mime, "text/html") || ext == ".html" || ext == ".htm":
		return formatHTML
	default:
		return formatPlain
	}
}

func collapseBlankLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func unsupported(fileName string, err error) error {
	return domain.WrapError(domain.ErrUnsupported, "extract document", fmt.Errorf("%s: %w", fileName, err))
}
