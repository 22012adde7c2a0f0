package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

// frameCapture is the JSON payload the in-page scripts resolve with.
type frameCapture struct {
	Success        bool    `json:"success"`
	Data           string  `json:"data"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	OriginalWidth  float64 `json:"originalWidth"`
	OriginalHeight float64 `json:"originalHeight"`
	Duration       float64 `json:"duration"`
	MimeType       string  `json:"mimeType"`
	Error          string  `json:"error"`
}

// sandboxError carries one of the renderer error codes.
type sandboxError struct {
	code   string
	detail string
}

func (e *sandboxError) Error() string {
	if e.detail == "" {
		return e.code
	}
	return e.code + ": " + e.detail
}

// captureInSandbox owns the session lifecycle: create, execute, always close.
func captureInSandbox(
	ctx context.Context,
	sandbox ports.BrowserSandbox,
	renderer string,
	cardID string,
	req domain.SandboxRequest,
) (frameCapture, []byte, error) {
	sessionID, err := sandbox.CreateSession(ctx)
	if err != nil {
		return frameCapture{}, nil, &sandboxError{code: domain.RenderErrKernelExecution, detail: err.Error()}
	}
	defer func() {
		if closeErr := sandbox.CloseSession(context.WithoutCancel(ctx), sessionID); closeErr != nil {
			slog.Warn("sandbox_session_close_failed",
				"renderer", renderer,
				"card_id", cardID,
				"session_id", sessionID,
				"error", closeErr,
			)
		}
	}()

	resp, err := sandbox.Execute(ctx, sessionID, req)
	if err != nil {
		return frameCapture{}, nil, &sandboxError{code: domain.RenderErrKernelExecution, detail: err.Error()}
	}
	if !resp.Success {
		return frameCapture{}, nil, &sandboxError{code: domain.RenderErrKernelExecution, detail: resp.Error}
	}

	var capture frameCapture
	if err := json.Unmarshal([]byte(resp.Result), &capture); err != nil {
		return frameCapture{}, nil, &sandboxError{code: domain.RenderErrGeneration, detail: "decode script result: " + err.Error()}
	}
	if !capture.Success || capture.Data == "" {
		return capture, nil, &sandboxError{code: domain.RenderErrGeneration, detail: capture.Error}
	}

	data, err := base64.StdEncoding.DecodeString(capture.Data)
	if err != nil {
		return capture, nil, &sandboxError{code: domain.RenderErrGeneration, detail: "decode image data: " + err.Error()}
	}
	if capture.MimeType == "" {
		capture.MimeType = "image/png"
	}
	return capture, data, nil
}

// jsLiteral renders v as a JavaScript literal.
func jsLiteral(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode script parameter: %v", err))
	}
	return string(raw)
}

func renderScript(template string, params map[string]any) string {
	replacements := make([]string, 0, len(params)*2)
	for key, value := range params {
		replacements = append(replacements, "{{"+key+"}}", jsLiteral(value))
	}
	return strings.NewReplacer(replacements...).Replace(template)
}

// fitWithinJS mirrors FitWithin in the page.
const fitWithinJS = `
  const fitWithin = (w, h, maxW, maxH) => {
    const aspect = w / h;
    let tw, th;
    if (aspect > 1) {
      tw = Math.min(w, maxW);
      th = Math.round(tw / aspect);
    } else {
      th = Math.min(h, maxH);
      tw = Math.round(th * aspect);
    }
    if (tw > maxW) { tw = maxW; th = Math.round(tw / aspect); }
    if (th > maxH) { th = maxH; tw = Math.round(th * aspect); }
    return [Math.max(tw, 1), Math.max(th, 1)];
  };
`
