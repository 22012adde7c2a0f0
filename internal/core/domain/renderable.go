package domain

// Error codes surfaced by renderers instead of raised errors.
const (
	RenderErrCardNotFound      = "card_not_found"
	RenderErrMissingStorageURL = "missing_storage_url"
	RenderErrKernelExecution   = "kernel_execution_failed"
	RenderErrGeneration        = "thumbnail_generation_failed"
	RenderErrInvalidSVG        = "invalid_svg"
)

// RenderResult is the value every renderer returns; renderers never raise past it.
type RenderResult struct {
	Success     bool   `json:"success"`
	Generated   bool   `json:"generated"`
	ThumbnailID string `json:"thumbnail_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

func RenderSkipped() RenderResult {
	return RenderResult{Success: true}
}

func RenderExisting(thumbnailID string) RenderResult {
	return RenderResult{Success: true, ThumbnailID: thumbnailID}
}

func RenderGenerated(thumbnailID string) RenderResult {
	return RenderResult{Success: true, Generated: true, ThumbnailID: thumbnailID}
}

func RenderFailed(message string) RenderResult {
	return RenderResult{Error: message}
}

type SandboxRequest struct {
	Code       string `json:"code"`
	TimeoutSec int    `json:"timeout_sec"`
}

// SandboxResponse carries the script's JSON string result.
type SandboxResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}
