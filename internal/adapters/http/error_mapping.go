package httpadapter

import (
	"net/http"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrCardNotFound), domain.IsKind(err, domain.ErrBlobNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrUnsupported):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// actionStatus keeps failed actions at 200 unless the card is missing; the body carries the outcome.
func actionStatus(result domain.ActionResult) int {
	if !result.Success && result.Reason == "not_found" {
		return http.StatusNotFound
	}
	return http.StatusOK
}
