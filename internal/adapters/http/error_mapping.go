package httpadapter

import (
	"net/http"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrThreadBusy):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrLLMRateLimit),
		domain.IsKind(err, domain.ErrLLMConnection),
		domain.IsKind(err, domain.ErrSearchUnavailable),
		domain.IsKind(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrLLMAuth):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
