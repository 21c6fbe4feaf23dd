package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/scribe/internal/api"
	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

// writeJSON writes v as a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body carrying the request's correlation id.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, status int, code, msg string) {
	cid, _ := GetCorrelationID(ctx)
	writeJSON(w, status, api.ErrorResponse{Error: msg, Code: code, CorrelationID: cid})
	h.log().Debug("wrote error response", "cid", cid, "status", status, "code", code)
}

// mapServiceError maps domain/store/service errors to HTTP responses. Checks
// run in order: a download of a partial attachment wraps both ErrNotFound and
// ErrPartialAttachment and must come out as 404.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrInvalidID):
		h.log().Warn("service error", "cid", cid, "code", "invalid_id")
		h.writeError(ctx, w, http.StatusBadRequest, "invalid_id", "invalid id")
	case errors.Is(err, domain.ErrExtensionNotAllowed):
		h.log().Warn("service error", "cid", cid, "code", "extension_not_allowed")
		h.writeError(ctx, w, http.StatusBadRequest, "extension_not_allowed", "extension not allowed")
	case errors.Is(err, domain.ErrInvalidInput):
		h.log().Warn("service error", "cid", cid, "code", "invalid_input", "err", err)
		h.writeError(ctx, w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, app.ErrSizeExceeded), errors.As(err, &mbe):
		h.log().Warn("service error", "cid", cid, "code", "size_exceeded")
		h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "size_exceeded", "size exceeded")
	case errors.Is(err, app.ErrNotFound):
		h.log().Info("service error", "cid", cid, "code", "not_found", "partial", errors.Is(err, domain.ErrPartialAttachment))
		h.writeError(ctx, w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrPartialAttachment):
		h.log().Info("service error", "cid", cid, "code", "partial_attachment", "err", err)
		h.writeError(ctx, w, http.StatusConflict, "partial_attachment", err.Error())
	case errors.Is(err, app.ErrConflict):
		h.log().Info("service error", "cid", cid, "code", "conflict", "err", err)
		h.writeError(ctx, w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, app.ErrNoAttachment):
		h.log().Info("service error", "cid", cid, "code", "no_attachment")
		h.writeError(ctx, w, http.StatusConflict, "no_attachment", "post has no attachment")
	case errors.Is(err, app.ErrStorageUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.log().Error("service error", "cid", cid, "code", "unavailable", "err", err)
		h.writeError(ctx, w, http.StatusServiceUnavailable, "unavailable", "storage unavailable")
	default:
		// Internal / unexpected: do not echo the raw error to the client.
		h.log().Error("unhandled service error", "cid", cid, "code", "unhandled", "err", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "internal", "internal")
	}
}
