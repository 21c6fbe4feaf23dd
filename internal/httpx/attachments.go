package httpx

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/haukened/scribe/internal/api"
	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

// handleAppendFragment implements PUT /api/posts/{id}/fragments/{index}. The
// body is the base64 payload of one chunk; X-Scribe-Generation optionally
// pins the attachment generation the chunk belongs to.
func (h *Handler) handleAppendFragment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		h.mapServiceError(ctx, w, fmt.Errorf("%w: fragment index must be a non-negative integer", domain.ErrInvalidInput))
		return
	}
	var generation int64
	if g := r.Header.Get(api.GenerationHeader); g != "" {
		generation, err = strconv.ParseInt(g, 10, 64)
		if err != nil || generation < 0 {
			h.mapServiceError(ctx, w, fmt.Errorf("%w: invalid %s header", domain.ErrInvalidInput, api.GenerationHeader))
			return
		}
	}
	var body io.Reader = r.Body
	if h.MaxRequestBytes > 0 {
		if r.ContentLength > h.MaxRequestBytes {
			h.mapServiceError(ctx, w, fmt.Errorf("fragment body of %d bytes: %w", r.ContentLength, app.ErrSizeExceeded))
			return
		}
		body = http.MaxBytesReader(w, r.Body, h.MaxRequestBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	if err := h.Service.AppendFragment(ctx, r.PathValue("id"), index, payload, generation); err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFinalize implements POST /api/posts/{id}/finalize.
func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Finalize(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromState(st))
}

// handleAttachmentState implements GET /api/posts/{id}/attachment.
func (h *Handler) handleAttachmentState(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.AttachmentState(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromState(st))
}

// handleDownload implements GET /api/download/{id}: the reassembled bytes as
// an octet-stream attachment under the declared filename.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	att, err := h.Service.FetchAttachment(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", domain.ContentDisposition(att.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(att.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(att.Data); err != nil {
		cid, _ := GetCorrelationID(r.Context())
		h.log().Warn("download write failed", "cid", cid, "err", err)
	}
}
