package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haukened/scribe/internal/api"
	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

// decodeJSON reads a JSON body bounded by MaxRequestBytes into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	var body io.Reader = r.Body
	if h.MaxRequestBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxRequestBytes)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return fmt.Errorf("%w: malformed json: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// handleCreatePost implements POST /api/posts (initialize attachment owner).
func (h *Handler) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePostRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	p, err := h.Service.InitializeAttachmentOwner(r.Context(), app.NewPost{
		Title:          req.Title,
		Content:        req.Content,
		Tags:           req.Tags,
		AttachmentName: req.AttachmentName,
		AttachmentSize: req.AttachmentSize,
	})
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/posts/"+p.ID.String())
	writeJSON(w, http.StatusCreated, api.CreatePostResponse{Post: api.FromPost(p), ChunkSize: h.ChunkSize})
}

// handleListPosts implements GET /api/posts?tag=.
func (h *Handler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Service.ListPosts(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	out := make([]api.PostResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, api.FromPost(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListTags implements GET /api/tags.
func (h *Handler) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.Service.ListTags(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, tags)
}

func (h *Handler) handleGetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromPost(p))
}

// handleUpdatePost implements PUT /api/posts/{id}. Metadata is always
// replaced; the attachment only when replace_attachment is set, in which case
// a null attachment_name removes it.
func (h *Handler) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req api.UpdatePostRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	// reject a bad name before any metadata is written
	if req.ReplaceAttachment && req.AttachmentName != nil {
		if err := h.Service.ValidateAttachmentName(*req.AttachmentName); err != nil {
			h.mapServiceError(r.Context(), w, err)
			return
		}
	}
	p, err := h.Service.UpdatePost(r.Context(), id, req.Title, req.Content, req.Tags)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	if req.ReplaceAttachment {
		p, err = h.Service.ReplaceAttachment(r.Context(), id, req.AttachmentName, true)
		if err != nil {
			h.mapServiceError(r.Context(), w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, api.FromPost(p))
}

// handleDeletePost implements DELETE /api/posts/{id}.
func (h *Handler) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteOwner(r.Context(), r.PathValue("id")); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
