// Package httpx contains the HTTP delivery layer (net/http handlers) for the Scribe service.
// It maps HTTP requests to the application service while enforcing validation, size
// limits, security headers and error translation.
// Handlers are split across files (posts.go, attachments.go, health.go, errors.go).
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and mocked in tests.
type ServicePort interface {
	InitializeAttachmentOwner(ctx context.Context, np app.NewPost) (domain.Post, error)
	AppendFragment(ctx context.Context, id string, index int, payload []byte, generation int64) error
	Finalize(ctx context.Context, id string) (app.AttachmentState, error)
	ReplaceAttachment(ctx context.Context, id string, name *string, clearExisting bool) (domain.Post, error)
	UpdatePost(ctx context.Context, id, title, content string, tags []string) (domain.Post, error)
	ValidateAttachmentName(name string) error
	DeleteOwner(ctx context.Context, id string) error
	FetchAttachment(ctx context.Context, id string) (app.Attachment, error)
	AttachmentState(ctx context.Context, id string) (app.AttachmentState, error)
	GetPost(ctx context.Context, id string) (domain.Post, error)
	ListPosts(ctx context.Context, tag string) ([]domain.Post, error)
	ListTags(ctx context.Context) ([]string, error)
}

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service         ServicePort
	MaxRequestBytes int64                       // cap on any request body (0 disables)
	ChunkSize       int                         // advertised to uploaders on create
	Readiness       func(context.Context) error // optional readiness probe
	Metrics         http.Handler                // optional Prometheus exposition at /metrics
	MetricsJSON     http.Handler                // optional JSON snapshot at /api/metrics
	Logger          *slog.Logger
}

// New returns a configured Handler.
// svc: application service port implementation.
// maxRequest: maximum allowed request body size (0 disables the check).
// readiness: optional probe function for /readyz (nil => always ready).
func New(svc ServicePort, maxRequest int64, chunkSize int, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, MaxRequestBytes: maxRequest, ChunkSize: chunkSize, Readiness: readiness}
}

func (h *Handler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Router constructs and returns an http.Handler with all routes mounted and
// the correlation, logging and security header middleware applied.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/posts", h.handleCreatePost)
	mux.HandleFunc("GET /api/posts", h.handleListPosts)
	mux.HandleFunc("GET /api/tags", h.handleListTags)
	mux.HandleFunc("GET /api/posts/{id}", h.handleGetPost)
	mux.HandleFunc("PUT /api/posts/{id}", h.handleUpdatePost)
	mux.HandleFunc("DELETE /api/posts/{id}", h.handleDeletePost)
	mux.HandleFunc("PUT /api/posts/{id}/fragments/{index}", h.handleAppendFragment)
	mux.HandleFunc("POST /api/posts/{id}/finalize", h.handleFinalize)
	mux.HandleFunc("GET /api/posts/{id}/attachment", h.handleAttachmentState)
	mux.HandleFunc("GET /api/download/{id}", h.handleDownload)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if h.MetricsJSON != nil {
		mux.Handle("GET /api/metrics", h.MetricsJSON)
	}
	return CorrelationIDMiddleware(h.requestLogging(h.secureHeaders(mux)))
}

// secureHeaders middleware adds standard security & cache control headers.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if ct := w.Header().Get("Content-Type"); ct == "" {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
		}
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}
