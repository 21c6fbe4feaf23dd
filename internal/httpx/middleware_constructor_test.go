package httpx_test

import (
	"context"
	"testing"

	"github.com/haukened/scribe/internal/httpx"
)

func TestHandlerConstructor(t *testing.T) {
	rd := func(context.Context) error { return nil }
	h := httpx.New(&mockService{}, 4096, 3, rd)
	if h.Service == nil {
		t.Fatalf("expected service set")
	}
	if h.MaxRequestBytes != 4096 {
		t.Fatalf("expected max request 4096 got %d", h.MaxRequestBytes)
	}
	if h.ChunkSize != 3 {
		t.Fatalf("expected chunk size 3 got %d", h.ChunkSize)
	}
	if h.Readiness == nil {
		t.Fatalf("expected readiness set")
	}
}
