// Package store defines internal persistence adapter ports used by the
// higher-level Store implementation. These ports isolate the SQLite post
// index from the fragment backend (SQLite table or filesystem) so each can
// be tested and evolved independently. Callers outside this package interact
// only with the app.AttachmentStore implementation, not these details.
package store

import (
	"context"
	"time"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

// Index abstracts post metadata persistence (typically backed by SQLite).
type Index interface {
	Insert(ctx context.Context, p domain.Post) error
	Get(ctx context.Context, id domain.PostID) (domain.Post, error)
	List(ctx context.Context, tag string) ([]domain.Post, error)
	Tags(ctx context.Context) ([]string, error)
	UpdateMeta(ctx context.Context, id domain.PostID, title, content string, tags []string, updatedAt time.Time) error
	// DeclareAttachment sets the attachment name and status, increments the
	// generation and returns it. Fragment rows held in the index database are
	// removed in the same transaction.
	DeclareAttachment(ctx context.Context, id domain.PostID, name *string, status domain.AttachmentStatus, updatedAt time.Time) (int64, error)
	SetStatus(ctx context.Context, id domain.PostID, status domain.AttachmentStatus, updatedAt time.Time) error
	// Delete removes the post and any fragment rows held in the index database.
	Delete(ctx context.Context, id domain.PostID) error
	// IDs returns the ids of every stored post.
	IDs(ctx context.Context) ([]string, error)
}

// Fragments abstracts persistence of encoded fragment runs.
type Fragments interface {
	// Put stores f, overwriting any fragment at the same (post, index).
	Put(ctx context.Context, f domain.Fragment) error
	Clear(ctx context.Context, id domain.PostID) error
	ReadOrdered(ctx context.Context, id domain.PostID) ([]domain.Fragment, error)
	Summary(ctx context.Context, id domain.PostID) (app.FragmentSummary, error)
	// Owners returns the ids of every post that currently has fragments.
	Owners(ctx context.Context) ([]string, error)
}
