// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the core use-cases of Scribe depend upon. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (SQLite and filesystem storage, HTTP layer,
// janitor jobs) provide concrete implementations. No SQL or network concerns
// belong here.
package app

import (
	"context"
	"time"

	"github.com/haukened/scribe/internal/domain"
)

// Clock abstracts time to enable deterministic testing.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// Recorder receives metric events. *metrics.Manager satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// FragmentSummary describes the stored fragment run of one post.
type FragmentSummary struct {
	Count    int
	MaxIndex int   // -1 when Count == 0
	Bytes    int64 // decoded bytes across all fragments
}

// AttachmentStore is the storage port for posts and their fragment runs.
// Implementations keep the post record and its fragments consistent: a post
// without an attachment name owns no fragments and a deleted post leaves no
// fragments behind.
type AttachmentStore interface {
	// CreatePost inserts a new post. The attachment fields of p are ignored;
	// the post starts with no attachment.
	CreatePost(ctx context.Context, p domain.Post) error
	GetPost(ctx context.Context, id domain.PostID) (domain.Post, error)
	// ListPosts returns posts newest first, optionally restricted to one tag.
	ListPosts(ctx context.Context, tag string) ([]domain.Post, error)
	// ListTags returns every distinct tag in ascending order.
	ListTags(ctx context.Context) ([]string, error)
	UpdatePost(ctx context.Context, id domain.PostID, title, content string, tags []string, updatedAt time.Time) error

	// CreatePendingAttachment records the declared name, sets the status to
	// pending and bumps the generation. It writes no fragments.
	CreatePendingAttachment(ctx context.Context, id domain.PostID, name string) (generation int64, err error)
	// AppendFragment stores one fragment, replacing any fragment already at
	// (post, index).
	AppendFragment(ctx context.Context, f domain.Fragment) error
	ClearFragments(ctx context.Context, id domain.PostID) error
	// ReadFragmentsOrdered returns the run sorted by ascending index.
	ReadFragmentsOrdered(ctx context.Context, id domain.PostID) ([]domain.Fragment, error)
	FragmentSummary(ctx context.Context, id domain.PostID) (FragmentSummary, error)
	// ReplaceAttachment removes the current run and then records name (nil
	// clears the attachment) under a new generation.
	ReplaceAttachment(ctx context.Context, id domain.PostID, name *string) (generation int64, err error)
	SetStatus(ctx context.Context, id domain.PostID, status domain.AttachmentStatus) error
	// DeletePost removes the post and every fragment it owns.
	DeletePost(ctx context.Context, id domain.PostID) error
}
