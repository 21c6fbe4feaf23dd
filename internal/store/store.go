// Package store provides the concrete implementation of the application
// AttachmentStore port by composing lower-layer persistence ports (Index and
// Fragments). External packages should construct the store via New and
// interact only through the app.AttachmentStore interface.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

// Store composes an Index and a fragment backend to satisfy app.AttachmentStore.
// Whenever an attachment is replaced the old run is cleared before the
// metadata changes; deleting a post removes its fragments with it.
type Store struct {
	index     Index
	fragments Fragments
	clock     app.Clock

	// Logger receives warnings about cleanup left to PruneOrphans (nil uses slog.Default).
	Logger *slog.Logger
}

// New returns a Store implementation of app.AttachmentStore.
func New(index Index, fragments Fragments, clock app.Clock) *Store {
	return &Store{index: index, fragments: fragments, clock: clock}
}

var _ app.AttachmentStore = (*Store)(nil)

var errNotInitialized = errors.New("store not properly initialized")

func (s *Store) ready() error {
	if s == nil || s.index == nil || s.fragments == nil || s.clock == nil {
		return errNotInitialized
	}
	return nil
}

// CreatePost inserts p without any attachment.
func (s *Store) CreatePost(ctx context.Context, p domain.Post) error {
	if err := s.ready(); err != nil {
		return err
	}
	p.AttachmentName = nil
	p.AttachmentStatus = domain.StatusNone
	p.Generation = 0
	return s.index.Insert(ctx, p)
}

// GetPost returns the post with id or app.ErrNotFound.
func (s *Store) GetPost(ctx context.Context, id domain.PostID) (domain.Post, error) {
	if err := s.ready(); err != nil {
		return domain.Post{}, err
	}
	return s.index.Get(ctx, id)
}

// ListPosts returns posts newest first, filtered by tag when non-empty.
func (s *Store) ListPosts(ctx context.Context, tag string) ([]domain.Post, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.index.List(ctx, tag)
}

// ListTags returns the distinct tags in ascending order.
func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.index.Tags(ctx)
}

// UpdatePost replaces title, content and tags.
func (s *Store) UpdatePost(ctx context.Context, id domain.PostID, title, content string, tags []string, updatedAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.index.UpdateMeta(ctx, id, title, content, tags, updatedAt)
}

// CreatePendingAttachment declares name as the post's attachment.
func (s *Store) CreatePendingAttachment(ctx context.Context, id domain.PostID, name string) (int64, error) {
	return s.ReplaceAttachment(ctx, id, &name)
}

// ReplaceAttachment clears the current run, then records name under a new
// generation. A nil name leaves the post without an attachment.
func (s *Store) ReplaceAttachment(ctx context.Context, id domain.PostID, name *string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if _, err := s.index.Get(ctx, id); err != nil {
		return 0, err
	}
	if err := s.fragments.Clear(ctx, id); err != nil {
		return 0, err
	}
	status := domain.StatusNone
	if name != nil {
		status = domain.StatusPending
	}
	return s.index.DeclareAttachment(ctx, id, name, status, s.clock.Now())
}

// AppendFragment stores one fragment (upsert on post and index).
func (s *Store) AppendFragment(ctx context.Context, f domain.Fragment) error {
	if err := s.ready(); err != nil {
		return err
	}
	if f.Index < 0 {
		return domain.ErrInvalidInput
	}
	return s.fragments.Put(ctx, f)
}

// ClearFragments removes the run of id.
func (s *Store) ClearFragments(ctx context.Context, id domain.PostID) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.fragments.Clear(ctx, id)
}

// ReadFragmentsOrdered returns the run of id sorted by index.
func (s *Store) ReadFragmentsOrdered(ctx context.Context, id domain.PostID) ([]domain.Fragment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.fragments.ReadOrdered(ctx, id)
}

// FragmentSummary reports count, highest index and decoded bytes of the run.
func (s *Store) FragmentSummary(ctx context.Context, id domain.PostID) (app.FragmentSummary, error) {
	if err := s.ready(); err != nil {
		return app.FragmentSummary{}, err
	}
	return s.fragments.Summary(ctx, id)
}

// SetStatus records the attachment status.
func (s *Store) SetStatus(ctx context.Context, id domain.PostID, status domain.AttachmentStatus) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !status.Valid() {
		return domain.ErrInvalidInput
	}
	return s.index.SetStatus(ctx, id, status, s.clock.Now())
}

// DeletePost removes the post, then its fragments. Fragments the backend
// fails to remove are orphans and are removed by PruneOrphans.
func (s *Store) DeletePost(ctx context.Context, id domain.PostID) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.fragments.Clear(ctx, id); err != nil {
		s.log().Warn("fragments left behind for deleted post", "post", id, "err", err)
	}
	return nil
}

func (s *Store) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// PruneOrphans removes fragment runs whose post no longer exists and returns how
// many runs were removed. Owners are listed before posts so a post created
// during the scan is never mistaken for an orphan.
func (s *Store) PruneOrphans(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	owners, err := s.fragments.Owners(ctx)
	if err != nil {
		return 0, err
	}
	ids, err := s.index.IDs(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	pruned := 0
	for _, owner := range owners {
		if _, ok := known[owner]; ok {
			continue
		}
		if err := s.fragments.Clear(ctx, domain.PostID(owner)); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
