// Package app contains the application orchestration layer for Scribe. It
// wires domain validation and the chunk codec with the storage port and owns
// the per-post serialization of attachment writes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haukened/scribe/internal/codec"
	"github.com/haukened/scribe/internal/domain"
	"github.com/haukened/scribe/internal/metrics"
)

var (
	// ErrNotFound indicates the post or its attachment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSizeExceeded indicates a fragment or attachment larger than configured limits.
	ErrSizeExceeded = errors.New("size exceeded")
	// ErrConflict indicates a write against a stale attachment generation or a finalized attachment.
	ErrConflict = errors.New("conflict")
	// ErrNoAttachment indicates a fragment write for a post that declares no attachment.
	ErrNoAttachment = errors.New("post has no attachment")
	// ErrStorageUnavailable indicates the underlying store could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// NewPost carries the fields needed to create an attachment owner.
type NewPost struct {
	Title          string
	Content        string
	Tags           []string
	AttachmentName *string
	// AttachmentSize is the declared byte size of the attachment (0 if unknown).
	AttachmentSize int64
}

// Attachment is a fully reassembled attachment.
type Attachment struct {
	Name string
	Data []byte
}

// AttachmentState reports what is stored for a post's attachment.
type AttachmentState struct {
	PostID     domain.PostID
	Name       *string
	Status     domain.AttachmentStatus
	Generation int64
	Fragments  int
	Bytes      int64
	Contiguous bool
}

// Service orchestrates attachment ingestion and reassembly using the injected store and clock.
type Service struct {
	Store              AttachmentStore
	Clock              Clock
	MaxAttachmentBytes int64
	ChunkSize          int
	AllowedExtensions  []string
	Metrics            Recorder
	Logger             *slog.Logger

	locks *postLocks
}

// NewService returns a Service ready for concurrent use.
func NewService(store AttachmentStore, clock Clock, maxBytes int64, chunkSize int, allowedExt []string) *Service {
	return &Service{
		Store:              store,
		Clock:              clock,
		MaxAttachmentBytes: maxBytes,
		ChunkSize:          chunkSize,
		AllowedExtensions:  allowedExt,
		locks:              newPostLocks(),
	}
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) inc(name string, delta int64) {
	if s.Metrics != nil {
		s.Metrics.Inc(name, delta)
	}
}

func (s *Service) observe(name string, v int64) {
	if s.Metrics != nil {
		s.Metrics.Observe(name, v)
	}
}

func (s *Service) lock(ctx context.Context, id domain.PostID) (func(), error) {
	if s.locks == nil {
		s.locks = newPostLocks()
	}
	return s.locks.lock(ctx, id.String())
}

// InitializeAttachmentOwner creates a post and, when an attachment is declared,
// records it as pending so fragments can follow. It must complete before the
// first fragment is sent.
func (s *Service) InitializeAttachmentOwner(ctx context.Context, np NewPost) (domain.Post, error) {
	title := strings.TrimSpace(np.Title)
	if title == "" {
		return domain.Post{}, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}
	if np.AttachmentSize < 0 {
		return domain.Post{}, fmt.Errorf("%w: negative attachment size", domain.ErrInvalidInput)
	}
	if np.AttachmentName != nil {
		if err := domain.ValidateAttachmentName(*np.AttachmentName, s.AllowedExtensions); err != nil {
			return domain.Post{}, err
		}
		if s.MaxAttachmentBytes > 0 && np.AttachmentSize > s.MaxAttachmentBytes {
			return domain.Post{}, ErrSizeExceeded
		}
	}
	id, err := domain.NewID()
	if err != nil {
		return domain.Post{}, err
	}
	now := s.Clock.Now()
	p := domain.Post{
		ID:               id,
		Title:            title,
		Content:          np.Content,
		Tags:             domain.NormalizeTags(np.Tags),
		AttachmentStatus: domain.StatusNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Store.CreatePost(ctx, p); err != nil {
		return domain.Post{}, err
	}
	s.inc(metrics.CounterPostsCreated, 1)
	if np.AttachmentName == nil {
		return p, nil
	}
	gen, err := s.Store.CreatePendingAttachment(ctx, id, *np.AttachmentName)
	if err != nil {
		// the caller never learns the id, so the half-created post goes too
		if derr := s.Store.DeletePost(context.WithoutCancel(ctx), id); derr != nil {
			s.log().Warn("remove post after failed attachment declaration", "post", id, "err", derr)
		}
		return domain.Post{}, err
	}
	name := *np.AttachmentName
	p.AttachmentName = &name
	p.AttachmentStatus = domain.StatusPending
	p.Generation = gen
	s.log().Debug("attachment declared", "post", id, "generation", gen, "declared_bytes", np.AttachmentSize)
	return p, nil
}

// AppendFragment stores one encoded chunk at index. Writing the same index
// again replaces the earlier payload. A non-zero generation must match the
// post's current generation.
func (s *Service) AppendFragment(ctx context.Context, idStr string, index int, payload []byte, generation int64) error {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return err
	}
	if index < 0 {
		return fmt.Errorf("%w: negative fragment index", domain.ErrInvalidInput)
	}
	size, err := codec.ValidatePayload(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if s.ChunkSize > 0 && size > int64(s.ChunkSize) {
		return ErrSizeExceeded
	}
	// every fragment before index holds at most ChunkSize bytes, so this
	// bounds the reassembled size of any contiguous run ending here. The index
	// is checked first so the product cannot overflow.
	if s.MaxAttachmentBytes > 0 && s.ChunkSize > 0 {
		if int64(index) > (s.MaxAttachmentBytes-1)/int64(s.ChunkSize) {
			return ErrSizeExceeded
		}
		if int64(index)*int64(s.ChunkSize)+size > s.MaxAttachmentBytes {
			return ErrSizeExceeded
		}
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	p, err := s.Store.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if !p.HasAttachment() {
		return ErrNoAttachment
	}
	if generation != 0 && generation != p.Generation {
		return fmt.Errorf("%w: generation %d is stale (current %d)", ErrConflict, generation, p.Generation)
	}
	if p.AttachmentStatus == domain.StatusComplete {
		return fmt.Errorf("%w: attachment already finalized", ErrConflict)
	}
	if err := s.Store.AppendFragment(ctx, domain.Fragment{PostID: id, Index: index, Payload: payload, Size: size}); err != nil {
		return err
	}
	s.inc(metrics.CounterFragmentsAppended, 1)
	s.inc(metrics.CounterFragmentBytes, size)
	return nil
}

// Finalize marks the attachment complete once its run is contiguous. Posts
// without an attachment are left untouched.
func (s *Service) Finalize(ctx context.Context, idStr string) (AttachmentState, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return AttachmentState{}, err
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return AttachmentState{}, err
	}
	defer unlock()

	p, err := s.Store.GetPost(ctx, id)
	if err != nil {
		return AttachmentState{}, err
	}
	st := AttachmentState{PostID: id, Name: p.AttachmentName, Status: p.AttachmentStatus, Generation: p.Generation}
	if !p.HasAttachment() {
		return st, nil
	}
	frags, err := s.Store.ReadFragmentsOrdered(ctx, id)
	if err != nil {
		return st, err
	}
	st.Fragments = len(frags)
	for _, f := range frags {
		st.Bytes += f.Size
	}
	if err := checkRun(frags); err != nil {
		s.inc(metrics.CounterPartialAttachments, 1)
		return st, err
	}
	st.Contiguous = true
	if p.AttachmentStatus != domain.StatusComplete {
		if err := s.Store.SetStatus(ctx, id, domain.StatusComplete); err != nil {
			return st, err
		}
		s.inc(metrics.CounterAttachmentsFinalized, 1)
		s.observe(metrics.SummaryAttachmentBytes, st.Bytes)
	}
	st.Status = domain.StatusComplete
	s.log().Info("attachment finalized", "post", id, "fragments", st.Fragments, "bytes", st.Bytes)
	return st, nil
}

// ReplaceAttachment declares a new attachment (or none when newName is nil).
// With clearExisting false the current attachment is left as is.
func (s *Service) ReplaceAttachment(ctx context.Context, idStr string, newName *string, clearExisting bool) (domain.Post, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return domain.Post{}, err
	}
	if clearExisting && newName != nil {
		if err := domain.ValidateAttachmentName(*newName, s.AllowedExtensions); err != nil {
			return domain.Post{}, err
		}
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return domain.Post{}, err
	}
	defer unlock()

	if clearExisting {
		gen, err := s.Store.ReplaceAttachment(ctx, id, newName)
		if err != nil {
			return domain.Post{}, err
		}
		s.inc(metrics.CounterAttachmentsReplaced, 1)
		s.log().Info("attachment replaced", "post", id, "generation", gen, "cleared", newName == nil)
	}
	return s.Store.GetPost(ctx, id)
}

// UpdatePost changes title, content and tags.
func (s *Service) UpdatePost(ctx context.Context, idStr, title, content string, tags []string) (domain.Post, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return domain.Post{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Post{}, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}
	if err := s.Store.UpdatePost(ctx, id, title, content, domain.NormalizeTags(tags), s.Clock.Now()); err != nil {
		return domain.Post{}, err
	}
	return s.Store.GetPost(ctx, id)
}

// DeleteOwner removes a post together with every fragment it owns.
func (s *Service) DeleteOwner(ctx context.Context, idStr string) error {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	if err := s.Store.DeletePost(ctx, id); err != nil {
		return err
	}
	s.inc(metrics.CounterPostsDeleted, 1)
	return nil
}

// FetchAttachment reassembles the attachment of a post. A post without a
// name, or whose run is empty, has gaps or does not decode, yields
// ErrNotFound; in the latter cases the error also matches
// domain.ErrPartialAttachment.
func (s *Service) FetchAttachment(ctx context.Context, idStr string) (Attachment, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return Attachment{}, err
	}
	p, err := s.Store.GetPost(ctx, id)
	if err != nil {
		return Attachment{}, err
	}
	if !p.HasAttachment() {
		return Attachment{}, ErrNotFound
	}
	frags, err := s.Store.ReadFragmentsOrdered(ctx, id)
	if err != nil {
		return Attachment{}, err
	}
	if err := checkRun(frags); err != nil {
		s.inc(metrics.CounterPartialAttachments, 1)
		s.log().Warn("attachment treated as absent", "post", id, "status", p.AttachmentStatus, "err", err)
		return Attachment{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	payloads := make([][]byte, len(frags))
	for i, f := range frags {
		payloads[i] = f.Payload
	}
	data, err := codec.Reassemble(payloads)
	if err != nil {
		s.inc(metrics.CounterPartialAttachments, 1)
		s.log().Warn("attachment treated as absent", "post", id, "err", err)
		return Attachment{}, fmt.Errorf("%w: %w: %w", ErrNotFound, domain.ErrPartialAttachment, err)
	}
	s.inc(metrics.CounterAttachmentsFetched, 1)
	s.observe(metrics.SummaryAttachmentBytes, int64(len(data)))
	return Attachment{Name: *p.AttachmentName, Data: data}, nil
}

// checkRun reports domain.ErrPartialAttachment unless frags form a gap-free
// run whose payloads concatenate into valid base64, which rules out padding
// anywhere but the final fragment.
func checkRun(frags []domain.Fragment) error {
	if err := domain.CheckContiguous(frags); err != nil {
		return err
	}
	for i := 0; i < len(frags)-1; i++ {
		if codec.Padded(frags[i].Payload) {
			return fmt.Errorf("%w: fragment %d is not aligned to the chunk size", domain.ErrPartialAttachment, i)
		}
	}
	return nil
}

// ValidateAttachmentName checks name against the naming rules and the
// allowed extensions without touching storage.
func (s *Service) ValidateAttachmentName(name string) error {
	return domain.ValidateAttachmentName(name, s.AllowedExtensions)
}

// AttachmentState reports the stored state of a post's attachment without
// reassembling it.
func (s *Service) AttachmentState(ctx context.Context, idStr string) (AttachmentState, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return AttachmentState{}, err
	}
	p, err := s.Store.GetPost(ctx, id)
	if err != nil {
		return AttachmentState{}, err
	}
	sum, err := s.Store.FragmentSummary(ctx, id)
	if err != nil {
		return AttachmentState{}, err
	}
	return AttachmentState{
		PostID:     id,
		Name:       p.AttachmentName,
		Status:     p.AttachmentStatus,
		Generation: p.Generation,
		Fragments:  sum.Count,
		Bytes:      sum.Bytes,
		Contiguous: sum.Count > 0 && sum.MaxIndex == sum.Count-1,
	}, nil
}

// GetPost returns one post.
func (s *Service) GetPost(ctx context.Context, idStr string) (domain.Post, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return domain.Post{}, err
	}
	return s.Store.GetPost(ctx, id)
}

// ListPosts returns posts newest first. An empty tag or "all" lists everything.
func (s *Service) ListPosts(ctx context.Context, tag string) ([]domain.Post, error) {
	tag = strings.TrimSpace(tag)
	if tag == "all" {
		tag = ""
	}
	return s.Store.ListPosts(ctx, tag)
}

// ListTags returns all distinct tags.
func (s *Service) ListTags(ctx context.Context) ([]string, error) {
	return s.Store.ListTags(ctx)
}
