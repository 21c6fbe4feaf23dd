package app

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/scribe/internal/codec"
	"github.com/haukened/scribe/internal/domain"
	"github.com/haukened/scribe/internal/metrics"
)

// fixedClock implements Clock returning a fixed instant.
type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// memStore implements AttachmentStore in memory.
type memStore struct {
	mu     sync.Mutex
	posts  map[domain.PostID]domain.Post
	frags  map[domain.PostID]map[int]domain.Fragment
	getErr error
	// declareErr fails CreatePendingAttachment when set.
	declareErr error
}

func newMemStore() *memStore {
	return &memStore{posts: map[domain.PostID]domain.Post{}, frags: map[domain.PostID]map[int]domain.Fragment{}}
}

func (m *memStore) CreatePost(_ context.Context, p domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.AttachmentName, p.AttachmentStatus, p.Generation = nil, domain.StatusNone, 0
	m.posts[p.ID] = p
	return nil
}

func (m *memStore) GetPost(_ context.Context, id domain.PostID) (domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Post{}, m.getErr
	}
	p, ok := m.posts[id]
	if !ok {
		return domain.Post{}, ErrNotFound
	}
	return p, nil
}

func (m *memStore) ListPosts(_ context.Context, tag string) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Post
	for _, p := range m.posts {
		if tag == "" {
			out = append(out, p)
			continue
		}
		for _, t := range p.Tags {
			if t == tag {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListTags(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, p := range m.posts {
		for _, t := range p.Tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) UpdatePost(_ context.Context, id domain.PostID, title, content string, tags []string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return ErrNotFound
	}
	p.Title, p.Content, p.Tags, p.UpdatedAt = title, content, tags, updatedAt
	m.posts[id] = p
	return nil
}

func (m *memStore) CreatePendingAttachment(ctx context.Context, id domain.PostID, name string) (int64, error) {
	if m.declareErr != nil {
		return 0, m.declareErr
	}
	return m.ReplaceAttachment(ctx, id, &name)
}

func (m *memStore) AppendFragment(_ context.Context, f domain.Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[f.PostID]; !ok {
		return ErrNotFound
	}
	if m.frags[f.PostID] == nil {
		m.frags[f.PostID] = map[int]domain.Fragment{}
	}
	m.frags[f.PostID][f.Index] = f
	return nil
}

func (m *memStore) ClearFragments(_ context.Context, id domain.PostID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.frags, id)
	return nil
}

func (m *memStore) ReadFragmentsOrdered(_ context.Context, id domain.PostID) ([]domain.Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Fragment
	for _, f := range m.frags[id] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *memStore) FragmentSummary(_ context.Context, id domain.PostID) (FragmentSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := FragmentSummary{MaxIndex: -1}
	for idx, f := range m.frags[id] {
		s.Count++
		s.Bytes += f.Size
		if idx > s.MaxIndex {
			s.MaxIndex = idx
		}
	}
	return s, nil
}

func (m *memStore) ReplaceAttachment(_ context.Context, id domain.PostID, name *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return 0, ErrNotFound
	}
	delete(m.frags, id)
	p.AttachmentName = name
	p.AttachmentStatus = domain.StatusNone
	if name != nil {
		p.AttachmentStatus = domain.StatusPending
	}
	p.Generation++
	m.posts[id] = p
	return p.Generation, nil
}

func (m *memStore) SetStatus(_ context.Context, id domain.PostID, status domain.AttachmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return ErrNotFound
	}
	p.AttachmentStatus = status
	m.posts[id] = p
	return nil
}

func (m *memStore) DeletePost(_ context.Context, id domain.PostID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return ErrNotFound
	}
	delete(m.posts, id)
	delete(m.frags, id)
	return nil
}

// countingRecorder implements Recorder.
type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int64
	obs    map[string][]int64
}

func (r *countingRecorder) Inc(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int64{}
	}
	r.counts[name] += delta
}

func (r *countingRecorder) Observe(name string, v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.obs == nil {
		r.obs = map[string][]int64{}
	}
	r.obs[name] = append(r.obs[name], v)
}

const testChunk = 6

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	st := newMemStore()
	svc := NewService(st, fixedClock{now: time.Now().UTC()}, 60, testChunk, []string{".txt", ".zip"})
	return svc, st
}

func strPtr(s string) *string { return &s }

// upload sends data in testChunk pieces at the given order of indices.
func upload(t *testing.T, svc *Service, id domain.PostID, data []byte, order []int) {
	t.Helper()
	chunks := codec.Split(data, testChunk)
	if order == nil {
		for i := range chunks {
			order = append(order, i)
		}
	}
	for _, i := range order {
		require.NoError(t, svc.AppendFragment(context.Background(), id.String(), i, codec.Encode(chunks[i]), 0))
	}
}

func TestRoundTripOutOfOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	data := []byte("hello world, chunks!") // 20 bytes -> 4 chunks of 6
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt"), AttachmentSize: int64(len(data))})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, p.AttachmentStatus)
	assert.Equal(t, int64(1), p.Generation)

	upload(t, svc, p.ID, data, []int{2, 0, 3, 1})
	st, err := svc.Finalize(ctx, p.ID.String())
	require.NoError(t, err)
	assert.True(t, st.Contiguous)
	assert.Equal(t, 4, st.Fragments)
	assert.Equal(t, int64(len(data)), st.Bytes)
	assert.Equal(t, domain.StatusComplete, st.Status)

	att, err := svc.FetchAttachment(ctx, p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "a.txt", att.Name)
	assert.Equal(t, data, att.Data)
}

func TestInitializeWithoutAttachment(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: " plain ", Tags: []string{"b", "a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "plain", p.Title)
	assert.Nil(t, p.AttachmentName)
	assert.Equal(t, domain.StatusNone, p.AttachmentStatus)

	err = svc.AppendFragment(ctx, p.ID.String(), 0, []byte("QUJD"), 0)
	assert.ErrorIs(t, err, ErrNoAttachment)
	assert.Empty(t, st.frags[p.ID])

	_, err = svc.FetchAttachment(ctx, p.ID.String())
	assert.ErrorIs(t, err, ErrNotFound)

	fin, err := svc.Finalize(ctx, p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNone, fin.Status)
}

func TestInitializeValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cases := []struct {
		name string
		np   NewPost
		want error
	}{
		{"empty title", NewPost{Title: "  "}, domain.ErrInvalidInput},
		{"bad extension", NewPost{Title: "t", AttachmentName: strPtr("x.exe")}, domain.ErrExtensionNotAllowed},
		{"too large", NewPost{Title: "t", AttachmentName: strPtr("x.txt"), AttachmentSize: 61}, ErrSizeExceeded},
		{"negative size", NewPost{Title: "t", AttachmentSize: -1}, domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.InitializeAttachmentOwner(ctx, tc.np)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestInitializeRemovesPostWhenDeclarationFails(t *testing.T) {
	svc, st := newTestService(t)
	st.declareErr = ErrStorageUnavailable
	_, err := svc.InitializeAttachmentOwner(context.Background(), NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, st.posts)
}

func TestAppendFragmentIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	payload := codec.Encode([]byte("abcdef"))
	require.NoError(t, svc.AppendFragment(ctx, p.ID.String(), 0, payload, 0))
	require.NoError(t, svc.AppendFragment(ctx, p.ID.String(), 0, payload, p.Generation))
	assert.Len(t, st.frags[p.ID], 1)
}

func TestAppendFragmentRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	id := p.ID.String()

	assert.ErrorIs(t, svc.AppendFragment(ctx, "nope", 0, []byte("QUJD"), 0), domain.ErrInvalidID)
	assert.ErrorIs(t, svc.AppendFragment(ctx, id, -1, []byte("QUJD"), 0), domain.ErrInvalidInput)
	assert.ErrorIs(t, svc.AppendFragment(ctx, id, 0, []byte("QUJ"), 0), domain.ErrInvalidInput)
	assert.ErrorIs(t, svc.AppendFragment(ctx, id, 0, []byte("QQ==QUJD"), 0), domain.ErrInvalidInput)
	// 9 decoded bytes exceed the 6 byte chunk size.
	assert.ErrorIs(t, svc.AppendFragment(ctx, id, 0, codec.Encode([]byte("123456789")), 0), ErrSizeExceeded)
	// index 10 would start at byte 60, past the 60 byte limit.
	assert.ErrorIs(t, svc.AppendFragment(ctx, id, 10, codec.Encode([]byte("a")), 0), ErrSizeExceeded)
	assert.ErrorIs(t, svc.AppendFragment(ctx, id, 0, codec.Encode([]byte("a")), p.Generation+5), ErrConflict)

	missing, err := domain.NewID()
	require.NoError(t, err)
	assert.ErrorIs(t, svc.AppendFragment(ctx, missing.String(), 0, []byte("QUJD"), 0), ErrNotFound)
}

func TestAppendFragmentHugeIndexExceedsLimit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	// 6*index wraps around to a small positive offset
	wrap := math.MaxInt64/3 + 1
	for _, index := range []int{wrap, wrap + 1, math.MaxInt} {
		err := svc.AppendFragment(ctx, p.ID.String(), index, codec.Encode([]byte("abc")), 0)
		assert.ErrorIs(t, err, ErrSizeExceeded, "index %d", index)
	}
	assert.Empty(t, st.frags[p.ID])
	// the last index that still fits is accepted
	require.NoError(t, svc.AppendFragment(ctx, p.ID.String(), 9, codec.Encode([]byte("abcdef")), 0))
}

func TestAppendAfterFinalizeConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	upload(t, svc, p.ID, []byte("abc"), nil)
	_, err = svc.Finalize(ctx, p.ID.String())
	require.NoError(t, err)
	err = svc.AppendFragment(ctx, p.ID.String(), 1, codec.Encode([]byte("d")), 0)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFinalizeGapAndMisalignment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	id := p.ID.String()

	_, err = svc.Finalize(ctx, id)
	assert.ErrorIs(t, err, domain.ErrPartialAttachment)

	require.NoError(t, svc.AppendFragment(ctx, id, 0, codec.Encode([]byte("abcdef")), 0))
	require.NoError(t, svc.AppendFragment(ctx, id, 2, codec.Encode([]byte("ghijkl")), 0))
	st, err := svc.Finalize(ctx, id)
	assert.ErrorIs(t, err, domain.ErrPartialAttachment)
	assert.False(t, st.Contiguous)
	assert.Equal(t, 2, st.Fragments)

	_, err = svc.FetchAttachment(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, domain.ErrPartialAttachment)

	// a padded fragment in the middle of the run cannot be concatenated
	require.NoError(t, svc.AppendFragment(ctx, id, 1, codec.Encode([]byte("g")), 0))
	_, err = svc.Finalize(ctx, id)
	assert.ErrorIs(t, err, domain.ErrPartialAttachment)
}

func TestFetchPaddedInteriorIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	id := p.ID.String()
	require.NoError(t, svc.AppendFragment(ctx, id, 0, codec.Encode([]byte("a")), 0))
	require.NoError(t, svc.AppendFragment(ctx, id, 1, codec.Encode([]byte("b")), 0))

	_, err = svc.FetchAttachment(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, domain.ErrPartialAttachment)
}

func TestFetchIgnoresPendingStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	upload(t, svc, p.ID, []byte("abcdefgh"), nil)
	att, err := svc.FetchAttachment(ctx, p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefgh"), att.Data)
}

func TestReplaceAttachment(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	upload(t, svc, p.ID, []byte("first attachment"), nil)
	id := p.ID.String()

	kept, err := svc.ReplaceAttachment(ctx, id, strPtr("ignored.txt"), false)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", *kept.AttachmentName)
	assert.NotEmpty(t, st.frags[p.ID])

	replaced, err := svc.ReplaceAttachment(ctx, id, strPtr("b.zip"), true)
	require.NoError(t, err)
	assert.Equal(t, "b.zip", *replaced.AttachmentName)
	assert.Equal(t, domain.StatusPending, replaced.AttachmentStatus)
	assert.Greater(t, replaced.Generation, p.Generation)
	assert.Empty(t, st.frags[p.ID])

	// a writer holding the old generation is now stale
	err = svc.AppendFragment(ctx, id, 0, codec.Encode([]byte("x")), p.Generation)
	assert.ErrorIs(t, err, ErrConflict)

	upload(t, svc, p.ID, []byte("second"), nil)
	att, err := svc.FetchAttachment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "b.zip", att.Name)
	assert.Equal(t, []byte("second"), att.Data)

	cleared, err := svc.ReplaceAttachment(ctx, id, nil, true)
	require.NoError(t, err)
	assert.Nil(t, cleared.AttachmentName)
	assert.Empty(t, st.frags[p.ID])

	_, err = svc.ReplaceAttachment(ctx, id, strPtr("bad.exe"), true)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeleteOwnerCascades(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	upload(t, svc, p.ID, []byte("payload"), nil)

	require.NoError(t, svc.DeleteOwner(ctx, p.ID.String()))
	assert.Empty(t, st.frags[p.ID])
	_, err = svc.GetPost(ctx, p.ID.String())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.DeleteOwner(ctx, p.ID.String()), ErrNotFound)
	assert.ErrorIs(t, svc.DeleteOwner(ctx, "bad"), domain.ErrInvalidID)
}

func TestUpdatePost(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t"})
	require.NoError(t, err)
	got, err := svc.UpdatePost(ctx, p.ID.String(), "new", "body", []string{"x", " x "})
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, []string{"x"}, got.Tags)

	_, err = svc.UpdatePost(ctx, p.ID.String(), "", "body", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAttachmentState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	upload(t, svc, p.ID, []byte("0123456789"), nil)

	st, err := svc.AttachmentState(ctx, p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Fragments)
	assert.Equal(t, int64(10), st.Bytes)
	assert.True(t, st.Contiguous)
	assert.Equal(t, domain.StatusPending, st.Status)
}

func TestListPostsAllAlias(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "a", Tags: []string{"go"}})
	require.NoError(t, err)
	_, err = svc.InitializeAttachmentOwner(ctx, NewPost{Title: "b", Tags: []string{"db"}})
	require.NoError(t, err)

	all, err := svc.ListPosts(ctx, "all")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	goPosts, err := svc.ListPosts(ctx, "go")
	require.NoError(t, err)
	assert.Len(t, goPosts, 1)
	tags, err := svc.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "go"}, tags)
}

func TestStorageErrorsPropagate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	st.getErr = ErrStorageUnavailable
	_, err = svc.FetchAttachment(ctx, p.ID.String())
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
}

func TestMetricsRecorded(t *testing.T) {
	svc, _ := newTestService(t)
	rec := &countingRecorder{}
	svc.Metrics = rec
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	upload(t, svc, p.ID, []byte("abcdefg"), nil)
	_, err = svc.Finalize(ctx, p.ID.String())
	require.NoError(t, err)

	assert.Equal(t, int64(1), rec.counts[metrics.CounterPostsCreated])
	assert.Equal(t, int64(2), rec.counts[metrics.CounterFragmentsAppended])
	assert.Equal(t, int64(7), rec.counts[metrics.CounterFragmentBytes])
	assert.Equal(t, int64(1), rec.counts[metrics.CounterAttachmentsFinalized])
	assert.Equal(t, []int64{7}, rec.obs[metrics.SummaryAttachmentBytes])
}

func TestConcurrentAppendsSamePost(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p, err := svc.InitializeAttachmentOwner(ctx, NewPost{Title: "t", AttachmentName: strPtr("a.txt")})
	require.NoError(t, err)
	data := []byte("0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWX") // 60 bytes
	chunks := codec.Split(data, testChunk)
	var wg sync.WaitGroup
	for i := range chunks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, svc.AppendFragment(ctx, p.ID.String(), i, codec.Encode(chunks[i]), p.Generation))
		}(i)
	}
	wg.Wait()
	assert.Len(t, st.frags[p.ID], len(chunks))
	att, err := svc.FetchAttachment(ctx, p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, data, att.Data)
	assert.Zero(t, svc.locks.size())
}
