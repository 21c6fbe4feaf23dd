// Package filesystem provides a store.Fragments implementation backed by the
// local filesystem. Each post owns a directory under the root and each
// fragment is one file named by its zero-padded index.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
	"github.com/haukened/scribe/internal/store"
)

// Ensure FragmentStore implements store.Fragments
var _ store.Fragments = (*FragmentStore)(nil)

const fragExt = ".frag"

// FragmentStore implements store.Fragments using the local filesystem.
type FragmentStore struct {
	root string
}

// New returns a filesystem-backed fragment store rooted at dir. The directory
// must already exist with secure permissions (0700 recommended).
func New(root string) (*FragmentStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("fragment root is not a directory")
	}
	return &FragmentStore{root: root}, nil
}

func (s *FragmentStore) dir(id domain.PostID) string { return filepath.Join(s.root, id.String()) }

func (s *FragmentStore) path(id domain.PostID, index int) string {
	return filepath.Join(s.dir(id), fmt.Sprintf("%010d%s", index, fragExt))
}

// Put writes the fragment to a temp file and renames it over any existing
// fragment at the same index, so readers never observe a partial write.
func (s *FragmentStore) Put(ctx context.Context, f domain.Fragment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(f.PostID); err != nil {
		return err
	}
	if f.Index < 0 {
		return domain.ErrInvalidInput
	}
	dir := s.dir(f.PostID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return unavailable(err)
	}
	tmp, err := os.CreateTemp(dir, "put-*.tmp")
	if err != nil {
		return unavailable(err)
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return unavailable(err)
	}
	if _, err = tmp.Write(f.Payload); err != nil {
		return cleanup(err)
	}
	if err = tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return unavailable(err)
	}
	if err = os.Rename(tmpName, s.path(f.PostID, f.Index)); err != nil {
		_ = os.Remove(tmpName)
		return unavailable(err)
	}
	return nil
}

// Clear removes the post directory and every fragment in it.
func (s *FragmentStore) Clear(ctx context.Context, id domain.PostID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return unavailable(err)
	}
	return nil
}

// ReadOrdered loads every fragment of id sorted by index.
func (s *FragmentStore) ReadOrdered(ctx context.Context, id domain.PostID) ([]domain.Fragment, error) {
	indexes, err := s.indexes(ctx, id)
	if err != nil {
		return nil, err
	}
	frags := make([]domain.Fragment, 0, len(indexes))
	for _, idx := range indexes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// #nosec G304 path built from the root, a validated id and an integer index
		payload, err := os.ReadFile(s.path(id, idx))
		if err != nil {
			return nil, unavailable(err)
		}
		frags = append(frags, domain.Fragment{PostID: id, Index: idx, Payload: payload, Size: decodedLen(payload)})
	}
	return frags, nil
}

// Summary reports count, highest index and decoded bytes without reading
// whole fragments: only the trailing padding of each file is inspected.
func (s *FragmentStore) Summary(ctx context.Context, id domain.PostID) (app.FragmentSummary, error) {
	indexes, err := s.indexes(ctx, id)
	if err != nil {
		return app.FragmentSummary{}, err
	}
	sum := app.FragmentSummary{Count: len(indexes), MaxIndex: -1}
	for _, idx := range indexes {
		n, err := fileDecodedLen(s.path(id, idx))
		if err != nil {
			return app.FragmentSummary{}, unavailable(err)
		}
		sum.Bytes += n
		if idx > sum.MaxIndex {
			sum.MaxIndex = idx
		}
	}
	return sum, nil
}

// Owners lists the post directories present under the root.
func (s *FragmentStore) Owners(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, unavailable(err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || !domain.PostID(e.Name()).Valid() {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func (s *FragmentStore) indexes(ctx context.Context, id domain.PostID) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	var out []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fragExt) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(name, fragExt))
		if err != nil || idx < 0 {
			continue
		}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

// decodedLen returns the byte length payload decodes to, assuming it already
// passed codec validation.
func decodedLen(payload []byte) int64 {
	n := int64(len(payload)) / 4 * 3
	for i := len(payload) - 1; i >= 0 && i >= len(payload)-2 && payload[i] == '='; i-- {
		n--
	}
	return n
}

func fileDecodedLen(p string) (int64, error) {
	f, err := os.Open(p) // #nosec G304 path constructed internally
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := fi.Size()
	if size < 2 {
		return decodedLen(make([]byte, size)), nil
	}
	tail := make([]byte, 2)
	if _, err := f.ReadAt(tail, size-2); err != nil {
		return 0, err
	}
	n := size / 4 * 3
	for i := 1; i >= 0 && tail[i] == '='; i-- {
		n--
	}
	return n, nil
}

// validateID enforces the canonical 32-character lowercase hex post id, which
// rules out separators and traversal in the directory name.
func validateID(id domain.PostID) error {
	if !id.Valid() {
		return domain.ErrInvalidID
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", app.ErrStorageUnavailable, err)
}
