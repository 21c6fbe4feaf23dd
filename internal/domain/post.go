// Package domain post.go contains the post and fragment records and the
// invariants that tie an attachment name to its fragment run.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttachmentStatus records how far an attachment transfer has progressed.
type AttachmentStatus string

const (
	// StatusNone means the post carries no attachment and owns zero fragments.
	StatusNone AttachmentStatus = "none"
	// StatusPending means a name is declared and fragments may still be arriving.
	StatusPending AttachmentStatus = "pending"
	// StatusComplete means finalize observed a contiguous, decodable run.
	StatusComplete AttachmentStatus = "complete"
)

// Valid reports whether s is one of the known statuses.
func (s AttachmentStatus) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusComplete:
		return true
	}
	return false
}

// Post is the owner of an attachment. A nil AttachmentName means the post has
// no attachment.
type Post struct {
	ID               PostID
	Title            string
	Content          string
	Tags             []string
	AttachmentName   *string
	AttachmentStatus AttachmentStatus
	// Generation increments each time a new attachment is declared or the
	// fragment run is cleared. Writers holding an older generation are stale.
	Generation int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasAttachment reports whether the post declares an attachment name.
func (p Post) HasAttachment() bool { return p.AttachmentName != nil }

// Fragment is one encoded piece of an attachment stored against a post and index.
type Fragment struct {
	PostID  PostID
	Index   int
	Payload []byte
	// Size is the decoded byte length of Payload.
	Size int64
}

// CheckContiguous verifies that frags, already sorted by index, form the run
// 0..n-1 with no gaps or duplicates. An empty run is also partial.
func CheckContiguous(frags []Fragment) error {
	if len(frags) == 0 {
		return fmt.Errorf("%w: no fragments", ErrPartialAttachment)
	}
	for i, f := range frags {
		if f.Index != i {
			return fmt.Errorf("%w: expected index %d, found %d", ErrPartialAttachment, i, f.Index)
		}
	}
	return nil
}

// NormalizeTags trims each tag, drops empties and removes duplicates while
// keeping first-seen order.
func NormalizeTags(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ParseTagList splits a comma separated tag string, e.g. "go, storage,,go".
func ParseTagList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return NormalizeTags(strings.Split(s, ","))
}
