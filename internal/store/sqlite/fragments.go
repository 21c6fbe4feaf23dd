package sqlite

import (
	"context"
	"database/sql"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
	"github.com/haukened/scribe/internal/store"
)

var _ store.Fragments = (*Fragments)(nil)

// Fragments implements store.Fragments with a table in the same database as
// the posts, so fragment rows share the post's foreign key lifecycle.
type Fragments struct{ db *sql.DB }

// NewFragments constructs a Fragments backend, initializing the schema if absent.
func NewFragments(db *sql.DB) (*Fragments, error) {
	if err := InitSchema(db); err != nil {
		return nil, err
	}
	return &Fragments{db: db}, nil
}

// Put upserts f keyed by (post_id, idx).
func (f *Fragments) Put(ctx context.Context, fr domain.Fragment) error {
	const q = `INSERT INTO fragments (post_id, idx, payload, size) VALUES (?,?,?,?)
ON CONFLICT(post_id, idx) DO UPDATE SET payload=excluded.payload, size=excluded.size`
	payload := fr.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := f.db.ExecContext(ctx, q, fr.PostID.String(), fr.Index, payload, fr.Size)
	return classify(err)
}

// Clear deletes every fragment of id.
func (f *Fragments) Clear(ctx context.Context, id domain.PostID) error {
	_, err := f.db.ExecContext(ctx, `DELETE FROM fragments WHERE post_id=?`, id.String())
	return classify(err)
}

// ReadOrdered returns the run of id by ascending index.
func (f *Fragments) ReadOrdered(ctx context.Context, id domain.PostID) ([]domain.Fragment, error) {
	const q = `SELECT idx, payload, size FROM fragments WHERE post_id=? ORDER BY idx ASC`
	rows, err := f.db.QueryContext(ctx, q, id.String())
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var frags []domain.Fragment
	for rows.Next() {
		fr := domain.Fragment{PostID: id}
		if err = rows.Scan(&fr.Index, &fr.Payload, &fr.Size); err != nil {
			return nil, classify(err)
		}
		frags = append(frags, fr)
	}
	if err = rows.Err(); err != nil {
		return nil, classify(err)
	}
	return frags, nil
}

// Summary aggregates count, highest index and decoded size of the run.
func (f *Fragments) Summary(ctx context.Context, id domain.PostID) (app.FragmentSummary, error) {
	const q = `SELECT COUNT(*), COALESCE(MAX(idx), -1), COALESCE(SUM(size), 0) FROM fragments WHERE post_id=?`
	var s app.FragmentSummary
	if err := f.db.QueryRowContext(ctx, q, id.String()).Scan(&s.Count, &s.MaxIndex, &s.Bytes); err != nil {
		return app.FragmentSummary{}, classify(err)
	}
	return s, nil
}

// Owners returns the distinct post ids that have fragment rows.
func (f *Fragments) Owners(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, f.db, `SELECT DISTINCT post_id FROM fragments`)
}
