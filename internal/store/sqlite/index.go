package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
	"github.com/haukened/scribe/internal/store"
)

var _ store.Index = (*Index)(nil)

// Index implements store.Index using SQLite (via database/sql). It is safe for
// concurrent use; database/sql manages connection pooling and serialization.
type Index struct{ db *sql.DB }

// New constructs an Index, initializing the required schema if absent.
func New(db *sql.DB) (*Index, error) {
	if err := InitSchema(db); err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

const postColumns = `id, title, content, tags, attachment_name, attachment_status, generation, created_at, updated_at`

// Insert stores a new post row.
func (i *Index) Insert(ctx context.Context, p domain.Post) error {
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return err
	}
	status := p.AttachmentStatus
	if status == "" {
		status = domain.StatusNone
	}
	const q = `INSERT INTO posts (` + postColumns + `) VALUES (?,?,?,?,?,?,?,?,?)`
	_, err = i.db.ExecContext(ctx, q, p.ID.String(), p.Title, p.Content, tags, nullable(p.AttachmentName),
		string(status), p.Generation, p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	return classify(err)
}

// Get returns the post with id or app.ErrNotFound.
func (i *Index) Get(ctx context.Context, id domain.PostID) (domain.Post, error) {
	const q = `SELECT ` + postColumns + ` FROM posts WHERE id=?`
	p, err := scanPost(i.db.QueryRowContext(ctx, q, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Post{}, app.ErrNotFound
		}
		return domain.Post{}, classify(err)
	}
	return p, nil
}

// List returns posts newest first. A non-empty tag restricts the result to
// posts carrying that tag.
func (i *Index) List(ctx context.Context, tag string) ([]domain.Post, error) {
	q := `SELECT ` + postColumns + ` FROM posts`
	var args []any
	if tag != "" {
		q += ` WHERE EXISTS (SELECT 1 FROM json_each(posts.tags) WHERE json_each.value = ?)`
		args = append(args, tag)
	}
	q += ` ORDER BY created_at DESC, rowid DESC`
	rows, err := i.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, classify(err)
		}
		posts = append(posts, p)
	}
	if err = rows.Err(); err != nil {
		return nil, classify(err)
	}
	return posts, nil
}

// Tags returns every distinct tag in ascending order.
func (i *Index) Tags(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT json_each.value FROM posts, json_each(posts.tags) ORDER BY 1`
	rows, err := i.db.QueryContext(ctx, q)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err = rows.Scan(&t); err != nil {
			return nil, classify(err)
		}
		tags = append(tags, t)
	}
	if err = rows.Err(); err != nil {
		return nil, classify(err)
	}
	return tags, nil
}

// UpdateMeta replaces title, content and tags of an existing post.
func (i *Index) UpdateMeta(ctx context.Context, id domain.PostID, title, content string, tags []string, updatedAt time.Time) error {
	enc, err := encodeTags(tags)
	if err != nil {
		return err
	}
	const q = `UPDATE posts SET title=?, content=?, tags=?, updated_at=? WHERE id=?`
	res, err := i.db.ExecContext(ctx, q, title, content, enc, updatedAt.UnixMilli(), id.String())
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// DeclareAttachment records name and status, bumps the generation and drops
// any fragment rows of the post in one transaction.
func (i *Index) DeclareAttachment(ctx context.Context, id domain.PostID, name *string, status domain.AttachmentStatus, updatedAt time.Time) (gen int64, err error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	const upd = `UPDATE posts SET attachment_name=?, attachment_status=?, generation=generation+1, updated_at=? WHERE id=? RETURNING generation`
	if err = tx.QueryRowContext(ctx, upd, nullable(name), string(status), updatedAt.UnixMilli(), id.String()).Scan(&gen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, app.ErrNotFound
		}
		return 0, classify(err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM fragments WHERE post_id=?`, id.String()); err != nil {
		return 0, classify(err)
	}
	if err = tx.Commit(); err != nil {
		return 0, classify(err)
	}
	return gen, nil
}

// SetStatus records the attachment status of a post.
func (i *Index) SetStatus(ctx context.Context, id domain.PostID, status domain.AttachmentStatus, updatedAt time.Time) error {
	const q = `UPDATE posts SET attachment_status=?, updated_at=? WHERE id=?`
	res, err := i.db.ExecContext(ctx, q, string(status), updatedAt.UnixMilli(), id.String())
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// Delete removes the post. Fragment rows follow via the cascade, and are
// also deleted explicitly for connections opened without foreign keys.
func (i *Index) Delete(ctx context.Context, id domain.PostID) (err error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM fragments WHERE post_id=?`, id.String()); err != nil {
		return classify(err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id=?`, id.String())
	if err != nil {
		return classify(err)
	}
	if err = requireRow(res); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// IDs returns the ids of every stored post.
func (i *Index) IDs(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, i.db, `SELECT id FROM posts`)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (domain.Post, error) {
	var (
		p                domain.Post
		id, tags, status string
		name             sql.NullString
		created, updated int64
	)
	if err := r.Scan(&id, &p.Title, &p.Content, &tags, &name, &status, &p.Generation, &created, &updated); err != nil {
		return domain.Post{}, err
	}
	p.ID = domain.PostID(id)
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return domain.Post{}, fmt.Errorf("decode tags of %s: %w", id, err)
	}
	if name.Valid {
		n := name.String
		p.AttachmentName = &n
	}
	p.AttachmentStatus = domain.AttachmentStatus(status)
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return app.ErrNotFound
	}
	return nil
}

func queryStrings(ctx context.Context, db *sql.DB, q string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err = rows.Scan(&s); err != nil {
			return nil, classify(err)
		}
		out = append(out, s)
	}
	if err = rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
