package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

// Owner creates the attachment owner before fragments are sent and finalizes
// it afterwards. *app.Service and *client.Client implement it.
type Owner interface {
	InitializeAttachmentOwner(ctx context.Context, np app.NewPost) (domain.Post, error)
	Finalize(ctx context.Context, postID string) (app.AttachmentState, error)
}

// chunkSizer is implemented by owners that learn the server's chunk size
// during initialization.
type chunkSizer interface {
	PreferredChunkSize() int
}

// Request describes a post and its optional attachment.
type Request struct {
	Title   string
	Content string
	Tags    []string
	// Name is the attachment filename. It is ignored when Body is nil or
	// Size is zero, in which case the post is created without an attachment.
	Name string
	Body io.Reader
	Size int64
}

// Result is what a finished upload produced.
type Result struct {
	Post  domain.Post
	State app.AttachmentState
}

// Uploader runs initialize, fragment transfer and finalize in order.
type Uploader struct {
	Owner  Owner
	Driver Driver
	// Timeout bounds the whole upload. Zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (u *Uploader) log() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

// Upload creates the post and streams its attachment. When the transfer
// fails the post remains with whatever fragments arrived; the returned error
// then matches ErrTransferFailure and Result.Post is still populated.
func (u *Uploader) Upload(ctx context.Context, req Request) (Result, error) {
	if u.Owner == nil {
		return Result{}, errors.New("ingest: nil owner")
	}
	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}
	np := app.NewPost{Title: req.Title, Content: req.Content, Tags: req.Tags}
	hasFile := req.Body != nil && req.Size > 0
	if hasFile {
		name := req.Name
		np.AttachmentName = &name
		np.AttachmentSize = req.Size
	}
	post, err := u.Owner.InitializeAttachmentOwner(ctx, np)
	if err != nil {
		return Result{}, fmt.Errorf("initialize: %w", err)
	}
	res := Result{Post: post}
	if !hasFile {
		return res, nil
	}
	driver := u.Driver
	if cs, ok := u.Owner.(chunkSizer); ok && cs.PreferredChunkSize() > 0 {
		driver.ChunkSize = cs.PreferredChunkSize()
	}
	start := time.Now()
	if err := driver.Run(ctx, post.ID.String(), post.Generation, req.Body, req.Size); err != nil {
		u.log().Warn("upload interrupted", "post", post.ID, "err", err)
		return res, err
	}
	state, err := u.Owner.Finalize(ctx, post.ID.String())
	if err != nil {
		return res, fmt.Errorf("finalize: %w", err)
	}
	res.State = state
	u.log().Info("upload complete", "post", post.ID, "bytes", req.Size, "elapsed", time.Since(start))
	return res, nil
}
