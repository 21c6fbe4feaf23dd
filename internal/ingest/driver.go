// Package ingest moves an attachment from a byte source into fragment storage.
// The Driver cuts the source into fixed-size chunks, encodes each one and hands
// it to a Sink strictly one after another; the Uploader wraps that loop with
// the initialize and finalize calls of a full upload.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/haukened/scribe/internal/codec"
)

// ErrTransferFailure matches every error returned by Driver.Run for a chunk
// that could not be read or delivered.
var ErrTransferFailure = errors.New("transfer failed")

// TransferError reports the chunk at which a transfer stopped. Chunks before
// Index were delivered and are not rolled back.
type TransferError struct {
	Index int
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed at chunk %d: %v", e.Index, e.Err)
}

// Unwrap exposes both ErrTransferFailure and the underlying cause.
func (e *TransferError) Unwrap() []error { return []error{ErrTransferFailure, e.Err} }

// Sink accepts encoded fragments. *app.Service and *client.Client implement it.
type Sink interface {
	AppendFragment(ctx context.Context, postID string, index int, payload []byte, generation int64) error
}

// Progress is reported after each chunk the sink acknowledged.
type Progress struct {
	Chunk       int // 1-based
	TotalChunks int
	BytesSent   int64
	TotalBytes  int64
	Percent     int
}

// Driver sends an attachment to a Sink one chunk at a time.
type Driver struct {
	Sink      Sink
	ChunkSize int
	// ChunkTimeout bounds each AppendFragment call. Zero means no bound.
	ChunkTimeout time.Duration
	// Progress, when set, is called synchronously after each chunk.
	Progress func(Progress)
	Logger   *slog.Logger
}

// Percent returns round(100*done/total), the completion figure shown after
// done of total chunks.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// Run reads size bytes from r and appends them to postID as
// ceil(size/ChunkSize) fragments. Only one chunk is held in memory at a time.
// A nil reader or a non-positive size sends nothing.
func (d *Driver) Run(ctx context.Context, postID string, generation int64, r io.Reader, size int64) error {
	if r == nil || size <= 0 {
		return nil
	}
	if d.Sink == nil {
		return errors.New("ingest: nil sink")
	}
	if err := codec.ValidateChunkSize(d.ChunkSize); err != nil {
		return err
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	total := codec.ChunkCount(size, d.ChunkSize)
	buf := make([]byte, d.ChunkSize)
	var sent int64
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return &TransferError{Index: i, Err: err}
		}
		n := int64(d.ChunkSize)
		if rest := size - sent; rest < n {
			n = rest
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return &TransferError{Index: i, Err: fmt.Errorf("read chunk: %w", err)}
		}
		if err := d.send(ctx, postID, i, codec.Encode(buf[:n]), generation); err != nil {
			return &TransferError{Index: i, Err: err}
		}
		sent += n
		log.Debug("chunk sent", "post", postID, "chunk", i, "bytes", n)
		if d.Progress != nil {
			d.Progress(Progress{
				Chunk:       i + 1,
				TotalChunks: total,
				BytesSent:   sent,
				TotalBytes:  size,
				Percent:     Percent(i+1, total),
			})
		}
	}
	return nil
}

func (d *Driver) send(ctx context.Context, postID string, index int, payload []byte, generation int64) error {
	if d.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ChunkTimeout)
		defer cancel()
	}
	return d.Sink.AppendFragment(ctx, postID, index, payload, generation)
}
