package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/scribe/internal/codec"
)

type call struct {
	postID     string
	index      int
	payload    []byte
	generation int64
}

// recordingSink implements Sink and remembers every call.
type recordingSink struct {
	mu     sync.Mutex
	calls  []call
	failAt int // index that fails; -1 never
	err    error
	block  bool
}

func newSink() *recordingSink { return &recordingSink{failAt: -1} }

func (s *recordingSink) AppendFragment(ctx context.Context, postID string, index int, payload []byte, generation int64) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if index == s.failAt {
		return s.err
	}
	cp := append([]byte(nil), payload...)
	s.calls = append(s.calls, call{postID: postID, index: index, payload: cp, generation: generation})
	return nil
}

func TestDriverSevenMegabytesInThreeChunks(t *testing.T) {
	const mb = 1 << 20
	data := bytes.Repeat([]byte{0xAB}, 7*mb)
	sink := newSink()
	var progress []Progress
	d := Driver{Sink: sink, ChunkSize: 3 * mb, Progress: func(p Progress) { progress = append(progress, p) }}

	require.NoError(t, d.Run(context.Background(), "post", 4, bytes.NewReader(data), int64(len(data))))
	require.Len(t, sink.calls, 3)
	sizes := []int{3 * mb, 3 * mb, mb}
	var joined [][]byte
	for i, c := range sink.calls {
		assert.Equal(t, i, c.index)
		assert.Equal(t, "post", c.postID)
		assert.Equal(t, int64(4), c.generation)
		decoded, err := codec.Decode(c.payload)
		require.NoError(t, err)
		assert.Len(t, decoded, sizes[i])
		joined = append(joined, c.payload)
	}
	out, err := codec.Reassemble(joined)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	require.Len(t, progress, 3)
	assert.Equal(t, []int{33, 67, 100}, []int{progress[0].Percent, progress[1].Percent, progress[2].Percent})
	assert.Equal(t, int64(7*mb), progress[2].BytesSent)
	assert.Equal(t, 3, progress[2].TotalChunks)
}

func TestDriverEmptyInputSendsNothing(t *testing.T) {
	sink := newSink()
	called := false
	d := Driver{Sink: sink, ChunkSize: 3, Progress: func(Progress) { called = true }}
	require.NoError(t, d.Run(context.Background(), "p", 0, bytes.NewReader(nil), 0))
	require.NoError(t, d.Run(context.Background(), "p", 0, nil, 10))
	assert.Empty(t, sink.calls)
	assert.False(t, called)
}

func TestDriverStopsAtFirstFailure(t *testing.T) {
	sink := newSink()
	sink.failAt = 1
	sink.err = errors.New("boom")
	var progress []Progress
	d := Driver{Sink: sink, ChunkSize: 3, Progress: func(p Progress) { progress = append(progress, p) }}

	err := d.Run(context.Background(), "p", 0, strings.NewReader("abcdefghijkl"), 12)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferFailure)
	assert.ErrorIs(t, err, sink.err)
	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, te.Index)
	assert.Len(t, sink.calls, 1, "no further chunks after a failure")
	assert.Len(t, progress, 1)
}

func TestDriverShortReader(t *testing.T) {
	d := Driver{Sink: newSink(), ChunkSize: 3}
	err := d.Run(context.Background(), "p", 0, strings.NewReader("abcd"), 9)
	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, te.Index)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDriverChunkTimeout(t *testing.T) {
	sink := newSink()
	sink.block = true
	d := Driver{Sink: sink, ChunkSize: 3, ChunkTimeout: 10 * time.Millisecond}
	err := d.Run(context.Background(), "p", 0, strings.NewReader("abc"), 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTransferFailure)
}

func TestDriverCanceledContext(t *testing.T) {
	sink := newSink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := Driver{Sink: sink, ChunkSize: 3}
	err := d.Run(ctx, "p", 0, strings.NewReader("abc"), 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.calls)
}

func TestDriverRejectsBadChunkSize(t *testing.T) {
	d := Driver{Sink: newSink(), ChunkSize: 4}
	err := d.Run(context.Background(), "p", 0, strings.NewReader("abcd"), 4)
	assert.ErrorIs(t, err, codec.ErrChunkSize)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 50, Percent(1, 2))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 67, Percent(2, 3))
	assert.Equal(t, 100, Percent(0, 0))
}
