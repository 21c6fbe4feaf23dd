package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostLocksSerializeSameKey(t *testing.T) {
	l := newPostLocks()
	unlock, err := l.lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	unlock()
	again, err := l.lock(context.Background(), "a")
	require.NoError(t, err)
	again()
	assert.Zero(t, l.size())
}

func TestPostLocksHandOff(t *testing.T) {
	l := newPostLocks()
	unlock, err := l.lock(context.Background(), "a")
	require.NoError(t, err)
	acquired := make(chan struct{})
	go func() {
		u, err := l.lock(context.Background(), "a")
		if err == nil {
			close(acquired)
			u()
		}
	}()
	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}
