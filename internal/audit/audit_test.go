package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
}

func (f *fakeStore) RecordCall(ctx context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestAsyncLogger_RecordCallEventuallyReachesStore(t *testing.T) {
	store := &fakeStore{}
	l := NewAsyncLogger(store, 8)
	l.RecordCall(Entry{Method: "call", Target: "numpy.mean", Outcome: "ok"})

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAsyncLogger_CloseDrainsQueueAndClosesStore(t *testing.T) {
	store := &fakeStore{}
	l := NewAsyncLogger(store, 8)
	for i := 0; i < 5; i++ {
		l.RecordCall(Entry{Method: "call", Target: "x", Outcome: "ok"})
	}
	require.NoError(t, l.Close())
	assert.Equal(t, 5, store.count())
	assert.True(t, store.closed)
}

func TestAsyncLogger_DropsEntriesWhenQueueFull(t *testing.T) {
	store := &fakeStore{}
	l := NewAsyncLogger(store, 1)
	for i := 0; i < 50; i++ {
		l.RecordCall(Entry{Method: "call", Target: "x", Outcome: "ok"})
	}
	require.NoError(t, l.Close())
	assert.LessOrEqual(t, store.count(), 50)
}
