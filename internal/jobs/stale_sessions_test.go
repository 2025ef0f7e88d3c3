package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldops/internal/config"
)

type fakeCloser struct {
	mu     sync.Mutex
	calls  []time.Time
	closed int64
	err    error
}

func (f *fakeCloser) CloseStaleWorkSessions(_ context.Context, openedBefore, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, openedBefore)
	return f.closed, f.err
}

func (f *fakeCloser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestCloseStaleUsesMaxAge(t *testing.T) {
	closer := &fakeCloser{closed: 3}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	n := closeStale(context.Background(), config.StaleSessionJob{MaxAge: 12 * time.Hour}, closer, now, zap.NewNop())
	assert.Equal(t, int64(3), n)
	require.Len(t, closer.calls, 1)
	assert.Equal(t, now.Add(-12*time.Hour), closer.calls[0])
}

func TestCloseStaleDefaultsAndErrors(t *testing.T) {
	closer := &fakeCloser{err: errors.New("db down")}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	n := closeStale(context.Background(), config.StaleSessionJob{}, closer, now, zap.NewNop())
	assert.Zero(t, n)
	require.Len(t, closer.calls, 1)
	assert.Equal(t, now.Add(-18*time.Hour), closer.calls[0])
}

func TestStartStaleSessionJob(t *testing.T) {
	disabled := &fakeCloser{}
	StartStaleSessionJob(context.Background(), config.StaleSessionJob{Interval: time.Millisecond}, disabled, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	enabled := &fakeCloser{}
	StartStaleSessionJob(ctx, config.StaleSessionJob{Enabled: true, Interval: 5 * time.Millisecond}, enabled, nil)

	require.Eventually(t, func() bool { return enabled.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, disabled.count())
}
