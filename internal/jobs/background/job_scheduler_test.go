package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJobScheduler_RunsRegisteredJob(t *testing.T) {
	js, err := NewJobScheduler(discardLogger())
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, js.Register("lapse-sweep", time.Hour, true, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("failures are logged, not fatal")
	}))
	assert.Equal(t, []string{"lapse-sweep"}, js.JobNames())

	js.Start()
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, js.Stop())
}

func TestJobScheduler_StopCancelsJobContext(t *testing.T) {
	js, err := NewJobScheduler(discardLogger())
	require.NoError(t, err)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, js.Register("slow", time.Hour, true, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))

	js.Start()
	<-started
	require.NoError(t, js.Stop())

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled on stop")
	}
}

func TestJobScheduler_RejectsNonPositiveInterval(t *testing.T) {
	js, err := NewJobScheduler(discardLogger())
	require.NoError(t, err)
	defer js.Stop()

	assert.Error(t, js.Register("broken", 0, false, func(context.Context) error { return nil }))
	assert.Empty(t, js.JobNames())
}
