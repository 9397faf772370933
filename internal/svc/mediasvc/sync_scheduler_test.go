package mediasvc_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/mediacache/internal/svc/mediasvc"
)

func TestRunSyncLoop(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, mediasvc.DefaultMediaConfig())
	saveNamed(t, svc, "a")

	var calls atomic.Int32

	upload := func(context.Context, []byte, string) (string, error) {
		calls.Add(1)

		return "", errors.New("offline")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- mediasvc.RunSyncLoop(ctx, svc, upload, 10*time.Millisecond)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync loop did not stop")
	}

	pending, err := svc.GetUnuploaded(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRunSyncLoop_InvalidArguments(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, mediasvc.DefaultMediaConfig())
	upload := func(context.Context, []byte, string) (string, error) { return "", nil }

	require.ErrorIs(t, mediasvc.RunSyncLoop(context.Background(), svc, upload, 0), mediasvc.ErrInvalidInterval)
	require.ErrorIs(t, mediasvc.RunSyncLoop(context.Background(), svc, nil, time.Second), mediasvc.ErrNoUploadFunc)
}
