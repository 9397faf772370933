package mediasvc_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/svc/mediasvc"
)

var errRemoteDown = errors.New("remote down")

// fakeUploader records uploads and fails for the configured payloads.
type fakeUploader struct {
	mu       sync.Mutex
	fail     map[string]bool
	uploaded []string
}

func (u *fakeUploader) Upload(_ context.Context, data []byte, filename string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.fail[string(data)] {
		return "", errRemoteDown
	}

	u.uploaded = append(u.uploaded, string(data))

	return "https://remote.example/" + filename + "/" + string(data), nil
}

func saveNamed(t *testing.T, svc mediasvc.MediaService, names ...string) map[string]domain.MediaID {
	t.Helper()

	ids := make(map[string]domain.MediaID, len(names))

	for _, name := range names {
		id, err := svc.Save(context.Background(), name+".jpg", []byte(name))
		require.NoError(t, err)

		ids[name] = id
	}

	return ids
}

func TestSyncReconciler_PartialFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fail []string
	}{
		{name: "all succeed"},
		{name: "subset fails", fail: []string{"b", "d"}},
		{name: "all fail", fail: []string{"a", "b", "c", "d", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newTestService(t, mediasvc.DefaultMediaConfig())
			ctx := context.Background()

			names := []string{"a", "b", "c", "d", "e"}
			ids := saveNamed(t, svc, names...)

			uploader := &fakeUploader{fail: make(map[string]bool)}
			for _, name := range tt.fail {
				uploader.fail[name] = true
			}

			var progress [][2]int

			result, err := svc.SyncPending(ctx, uploader.Upload, func(done, total int) {
				progress = append(progress, [2]int{done, total})
			})
			require.NoError(t, err)

			assert.Equal(t, domain.SyncResult{Success: len(names) - len(tt.fail), Failed: len(tt.fail)}, result)
			assert.Equal(t, [][2]int{{1, 5}, {2, 5}, {3, 5}, {4, 5}, {5, 5}}, progress)

			for _, name := range names {
				record, ok, err := svc.Get(ctx, ids[name])
				require.NoError(t, err)
				require.True(t, ok)

				failed := uploader.fail[name]
				assert.Equal(t, !failed, record.Meta.Uploaded, name)

				if failed {
					assert.Empty(t, record.Meta.UploadURL, name)
				} else {
					assert.Equal(t, "https://remote.example/"+name+".jpg/"+name, record.Meta.UploadURL, name)
				}
			}

			pending, err := svc.GetUnuploaded(ctx)
			require.NoError(t, err)
			assert.Len(t, pending, len(tt.fail))
		})
	}
}

func TestSyncReconciler_RetriesOnlyPending(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, mediasvc.DefaultMediaConfig())
	ctx := context.Background()

	saveNamed(t, svc, "a", "b", "c")

	uploader := &fakeUploader{fail: map[string]bool{"b": true}}

	result, err := svc.SyncPending(ctx, uploader.Upload, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncResult{Success: 2, Failed: 1}, result)

	delete(uploader.fail, "b")

	result, err = svc.SyncPending(ctx, uploader.Upload, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncResult{Success: 1}, result)
	assert.Equal(t, []string{"a", "c", "b"}, uploader.uploaded)

	result, err = svc.SyncPending(ctx, uploader.Upload, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncResult{}, result)
}

func TestSyncReconciler_SkipsVanishedRecords(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, mediasvc.DefaultMediaConfig())
	ctx := context.Background()

	ids := saveNamed(t, svc, "a", "b", "c")

	upload := func(ctx context.Context, data []byte, filename string) (string, error) {
		if string(data) == "a" {
			if err := svc.Delete(ctx, ids["b"]); err != nil {
				return "", err
			}
		}

		return "https://remote.example/" + filename, nil
	}

	result, err := svc.SyncPending(ctx, upload, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncResult{Success: 2, Skipped: 1}, result)
}

func TestSyncReconciler_PanickingUploadCountsAsFailed(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, mediasvc.DefaultMediaConfig())
	ctx := context.Background()

	ids := saveNamed(t, svc, "a", "b", "c")

	upload := func(_ context.Context, data []byte, filename string) (string, error) {
		if string(data) == "b" {
			panic("remote client bug")
		}

		return "https://remote.example/" + filename, nil
	}

	var result domain.SyncResult

	require.NotPanics(t, func() {
		var err error

		result, err = svc.SyncPending(ctx, upload, nil)
		require.NoError(t, err)
	})
	assert.Equal(t, domain.SyncResult{Success: 2, Failed: 1}, result)

	record, ok, err := svc.Get(ctx, ids["b"])
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, record.Meta.Uploaded)
}

func TestSyncReconciler_Cancellation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, mediasvc.DefaultMediaConfig())

	saveNamed(t, svc, "a", "b", "c", "d")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uploader := &fakeUploader{}

	result, err := svc.SyncPending(ctx, uploader.Upload, func(done, _ int) {
		if done == 2 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.SyncResult{Success: 2}, result)

	pending, err := svc.GetUnuploaded(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSyncReconciler_NoUploadFunc(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, mediasvc.DefaultMediaConfig())

	_, err := svc.SyncPending(context.Background(), nil, nil)
	require.ErrorIs(t, err, mediasvc.ErrNoUploadFunc)
}

func TestSyncReconciler_StorageUnavailable(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, mediasvc.DefaultMediaConfig())
	require.NoError(t, svc.Close())

	uploader := &fakeUploader{}

	_, err := svc.SyncPending(context.Background(), uploader.Upload, nil)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Empty(t, uploader.uploaded)
}
