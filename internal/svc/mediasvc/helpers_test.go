package mediasvc_test

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkrupp/mediacache/internal/repo/blob"
	"github.com/mkrupp/mediacache/internal/repo/media"
	"github.com/mkrupp/mediacache/internal/svc/mediasvc"
)

const mib = 1024 * 1024

// testClock hands out strictly increasing times, one second apart.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Second)

	return c.now
}

func testRepositoryFactory(dir string) media.RepositoryFactory {
	return media.SQLiteMediaRepositoryFactory(
		media.SQLiteMediaRepositoryConfig{
			DatabasePath: filepath.Join(dir, "media.db"),
			BusyTimeout:  5 * time.Second,
		},
		blob.FileSystemBlobRepositoryFactory(blob.FileSystemBlobRepositoryConfig{
			Basedir: filepath.Join(dir, "blob"),
		}),
	)
}

func newTestService(t *testing.T, cfg mediasvc.MediaConfig, opts ...mediasvc.Option) *mediasvc.CacheMediaService {
	t.Helper()

	opts = append([]mediasvc.Option{mediasvc.WithClock(newTestClock().Now)}, opts...)
	svc := mediasvc.NewCacheMediaService(testRepositoryFactory(t.TempDir()), cfg, opts...)

	t.Cleanup(func() { _ = svc.Close() })

	return svc
}

func payload(size int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

func saveN(t *testing.T, svc mediasvc.MediaService, n int) []string {
	t.Helper()

	ids := make([]string, 0, n)

	for i := range n {
		id, err := svc.Save(context.Background(), "photo.jpg", payload(16, byte(i)))
		require.NoError(t, err)

		ids = append(ids, id.String())
	}

	return ids
}
