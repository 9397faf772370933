//go:build integration || all

package uploadsvc_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mkrupp/mediacache/internal/svc/uploadsvc"
)

const (
	minioUser     = "mediacache"
	minioPassword = "mediacache-secret"
)

func startMinIO(t *testing.T) string {
	t.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		t.Skip("SKIP_DOCKER_TESTS is set")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestMinIOUploader_Upload(t *testing.T) {
	endpoint := startMinIO(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		presign time.Duration
	}{
		{name: "plain url"},
		{name: "presigned url", presign: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uploader, err := uploadsvc.NewMinIOUploader(ctx, uploadsvc.MinIOUploaderConfig{
				Endpoint:        endpoint,
				AccessKeyID:     minioUser,
				SecretAccessKey: minioPassword,
				Bucket:          "mediacache-test",
				KeyPrefix:       "media/",
				PresignExpiry:   tt.presign,
			})
			require.NoError(t, err)

			first, err := uploader.Upload(ctx, []byte("first attempt"), "tasting.jpg")
			require.NoError(t, err)

			second, err := uploader.Upload(ctx, []byte("second attempt"), "tasting.jpg")
			require.NoError(t, err)

			assert.Contains(t, second, "/mediacache-test/media/tasting.jpg")

			if tt.presign == 0 {
				assert.Equal(t, first, second)

				return
			}

			resp, err := http.Get(second) //nolint:noctx
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, "second attempt", string(body))
		})
	}
}
