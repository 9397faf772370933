package imagesvc_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/svc/imagesvc"
)

func testImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}

	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

func encodeTIFF(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))

	return buf.Bytes()
}

func testConfig() imagesvc.ImageConfig {
	return imagesvc.ImageConfig{
		Enabled:      true,
		MaxWidth:     100,
		Quality:      75,
		MaxPixels:    1_000_000,
		Interpolator: "bilinear",
	}
}

func TestImageCompressor_Compress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		data       func(t *testing.T) []byte
		mimeType   string
		wantWidth  int
		wantHeight int
	}{
		{
			name:       "png scaled down",
			data:       func(t *testing.T) []byte { return encodePNG(t, testImage(400, 200)) },
			mimeType:   imagesvc.MIMETypePNG,
			wantWidth:  100,
			wantHeight: 50,
		},
		{
			name:       "tiff detected by header",
			data:       func(t *testing.T) []byte { return encodeTIFF(t, testImage(300, 300)) },
			mimeType:   "application/octet-stream",
			wantWidth:  100,
			wantHeight: 100,
		},
		{
			name:       "narrow image keeps size",
			data:       func(t *testing.T) []byte { return encodePNG(t, testImage(80, 40)) },
			mimeType:   imagesvc.MIMETypePNG,
			wantWidth:  80,
			wantHeight: 40,
		},
	}

	compressor, err := imagesvc.NewImageCompressor(testConfig())
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, mimeType, err := compressor.Compress(context.Background(), tt.data(t), tt.mimeType)
			require.NoError(t, err)
			assert.Equal(t, imagesvc.MIMETypeJPEG, mimeType)

			decoded, err := jpeg.Decode(bytes.NewReader(out))
			require.NoError(t, err)
			assert.Equal(t, tt.wantWidth, decoded.Bounds().Dx())
			assert.Equal(t, tt.wantHeight, decoded.Bounds().Dy())
		})
	}
}

func TestImageCompressor_Errors(t *testing.T) {
	t.Parallel()

	compressor, err := imagesvc.NewImageCompressor(testConfig())
	require.NoError(t, err)

	_, _, err = compressor.Compress(context.Background(), []byte("voice memo"), "audio/webm")
	require.ErrorIs(t, err, domain.ErrImageTypeNotSupported)

	_, _, err = compressor.Compress(context.Background(), encodePNG(t, testImage(2000, 1000)), imagesvc.MIMETypePNG)
	require.ErrorIs(t, err, domain.ErrImageTooLarge)

	_, _, err = compressor.Compress(context.Background(), []byte("\x89PNG\r\n\x1a\nbroken"), imagesvc.MIMETypePNG)
	require.Error(t, err)

	cfg := testConfig()
	cfg.Interpolator = "sinc"

	_, err = imagesvc.NewImageCompressor(cfg)
	require.ErrorIs(t, err, imagesvc.ErrUnknownInterpolator)
}
