package imagesvc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/infra/logging"
)

// ImageCompressor shrinks captured images before they are cached: images wider
// than MaxWidth are scaled down and everything is re-encoded as JPEG.
type ImageCompressor struct {
	cfg      ImageConfig
	interpol xdraw.Interpolator
	log      logging.Logger
}

// NewImageCompressor creates an ImageCompressor.
// Returns ErrUnknownInterpolator if cfg names an unsupported interpolator.
func NewImageCompressor(cfg ImageConfig) (*ImageCompressor, error) {
	interpol, err := getInterpolatorByName(cfg.Interpolator)
	if err != nil {
		return nil, fmt.Errorf("get interpolator %q: %w", cfg.Interpolator, err)
	}

	if cfg.Quality < 1 || cfg.Quality > 100 {
		cfg.Quality = jpeg.DefaultQuality
	}

	return &ImageCompressor{
		cfg:      cfg,
		interpol: interpol,
		log:      logging.GetLogger("svc.imagesvc.image_compressor"),
	}, nil
}

// Compress decodes data, scales it down and encodes it as JPEG.
// Non-image payloads are reported with domain.ErrImageTypeNotSupported and images
// above MaxPixels with domain.ErrImageTooLarge.
func (c *ImageCompressor) Compress(ctx context.Context, data []byte, mimeType string) (out []byte, outType string, err error) {
	log := c.log.With(logging.Group("image", "type", mimeType, "size", len(data)))

	defer func() {
		if err == nil {
			log.DebugContext(ctx, "image compressed", "compressed_size", len(out))
		}
	}()

	codec, err := getCodec(mimeType, data)
	if err != nil {
		return nil, "", err
	}

	config, err := codec.decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}

	if pixels := int64(config.Width) * int64(config.Height); c.cfg.MaxPixels > 0 && pixels > c.cfg.MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", domain.ErrImageTooLarge, config.Width, config.Height)
	}

	if err := ctx.Err(); err != nil {
		return nil, "", err //nolint:wrapcheck
	}

	original, err := codec.decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bitmap := flatten(scaleToWidth(original, c.cfg.MaxWidth, c.interpol))

	var buffer bytes.Buffer
	if err := jpeg.Encode(&buffer, bitmap, &jpeg.Options{Quality: c.cfg.Quality}); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}

	return buffer.Bytes(), MIMETypeJPEG, nil
}

// flatten draws img onto a white background, since JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}

	bitmap := image.NewRGBA(img.Bounds())
	draw.Draw(bitmap, bitmap.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(bitmap, bitmap.Bounds(), img, img.Bounds().Min, draw.Over)

	return bitmap
}
