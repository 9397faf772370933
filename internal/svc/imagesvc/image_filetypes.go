package imagesvc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/tiff"

	"github.com/mkrupp/mediacache/internal/domain"
)

const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
	MIMETypeTIFF = "image/tiff"
)

type imageCodec struct {
	headers      []string
	decode       func(io.Reader) (image.Image, error)
	decodeConfig func(io.Reader) (image.Config, error)
}

//nolint:gochecknoglobals
var imageCodecs = map[string]imageCodec{
	MIMETypeJPEG: {
		headers:      []string{"\xFF\xD8"},
		decode:       jpeg.Decode,
		decodeConfig: jpeg.DecodeConfig,
	},
	MIMETypePNG: {
		headers:      []string{"\x89\x50\x4E\x47\x0D\x0A\x1A\x0A"},
		decode:       png.Decode,
		decodeConfig: png.DecodeConfig,
	},
	MIMETypeTIFF: {
		headers:      []string{"\x49\x49\x2A\x00", "\x4D\x4D\x00\x2A"},
		decode:       tiff.Decode,
		decodeConfig: tiff.DecodeConfig,
	},
}

// getCodec returns the codec for mimeType, falling back to the file header
// when the declared type is not a supported image type.
func getCodec(mimeType string, data []byte) (imageCodec, error) {
	if codec, ok := imageCodecs[mimeType]; ok {
		return codec, nil
	}

	for _, codec := range imageCodecs {
		for _, header := range codec.headers {
			if bytes.HasPrefix(data, []byte(header)) {
				return codec, nil
			}
		}
	}

	return imageCodec{}, fmt.Errorf("%w: %q", domain.ErrImageTypeNotSupported, mimeType)
}
