package blob

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ErrUnknownCodec is returned when the configured compression is not supported.
var ErrUnknownCodec = errors.New("unknown blob codec")

const (
	CodecNone = "none"
	CodecZstd = "zstd"
)

// codec transforms blob bodies on their way to and from disk.
type codec interface {
	// Ext is appended to the blob file extension, e.g. "zst".
	Ext() string
	Encode(src []byte) []byte
	Decode(src []byte) ([]byte, error)
}

func newCodec(name string) (codec, error) {
	switch name {
	case "", CodecNone:
		return identityCodec{}, nil
	case CodecZstd:
		return newZstdCodec()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

type identityCodec struct{}

func (identityCodec) Ext() string { return "" }

func (identityCodec) Encode(src []byte) []byte { return src }

func (identityCodec) Decode(src []byte) ([]byte, error) { return src, nil }

// zstdCodec compresses blobs at rest.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("new zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("new zstd decoder: %w", err)
	}

	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Ext() string { return "zst" }

func (c *zstdCodec) Encode(src []byte) []byte {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)))
}

func (c *zstdCodec) Decode(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}

	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}

	return out, nil
}
