package encoding_test

import (
	"strings"
	"testing"

	"github.com/mkrupp/mediacache/internal/util/encoding"
)

func TestEncodeCrockfordB32LC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			name:  "empty input",
			input: []byte{},
			want:  "",
		},
		{
			name:  "single byte",
			input: []byte{0xF5},
			want:  "ym",
		},
		{
			name:  "two bytes",
			input: []byte{0xF5, 0x3A},
			want:  "ymx0",
		},
		{
			name:  "three bytes",
			input: []byte{0xF5, 0x3A, 0x58},
			want:  "ymx5g",
		},
		{
			name:  "four bytes",
			input: []byte{0xF5, 0x3A, 0x58, 0x9B},
			want:  "ymx5h6r",
		},
		{
			name:  "five bytes with padding",
			input: []byte{0xF5, 0x3A, 0x58, 0x9B, 0xC4},
			want:  "ymx5h6y4",
		},
		{
			name:  "all zero bytes",
			input: []byte{0, 0, 0, 0},
			want:  "0000000",
		},
		{
			name:  "all ones",
			input: []byte{255, 255, 255, 255},
			want:  "zzzzzzr",
		},
		{
			name:  "sha256 sized digest",
			input: make([]byte, 32),
			want:  strings.Repeat("0", 52),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := encoding.EncodeCrockfordB32LC(tt.input)
			if got != tt.want {
				t.Errorf("EncodeCrockfordB32LC() = %q, want %q", got, tt.want)
			}
		})
	}
}
