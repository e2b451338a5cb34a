package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("embedding-"), 512)
	random := make([]byte, 256)
	for i := range random {
		random[i] = byte(i*131 + 7)
	}

	for _, typ := range []Type{None, LZ4, ZSTD} {
		for name, data := range map[string][]byte{"compressible": compressible, "small": random, "empty": {}} {
			t.Run(typ.String()+"/"+name, func(t *testing.T) {
				block, err := Encode(data, typ)
				require.NoError(t, err)

				out, err := Decode(block, typ)
				require.NoError(t, err)
				assert.Equal(t, len(data), len(out))
				assert.True(t, bytes.Equal(data, out))
			})
		}
	}
}

func TestEncodeShrinks(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 4096)
	for _, typ := range []Type{LZ4, ZSTD} {
		block, err := Encode(data, typ)
		require.NoError(t, err)
		assert.Less(t, len(block), len(data)/2, typ.String())
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{1, 2}, LZ4)
	assert.Error(t, err)

	block, err := Encode(bytes.Repeat([]byte("x"), 1024), ZSTD)
	require.NoError(t, err)
	_, err = Decode(block[:len(block)-4], ZSTD)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Type{"": None, "none": None, "LZ4": LZ4, "zstd": ZSTD} {
		got, err := Parse(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := Parse("snappy")
	assert.Error(t, err)
	assert.Equal(t, "Unknown(9)", Type(9).String())
}
