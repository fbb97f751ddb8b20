package encoding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Seq    uint64    `json:"seq"`
	Bodies []float64 `json:"bodies"`
}

func TestCodecCompressions(t *testing.T) {
	in := frame{Seq: 42, Bodies: make([]float64, 256)}
	for _, c := range []Compression{CompressionNone, CompressionSnappy, CompressionZstd} {
		t.Run(string(c), func(t *testing.T) {
			codec, err := NewCodec(c)
			require.NoError(t, err)
			defer codec.Close()

			data, err := codec.Marshal(in)
			require.NoError(t, err)
			var out frame
			require.NoError(t, codec.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestCodecCompressesRepetitivePayload(t *testing.T) {
	plain, err := NewCodec(CompressionNone)
	require.NoError(t, err)
	packed, err := NewCodec(CompressionSnappy)
	require.NoError(t, err)

	payload := map[string]string{"k": strings.Repeat("body", 500)}
	a, err := plain.Marshal(payload)
	require.NoError(t, err)
	b, err := packed.Marshal(payload)
	require.NoError(t, err)
	assert.Less(t, len(b), len(a))
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := NewCodec(CompressionZstd)
	require.NoError(t, err)
	defer codec.Close()
	var out frame
	assert.Error(t, codec.Unmarshal([]byte("not zstd"), &out))
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	c, err = ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)
	_, err = ParseCompression("lz4")
	assert.Error(t, err)
}
