// Package encoding frames values as JSON with optional block compression.
package encoding

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/zeusync/physync/pkg/generic"
)

// Compression selects the block compressor applied after JSON encoding.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"
)

// ParseCompression maps a configuration string to a Compression. The empty
// string means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionSnappy, CompressionZstd:
		return c, nil
	default:
		return "", errors.Errorf("unknown compression %q", s)
	}
}

// Codec marshals values for the wire. Safe for concurrent use.
type Codec struct {
	compression Compression
	buffers     *generic.Pool[*bytes.Buffer]
	zenc        *zstd.Encoder
	zdec        *zstd.Decoder
}

func NewCodec(c Compression) (*Codec, error) {
	codec := &Codec{
		compression: c,
		buffers: generic.NewHotPool(func() *bytes.Buffer { return new(bytes.Buffer) }, 4).
			WithReset(func(b *bytes.Buffer) *bytes.Buffer { b.Reset(); return b }),
	}
	switch c {
	case CompressionNone, CompressionSnappy:
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, errors.Wrap(err, "zstd encoder")
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			_ = enc.Close()
			return nil, errors.Wrap(err, "zstd decoder")
		}
		codec.zenc, codec.zdec = enc, dec
	default:
		return nil, errors.Errorf("unknown compression %q", c)
	}
	return codec, nil
}

func (c *Codec) Compression() Compression { return c.compression }

// Marshal encodes v. The returned slice is owned by the caller.
func (c *Codec) Marshal(v any) ([]byte, error) {
	buf := c.buffers.Get()
	defer c.buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	raw := buf.Bytes()
	switch c.compression {
	case CompressionSnappy:
		return snappy.Encode(nil, raw), nil
	case CompressionZstd:
		return c.zenc.EncodeAll(raw, nil), nil
	default:
		return bytes.Clone(raw), nil
	}
}

// Unmarshal decodes data produced by Marshal with the same compression.
func (c *Codec) Unmarshal(data []byte, v any) error {
	raw := data
	var err error
	switch c.compression {
	case CompressionSnappy:
		if raw, err = snappy.Decode(nil, data); err != nil {
			return errors.Wrap(err, "snappy decode")
		}
	case CompressionZstd:
		if raw, err = c.zdec.DecodeAll(data, nil); err != nil {
			return errors.Wrap(err, "zstd decode")
		}
	}
	if err = json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

// Close releases compressor resources.
func (c *Codec) Close() error {
	if c.zdec != nil {
		c.zdec.Close()
	}
	if c.zenc != nil {
		return c.zenc.Close()
	}
	return nil
}
