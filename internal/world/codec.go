package world

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ErrBadPayload is returned when a voxel payload does not decode to a full
// chunk volume.
var ErrBadPayload = errors.New("world: bad voxel payload")

// Codec moves voxel buffers across the worker boundary. The encoder and
// decoder are safe for concurrent use, so one Codec serves every worker.
type Codec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewCodec builds a codec. With compress disabled payloads are plain copies.
func NewCodec(compress bool) (*Codec, error) {
	c := &Codec{compress: compress}
	if !compress {
		return c, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	c.enc = enc
	c.dec = dec
	return c, nil
}

// Compressed reports whether payloads are zstd frames.
func (c *Codec) Compressed() bool {
	return c.compress
}

// EncodeVolume packs a flat voxel buffer. The result never aliases data.
func (c *Codec) EncodeVolume(data []byte) []byte {
	if !c.compress {
		return append([]byte(nil), data...)
	}
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)/8))
}

// DecodeVolume unpacks a payload produced by EncodeVolume and checks that it
// holds exactly edge³ voxels.
func (c *Codec) DecodeVolume(payload []byte, edge int) (Volume, error) {
	want := edge * edge * edge
	var data []byte
	if c.compress {
		out, err := c.dec.DecodeAll(payload, make([]byte, 0, want))
		if err != nil {
			return Volume{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		data = out
	} else {
		data = append([]byte(nil), payload...)
	}
	if len(data) != want {
		return Volume{}, fmt.Errorf("%w: decoded %d bytes, want %d", ErrBadPayload, len(data), want)
	}
	return NewVolume(edge, data)
}

// Close releases the zstd state.
func (c *Codec) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
