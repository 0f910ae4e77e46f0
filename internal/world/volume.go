package world

import (
	"fmt"

	"voxelstream/internal/voxel"
)

// Volume is an immutable flat copy of a chunk's voxels. Worker tasks read
// volumes, never chunks.
type Volume struct {
	edge     int
	data     []byte
	nonEmpty int
}

// NewVolume wraps data, which must hold exactly edge³ voxels. The volume takes
// ownership of data.
func NewVolume(edge int, data []byte) (Volume, error) {
	if edge <= 0 || len(data) != edge*edge*edge {
		return Volume{}, fmt.Errorf("%w: %d bytes for edge %d", ErrBadPayload, len(data), edge)
	}
	n := 0
	for _, b := range data {
		if b != 0 {
			n++
		}
	}
	return Volume{edge: edge, data: data, nonEmpty: n}, nil
}

func (v Volume) Edge() int {
	return v.edge
}

// Voxel returns the voxel at a local coordinate, or air outside the volume.
func (v Volume) Voxel(x, y, z int) voxel.Type {
	e := v.edge
	if x < 0 || y < 0 || z < 0 || x >= e || y >= e || z >= e {
		return voxel.Air
	}
	return voxel.Type(v.data[y*e*e+z*e+x])
}

func (v Volume) NonEmpty() int {
	return v.nonEmpty
}

// Bytes exposes the underlying buffer. Callers must not modify it.
func (v Volume) Bytes() []byte {
	return v.data
}
