package voxel

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/constraints"
)

// ChunkCoord identifies a chunk in chunk space.
type ChunkCoord struct {
	X int32
	Y int32
	Z int32
}

// BlockCoord describes a voxel position in world space.
type BlockCoord struct {
	X int
	Y int
	Z int
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// Add offsets the coordinate by d.
func (c ChunkCoord) Add(d ChunkCoord) ChunkCoord {
	return ChunkCoord{X: c.X + d.X, Y: c.Y + d.Y, Z: c.Z + d.Z}
}

// Sub returns the offset from o to c.
func (c ChunkCoord) Sub(o ChunkCoord) ChunkCoord {
	return ChunkCoord{X: c.X - o.X, Y: c.Y - o.Y, Z: c.Z - o.Z}
}

// Origin returns the world position of the chunk's minimum corner.
func (c ChunkCoord) Origin(edge int) BlockCoord {
	return BlockCoord{X: int(c.X) * edge, Y: int(c.Y) * edge, Z: int(c.Z) * edge}
}

// Offset returns the world-space origin as a vector for renderer placement.
func (c ChunkCoord) Offset(edge int) mgl32.Vec3 {
	o := c.Origin(edge)
	return mgl32.Vec3{float32(o.X), float32(o.Y), float32(o.Z)}
}

// Neighbor returns the chunk across face i, indexed like FaceOffsets.
func (c ChunkCoord) Neighbor(face int) ChunkCoord {
	return c.Add(FaceOffsets[face])
}

// Bounds returns the inclusive world-space block range the chunk covers.
func (c ChunkCoord) Bounds(edge int) (lo, hi BlockCoord) {
	lo = c.Origin(edge)
	return lo, BlockCoord{X: lo.X + edge - 1, Y: lo.Y + edge - 1, Z: lo.Z + edge - 1}
}

// Manhattan returns the L1 distance between two chunk coordinates.
func (c ChunkCoord) Manhattan(o ChunkCoord) int {
	d := c.Sub(o)
	return abs(int(d.X)) + abs(int(d.Y)) + abs(int(d.Z))
}

// Chebyshev returns the L∞ distance between two chunk coordinates.
func (c ChunkCoord) Chebyshev(o ChunkCoord) int {
	d := c.Sub(o)
	return max(abs(int(d.X)), abs(int(d.Y)), abs(int(d.Z)))
}

// DistSq returns the squared Euclidean distance in chunk units.
func (c ChunkCoord) DistSq(o ChunkCoord) int64 {
	d := c.Sub(o)
	return int64(d.X)*int64(d.X) + int64(d.Y)*int64(d.Y) + int64(d.Z)*int64(d.Z)
}

// Chunk returns the chunk containing the block and the block's local offset.
func (b BlockCoord) Chunk(edge int) (ChunkCoord, int, int, int) {
	cc := ChunkCoord{
		X: int32(FloorDiv(b.X, edge)),
		Y: int32(FloorDiv(b.Y, edge)),
		Z: int32(FloorDiv(b.Z, edge)),
	}
	return cc, Mod(b.X, edge), Mod(b.Y, edge), Mod(b.Z, edge)
}

// ChunkAt returns the chunk containing a world-space position.
func ChunkAt(pos mgl32.Vec3, edge int) ChunkCoord {
	e := float64(edge)
	return ChunkCoord{
		X: int32(math.Floor(float64(pos.X()) / e)),
		Y: int32(math.Floor(float64(pos.Y()) / e)),
		Z: int32(math.Floor(float64(pos.Z()) / e)),
	}
}

// FaceOffsets lists the six face-adjacent chunk offsets in face order
// (+X, -X, +Y, -Y, +Z, -Z).
var FaceOffsets = [6]ChunkCoord{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv[T constraints.Signed](value, size T) T {
	if size <= 0 {
		return 0
	}
	if value >= 0 {
		return value / size
	}
	return -((-value - 1) / size) - 1
}

// Mod returns the non-negative remainder of value / size.
func Mod[T constraints.Signed](value, size T) T {
	if size <= 0 {
		return 0
	}
	m := value % size
	if m < 0 {
		m += size
	}
	return m
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
