package mesher

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/voxel"
)

// Face names one of the six axis-aligned face directions. The order matches
// voxel.FaceOffsets.
type Face uint8

const (
	Right  Face = iota // +X
	Left               // -X
	Top                // +Y
	Bottom             // -Y
	Front              // +Z
	Back               // -Z
)

var faceNames = [...]string{"right", "left", "top", "bottom", "front", "back"}

func faceFor(axis int, positive bool) Face {
	f := Face(axis * 2)
	if !positive {
		f++
	}
	return f
}

func (f Face) String() string {
	if int(f) < len(faceNames) {
		return faceNames[f]
	}
	return "unknown"
}

// Axis returns 0, 1 or 2 for X, Y or Z.
func (f Face) Axis() int {
	return int(f) / 2
}

// Positive reports whether the face points along the positive axis.
func (f Face) Positive() bool {
	return f%2 == 0
}

// Normal returns the outward unit normal.
func (f Face) Normal() mgl32.Vec3 {
	var n mgl32.Vec3
	if f.Positive() {
		n[f.Axis()] = 1
	} else {
		n[f.Axis()] = -1
	}
	return n
}

// Category maps the face to the palette's color groups.
func (f Face) Category() voxel.FaceCategory {
	switch f {
	case Top:
		return voxel.CategoryTop
	case Bottom:
		return voxel.CategoryBottom
	default:
		return voxel.CategorySide
	}
}

// Shade is the fixed directional light factor applied to a face's color.
func (f Face) Shade() float32 {
	return 1.0 - 0.2*float32(f.Axis())
}
