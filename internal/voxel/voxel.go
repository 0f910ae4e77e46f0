package voxel

import "fmt"

// Type enumerates the voxel materials a chunk can hold. Zero is empty space.
type Type uint8

const (
	Air Type = iota
	Stone
	Dirt
	Grass
	Sand
	Snow
	Bedrock
	Water
	Glass
	Wood
	Leaves

	typeCount
)

var typeNames = [typeCount]string{
	Air:     "air",
	Stone:   "stone",
	Dirt:    "dirt",
	Grass:   "grass",
	Sand:    "sand",
	Snow:    "snow",
	Bedrock: "bedrock",
	Water:   "water",
	Glass:   "glass",
	Wood:    "wood",
	Leaves:  "leaves",
}

var transparent = [typeCount]bool{
	Air:    true,
	Water:  true,
	Glass:  true,
	Leaves: true,
}

// Count returns the number of known voxel types.
func Count() int {
	return int(typeCount)
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("voxel(%d)", uint8(t))
}

// Valid reports whether t is a known voxel type.
func (t Type) Valid() bool {
	return t < typeCount
}

// Solid reports whether the voxel occupies space.
func (t Type) Solid() bool {
	return t != Air
}

// Transparent reports whether faces behind this voxel stay visible. Unknown
// types are treated as opaque.
func (t Type) Transparent() bool {
	if int(t) < len(transparent) {
		return transparent[t]
	}
	return false
}

// ParseType resolves a voxel type from its configuration name.
func ParseType(name string) (Type, error) {
	for i, n := range typeNames {
		if n == name {
			return Type(i), nil
		}
	}
	return Air, fmt.Errorf("unknown voxel type %q", name)
}

// FaceVisible reports whether the face of v that touches neighbor should be
// drawn: v must be solid and neighbor either empty or a different
// transparent material.
func FaceVisible(v, neighbor Type) bool {
	if !v.Solid() {
		return false
	}
	if neighbor == Air {
		return true
	}
	return neighbor.Transparent() && neighbor != v
}
