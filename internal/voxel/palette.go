package voxel

import (
	"fmt"
	"strconv"
	"strings"
)

// FaceCategory groups the six faces for coloring purposes.
type FaceCategory uint8

const (
	CategorySide FaceCategory = iota
	CategoryTop
	CategoryBottom
)

func (c FaceCategory) String() string {
	switch c {
	case CategoryTop:
		return "top"
	case CategoryBottom:
		return "bottom"
	default:
		return "side"
	}
}

// Color is a linear RGB triple in [0,1].
type Color struct {
	R, G, B float32
}

// Scale multiplies every channel by f.
func (c Color) Scale(f float32) Color {
	return Color{R: c.R * f, G: c.G * f, B: c.B * f}
}

// Definition describes how a voxel type is colored. Empty top/bottom colors
// fall back to Color.
type Definition struct {
	Name        string
	Color       string
	TopColor    string
	BottomColor string
}

// Palette resolves per-face colors for every voxel type.
type Palette struct {
	colors [typeCount][3]Color
}

// Color returns the color of a voxel face. Unknown types render magenta so
// they stand out.
func (p *Palette) Color(t Type, cat FaceCategory) Color {
	if p == nil || !t.Valid() {
		return Color{R: 1, G: 0, B: 1}
	}
	return p.colors[t][cat]
}

// NewPalette builds a palette from definitions layered over DefaultDefinitions.
func NewPalette(defs []Definition) (*Palette, error) {
	p := &Palette{}
	for i := range p.colors {
		for j := range p.colors[i] {
			p.colors[i][j] = Color{R: 1, G: 0, B: 1}
		}
	}
	for _, set := range [][]Definition{DefaultDefinitions(), defs} {
		for i, def := range set {
			if err := p.apply(def); err != nil {
				return nil, fmt.Errorf("block %d (%s): %w", i, def.Name, err)
			}
		}
	}
	return p, nil
}

// DefaultPalette returns the built-in palette.
func DefaultPalette() *Palette {
	p, err := NewPalette(nil)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Palette) apply(def Definition) error {
	t, err := ParseType(def.Name)
	if err != nil {
		return err
	}
	base, err := ParseHexColor(def.Color)
	if err != nil {
		return err
	}
	top, bottom := base, base
	if def.TopColor != "" {
		if top, err = ParseHexColor(def.TopColor); err != nil {
			return err
		}
	}
	if def.BottomColor != "" {
		if bottom, err = ParseHexColor(def.BottomColor); err != nil {
			return err
		}
	}
	p.colors[t][CategorySide] = base
	p.colors[t][CategoryTop] = top
	p.colors[t][CategoryBottom] = bottom
	return nil
}

// ParseHexColor decodes "#RRGGBB".
func ParseHexColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("color %q must be #RRGGBB", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	return Color{
		R: float32((v>>16)&0xFF) / 255,
		G: float32((v>>8)&0xFF) / 255,
		B: float32(v&0xFF) / 255,
	}, nil
}

// DefaultDefinitions returns the built-in block colors.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "air", Color: "#000000"},
		{Name: "stone", Color: "#8A8A8A"},
		{Name: "dirt", Color: "#8B5A2B"},
		{Name: "grass", Color: "#7A5230", TopColor: "#5FA04E", BottomColor: "#8B5A2B"},
		{Name: "sand", Color: "#C2B280"},
		{Name: "snow", Color: "#E8EEF2", TopColor: "#FFFFFF"},
		{Name: "bedrock", Color: "#2B2B2B"},
		{Name: "water", Color: "#3B6FB6"},
		{Name: "glass", Color: "#CFE8F0"},
		{Name: "wood", Color: "#6B4A2B", TopColor: "#A07A4A", BottomColor: "#A07A4A"},
		{Name: "leaves", Color: "#3C7A32"},
	}
}
