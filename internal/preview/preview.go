// Package preview renders isometric debug images of generated chunks.
package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"

	"voxelstream/internal/config"
	"voxelstream/internal/mesher"
	"voxelstream/internal/terrain"
	"voxelstream/internal/voxel"
	"voxelstream/internal/world"
)

const (
	tileWidth   = 16
	tileHeight  = 8
	blockHeight = 8
)

// Options controls the output image.
type Options struct {
	// Width scales the rendered image to this many pixels, keeping the
	// aspect ratio. Zero keeps the native size.
	Width      int
	Background color.NRGBA
}

// DefaultBackground matches the dark backdrop of the viewer.
var DefaultBackground = color.NRGBA{R: 10, G: 10, B: 18, A: 255}

type scene struct {
	chunks map[voxel.ChunkCoord]world.Volume
	edge   int
}

func (s scene) at(x, y, z int) voxel.Type {
	c, lx, ly, lz := voxel.BlockCoord{X: x, Y: y, Z: z}.Chunk(s.edge)
	vol, ok := s.chunks[c]
	if !ok {
		return voxel.Air
	}
	return vol.Voxel(lx, ly, lz)
}

type block struct {
	x, y, z int // relative to the scene minimum
	t       voxel.Type
	depth   int
}

// Render draws every voxel with a camera-facing exposed face. The camera
// looks down from the +X+Z corner, so top, right (+X) and front (+Z) faces
// are visible.
func Render(chunks map[voxel.ChunkCoord]world.Volume, edge int, palette *voxel.Palette, opts Options) (*image.NRGBA, error) {
	if len(chunks) == 0 {
		return nil, errors.New("preview: no chunks")
	}
	if palette == nil {
		palette = voxel.DefaultPalette()
	}
	if opts.Background == (color.NRGBA{}) {
		opts.Background = DefaultBackground
	}

	lo, hi := bounds(chunks, edge)
	spanX, spanY, spanZ := hi.X-lo.X, hi.Y-lo.Y, hi.Z-lo.Z

	width := (spanX+spanZ)*tileWidth/2 + tileWidth
	height := (spanX+spanZ)*tileHeight/2 + spanY*blockHeight + tileHeight
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: opts.Background}, image.Point{}, draw.Src)

	s := scene{chunks: chunks, edge: edge}
	blocks := collect(s, lo)
	sort.Slice(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		if a.y != b.y {
			return a.y < b.y
		}
		return a.x < b.x
	})

	offsetX := spanZ*tileWidth/2 + tileWidth/2
	offsetY := spanY * blockHeight
	for _, b := range blocks {
		baseX := offsetX + (b.x-b.z)*tileWidth/2
		baseY := offsetY + (b.x+b.z)*tileHeight/2 - b.y*blockHeight
		drawBlock(img, baseX, baseY, b.t, palette)
	}

	if opts.Width > 0 && opts.Width != width {
		return scale(img, opts.Width), nil
	}
	return img, nil
}

func bounds(chunks map[voxel.ChunkCoord]world.Volume, edge int) (lo, hi voxel.BlockCoord) {
	first := true
	for c := range chunks {
		o, last := c.Bounds(edge)
		e := voxel.BlockCoord{X: last.X + 1, Y: last.Y + 1, Z: last.Z + 1}
		if first {
			lo, hi = o, e
			first = false
			continue
		}
		lo = voxel.BlockCoord{X: min(lo.X, o.X), Y: min(lo.Y, o.Y), Z: min(lo.Z, o.Z)}
		hi = voxel.BlockCoord{X: max(hi.X, e.X), Y: max(hi.Y, e.Y), Z: max(hi.Z, e.Z)}
	}
	return lo, hi
}

func collect(s scene, lo voxel.BlockCoord) []block {
	var out []block
	for c, vol := range s.chunks {
		if vol.NonEmpty() == 0 {
			continue
		}
		o := c.Origin(s.edge)
		for y := 0; y < s.edge; y++ {
			for z := 0; z < s.edge; z++ {
				for x := 0; x < s.edge; x++ {
					t := vol.Voxel(x, y, z)
					if t == voxel.Air {
						continue
					}
					wx, wy, wz := o.X+x, o.Y+y, o.Z+z
					if !voxel.FaceVisible(t, s.at(wx, wy+1, wz)) &&
						!voxel.FaceVisible(t, s.at(wx+1, wy, wz)) &&
						!voxel.FaceVisible(t, s.at(wx, wy, wz+1)) {
						continue
					}
					rx, ry, rz := wx-lo.X, wy-lo.Y, wz-lo.Z
					out = append(out, block{x: rx, y: ry, z: rz, t: t, depth: rx + ry + rz})
				}
			}
		}
	}
	return out
}

func drawBlock(img *image.NRGBA, baseX, baseY int, t voxel.Type, palette *voxel.Palette) {
	top := []image.Point{
		{X: baseX, Y: baseY - blockHeight},
		{X: baseX + tileWidth/2, Y: baseY - blockHeight + tileHeight/2},
		{X: baseX, Y: baseY - blockHeight + tileHeight},
		{X: baseX - tileWidth/2, Y: baseY - blockHeight + tileHeight/2},
	}
	front := []image.Point{
		{X: baseX - tileWidth/2, Y: baseY - blockHeight + tileHeight/2},
		{X: baseX, Y: baseY - blockHeight + tileHeight},
		{X: baseX, Y: baseY + tileHeight},
		{X: baseX - tileWidth/2, Y: baseY + tileHeight/2},
	}
	right := []image.Point{
		{X: baseX + tileWidth/2, Y: baseY - blockHeight + tileHeight/2},
		{X: baseX, Y: baseY - blockHeight + tileHeight},
		{X: baseX, Y: baseY + tileHeight},
		{X: baseX + tileWidth/2, Y: baseY + tileHeight/2},
	}
	fillPolygon(img, front, faceColor(t, mesher.Front, palette))
	fillPolygon(img, right, faceColor(t, mesher.Right, palette))
	fillPolygon(img, top, faceColor(t, mesher.Top, palette))
}

// faceColor applies the mesher's directional shading so previews match the
// streamed meshes.
func faceColor(t voxel.Type, f mesher.Face, palette *voxel.Palette) color.NRGBA {
	c := palette.Color(t, f.Category()).Scale(f.Shade())
	return color.NRGBA{R: channel(c.R), G: channel(c.G), B: channel(c.B), A: 255}
}

func channel(v float32) uint8 {
	return uint8(math.Round(math.Min(math.Max(float64(v), 0), 1) * 255))
}

func fillPolygon(img *image.NRGBA, pts []image.Point, col color.NRGBA) {
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	b := img.Bounds()
	minY = max(minY, b.Min.Y)
	maxY = min(maxY, b.Max.Y-1)

	xs := make([]int, 0, len(pts))
	for y := minY; y <= maxY; y++ {
		xs = xs[:0]
		for i := range pts {
			j := (i + 1) % len(pts)
			x1, y1 := pts[i].X, pts[i].Y
			x2, y2 := pts[j].X, pts[j].Y
			if y1 == y2 || y < min(y1, y2) || y >= max(y1, y2) {
				continue
			}
			xs = append(xs, x1+(y-y1)*(x2-x1)/(y2-y1))
		}
		sort.Ints(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			start := max(xs[i], b.Min.X)
			end := min(xs[i+1], b.Max.X-1)
			for x := start; x <= end; x++ {
				img.SetNRGBA(x, y, col)
			}
		}
	}
}

func scale(img *image.NRGBA, width int) *image.NRGBA {
	b := img.Bounds()
	height := max(1, int(math.Round(float64(b.Dy())*float64(width)/float64(b.Dx()))))
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Encode writes img as lossless WebP.
func Encode(w io.Writer, img image.Image) error {
	if err := nativewebp.Encode(w, img, nil); err != nil {
		return fmt.Errorf("encode webp: %w", err)
	}
	return nil
}

// Save writes img to path as WebP, creating parent directories.
func Save(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create preview directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	defer f.Close()
	if err := Encode(f, img); err != nil {
		return err
	}
	return f.Close()
}

// Generate fills every chunk in the inclusive box [lo, hi] with gen.
func Generate(ctx context.Context, gen terrain.Generator, cfg config.TerrainConfig, edge int, lo, hi voxel.ChunkCoord) (map[voxel.ChunkCoord]world.Volume, error) {
	chunks := make(map[voxel.ChunkCoord]world.Volume)
	for y := min(lo.Y, hi.Y); y <= max(lo.Y, hi.Y); y++ {
		for z := min(lo.Z, hi.Z); z <= max(lo.Z, hi.Z); z++ {
			for x := min(lo.X, hi.X); x <= max(lo.X, hi.X); x++ {
				c := voxel.ChunkCoord{X: x, Y: y, Z: z}
				data, err := terrain.Fill(ctx, gen, c, edge, cfg)
				if err != nil {
					return nil, fmt.Errorf("generate %s: %w", c, err)
				}
				vol, err := world.NewVolume(edge, data)
				if err != nil {
					return nil, err
				}
				chunks[c] = vol
			}
		}
	}
	return chunks, nil
}
