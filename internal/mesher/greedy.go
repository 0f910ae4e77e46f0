package mesher

import (
	"errors"
	"fmt"
	"math"

	"voxelstream/internal/voxel"
	"voxelstream/internal/world"
)

// ErrIndexOverflow is returned when a mesh needs more vertices than 16-bit
// indices can address.
var ErrIndexOverflow = errors.New("mesher: vertex count exceeds uint16 index range")

// Source is the read interface the mesher samples. Both *world.Chunk and
// world.Volume satisfy it.
type Source interface {
	Edge() int
	Voxel(x, y, z int) voxel.Type
	NonEmpty() int
}

// NeighborLookup resolves voxels just outside the chunk. Coordinates are
// chunk-local and fall outside [0,edge) on at least one axis. A false return
// means the neighbor chunk is not loaded; the cell is treated as air.
type NeighborLookup func(x, y, z int) (voxel.Type, bool)

// Generate builds a greedy mesh for src. Faces between two chunks are
// resolved through lookup, which may be nil when no neighbors are known.
func Generate(src Source, coord voxel.ChunkCoord, lookup NeighborLookup, palette *voxel.Palette) (*Buffers, error) {
	if src.NonEmpty() == 0 {
		return &Buffers{}, nil
	}
	s := sample(src, lookup)
	out := newBuffers(64)
	n := s.edge
	mask := make([]voxel.Type, n*n)

	for d := 0; d < 3; d++ {
		u := (d + 1) % 3
		v := (d + 2) % 3
		for slice := 0; slice < n; slice++ {
			for _, positive := range [2]bool{true, false} {
				step := -1
				if positive {
					step = 1
				}
				var pos, nb [3]int
				for j := 0; j < n; j++ {
					for i := 0; i < n; i++ {
						pos[d], pos[u], pos[v] = slice, i, j
						nb = pos
						nb[d] += step
						cur := s.at(pos[0], pos[1], pos[2])
						if voxel.FaceVisible(cur, s.at(nb[0], nb[1], nb[2])) {
							mask[j*n+i] = cur
						} else {
							mask[j*n+i] = voxel.Air
						}
					}
				}
				plane := slice
				if positive {
					plane++
				}
				q := quadEmitter{out: out, d: d, u: u, v: v, plane: plane, face: faceFor(d, positive), palette: palette}
				if err := mergeMask(mask, n, q.emit); err != nil {
					return nil, fmt.Errorf("mesh chunk %v: %w", coord, err)
				}
			}
		}
	}
	return out, nil
}

// mergeMask runs 2D greedy rectangle merging over a row-major n×n mask,
// calling emit once per rectangle. The mask is cleared as cells are covered.
func mergeMask(mask []voxel.Type, n int, emit func(t voxel.Type, i, j, w, h int) error) error {
	for j := 0; j < n; j++ {
		for i := 0; i < n; {
			t := mask[j*n+i]
			if t == voxel.Air {
				i++
				continue
			}
			w := 1
			for i+w < n && mask[j*n+i+w] == t {
				w++
			}
			h := 1
		grow:
			for j+h < n {
				row := (j + h) * n
				for k := i; k < i+w; k++ {
					if mask[row+k] != t {
						break grow
					}
				}
				h++
			}
			for jj := j; jj < j+h; jj++ {
				clear(mask[jj*n+i : jj*n+i+w])
			}
			if err := emit(t, i, j, w, h); err != nil {
				return err
			}
			i += w
		}
	}
	return nil
}

type quadEmitter struct {
	out     *Buffers
	d, u, v int
	plane   int
	face    Face
	palette *voxel.Palette
}

func (q quadEmitter) emit(t voxel.Type, i, j, w, h int) error {
	base := q.out.VertexCount()
	if base+3 > math.MaxUint16 {
		return ErrIndexOverflow
	}
	corner := func(du, dv int) [3]float32 {
		var p [3]float32
		p[q.d] = float32(q.plane)
		p[q.u] = float32(i + du)
		p[q.v] = float32(j + dv)
		return p
	}
	corners := [4][3]float32{corner(0, 0), corner(w, 0), corner(w, h), corner(0, h)}
	if !q.face.Positive() {
		corners[1], corners[3] = corners[3], corners[1]
	}
	normal := q.face.Normal()
	color := q.palette.Color(t, q.face.Category()).Scale(q.face.Shade())
	for _, c := range corners {
		q.out.Positions = append(q.out.Positions, c[0], c[1], c[2])
		q.out.Normals = append(q.out.Normals, normal[0], normal[1], normal[2])
		q.out.Colors = append(q.out.Colors, color.R, color.G, color.B)
	}
	b := uint16(base)
	q.out.Indices = append(q.out.Indices, b, b+1, b+2, b, b+2, b+3)
	return nil
}

// padded is the chunk plus a one-voxel shell sampled from its neighbors.
type padded struct {
	edge   int
	stride int
	cells  []voxel.Type
}

func sample(src Source, lookup NeighborLookup) *padded {
	n := src.Edge()
	p := n + 2
	s := &padded{edge: n, stride: p, cells: make([]voxel.Type, p*p*p)}
	for y := -1; y <= n; y++ {
		for z := -1; z <= n; z++ {
			for x := -1; x <= n; x++ {
				var t voxel.Type
				if x >= 0 && y >= 0 && z >= 0 && x < n && y < n && z < n {
					t = src.Voxel(x, y, z)
				} else if lookup != nil {
					if nt, ok := lookup(x, y, z); ok {
						t = nt
					}
				}
				s.cells[s.index(x, y, z)] = t
			}
		}
	}
	return s
}

func (s *padded) index(x, y, z int) int {
	return ((y+1)*s.stride+(z+1))*s.stride + (x + 1)
}

func (s *padded) at(x, y, z int) voxel.Type {
	return s.cells[s.index(x, y, z)]
}

// VolumeLookup resolves neighbor voxels from sampled volumes keyed by their
// offset relative to the chunk being meshed.
func VolumeLookup(neighbors map[voxel.ChunkCoord]world.Volume, edge int) NeighborLookup {
	return func(x, y, z int) (voxel.Type, bool) {
		off := voxel.ChunkCoord{
			X: int32(voxel.FloorDiv(x, edge)),
			Y: int32(voxel.FloorDiv(y, edge)),
			Z: int32(voxel.FloorDiv(z, edge)),
		}
		vol, ok := neighbors[off]
		if !ok {
			return voxel.Air, false
		}
		return vol.Voxel(voxel.Mod(x, edge), voxel.Mod(y, edge), voxel.Mod(z, edge)), true
	}
}
