package octree

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"voxelstream/internal/voxel"
)

// ErrInvalidSplit is returned when Split is asked to divide a branch or a
// unit-sized leaf.
var ErrInvalidSplit = errors.New("octree: split requires a leaf of size >= 2")

// Node is a cube of the octree. A leaf is uniformly Voxel. A branch divides
// its cube into eight octants indexed by xbit | ybit<<1 | zbit<<2; a zero
// child handle is a hole and reads as the branch's Voxel.
type Node struct {
	X, Y, Z  int32
	Size     int32
	Voxel    voxel.Type
	Leaf     bool
	Children [8]Handle
}

func (n *Node) octant(x, y, z int32) int {
	half := n.Size / 2
	idx := 0
	if x >= n.X+half {
		idx |= 1
	}
	if y >= n.Y+half {
		idx |= 2
	}
	if z >= n.Z+half {
		idx |= 4
	}
	return idx
}

func (n *Node) childOrigin(idx int) (int32, int32, int32) {
	half := n.Size / 2
	return n.X + half*int32(idx&1),
		n.Y + half*int32((idx>>1)&1),
		n.Z + half*int32((idx>>2)&1)
}

// Split turns the leaf h into a branch of eight children that inherit its
// type. Either all eight children are attached or none are.
func (p *Pool) Split(h Handle) error {
	n, ok := p.Node(h)
	if !ok || !n.Leaf || n.Size < 2 {
		return ErrInvalidSplit
	}
	half := n.Size / 2
	var kids [8]Handle
	for i := range kids {
		x, y, z := n.childOrigin(i)
		c, err := p.Acquire(x, y, z, half)
		if err != nil {
			for j := 0; j < i; j++ {
				p.Release(kids[j])
			}
			return fmt.Errorf("split node (%d,%d,%d) size %d: %w", n.X, n.Y, n.Z, n.Size, err)
		}
		cn, _ := p.Node(c)
		cn.Voxel = n.Voxel
		kids[i] = c
	}
	n.Children = kids
	n.Leaf = false
	return nil
}

// TryMerge collapses the branch h into a leaf when every octant is a leaf of
// the same type. Holes count as leaves of the branch's inherited type.
func (p *Pool) TryMerge(h Handle) bool {
	n, ok := p.Node(h)
	if !ok || n.Leaf {
		return false
	}
	var shared voxel.Type
	for i, c := range n.Children {
		t := n.Voxel
		if !c.IsZero() {
			cn, ok := p.Node(c)
			switch {
			case !ok:
				p.repair(n, i)
			case !cn.Leaf:
				return false
			default:
				t = cn.Voxel
			}
		}
		if i == 0 {
			shared = t
		} else if t != shared {
			return false
		}
	}
	for i, c := range n.Children {
		p.Release(c)
		n.Children[i] = Handle{}
	}
	n.Leaf = true
	n.Voxel = shared
	return true
}

// repair turns a dangling child reference into a hole.
func (p *Pool) repair(n *Node, idx int) {
	p.logger.Warn("octree child handle is stale, reverting octant to hole",
		zap.Int32("x", n.X), zap.Int32("y", n.Y), zap.Int32("z", n.Z),
		zap.Int32("size", n.Size), zap.Int("octant", idx))
	n.Children[idx] = Handle{}
}

func (p *Pool) get(h Handle, x, y, z int32) voxel.Type {
	n, ok := p.Node(h)
	if !ok {
		return voxel.Air
	}
	for !n.Leaf && n.Size > 1 {
		c := n.Children[n.octant(x, y, z)]
		if c.IsZero() {
			return n.Voxel
		}
		cn, ok := p.Node(c)
		if !ok {
			return n.Voxel
		}
		n = cn
	}
	return n.Voxel
}

func (p *Pool) set(h Handle, x, y, z int32, v voxel.Type) (bool, error) {
	n, ok := p.Node(h)
	if !ok {
		return false, nil
	}
	if n.Leaf {
		if n.Voxel == v {
			return false, nil
		}
		if n.Size == 1 {
			n.Voxel = v
			return true, nil
		}
		if err := p.Split(h); err != nil {
			return false, err
		}
	}

	idx := n.octant(x, y, z)
	c := n.Children[idx]
	if !p.Valid(c) {
		if !c.IsZero() {
			p.repair(n, idx)
		}
		if n.Voxel == v {
			return false, nil
		}
		cx, cy, cz := n.childOrigin(idx)
		var err error
		if c, err = p.Acquire(cx, cy, cz, n.Size/2); err != nil {
			return false, err
		}
		cn, _ := p.Node(c)
		cn.Voxel = n.Voxel
		n.Children[idx] = c
	}

	changed, err := p.set(c, x, y, z, v)
	if changed || err != nil {
		p.TryMerge(h)
	}
	return changed, err
}

// optimize drops air leaves under air branches and re-merges bottom-up.
func (p *Pool) optimize(h Handle) {
	n, ok := p.Node(h)
	if !ok || n.Leaf {
		return
	}
	for i, c := range n.Children {
		if c.IsZero() {
			continue
		}
		p.optimize(c)
		cn, ok := p.Node(c)
		if !ok {
			p.repair(n, i)
			continue
		}
		if n.Voxel == voxel.Air && cn.Leaf && cn.Voxel == voxel.Air {
			p.Release(c)
			n.Children[i] = Handle{}
		}
	}
	p.TryMerge(h)
}

func (p *Pool) count(h Handle) int {
	n, ok := p.Node(h)
	if !ok {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		if !c.IsZero() {
			total += p.count(c)
		}
	}
	return total
}

// fill writes the volume of h into dst, a row-major edge³ buffer.
func (p *Pool) fill(h Handle, dst []byte, edge int32) {
	n, ok := p.Node(h)
	if !ok {
		return
	}
	if n.Leaf {
		fillCube(dst, edge, n.X, n.Y, n.Z, n.Size, n.Voxel)
		return
	}
	half := n.Size / 2
	for i, c := range n.Children {
		if p.Valid(c) {
			p.fill(c, dst, edge)
			continue
		}
		x, y, z := n.childOrigin(i)
		fillCube(dst, edge, x, y, z, half, n.Voxel)
	}
}

func fillCube(dst []byte, edge, x0, y0, z0, size int32, v voxel.Type) {
	for y := y0; y < y0+size; y++ {
		for z := z0; z < z0+size; z++ {
			row := int(y*edge*edge + z*edge)
			for x := x0; x < x0+size; x++ {
				dst[row+int(x)] = byte(v)
			}
		}
	}
}
