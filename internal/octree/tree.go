package octree

import (
	"fmt"

	"voxelstream/internal/voxel"
)

// Tree is the octree of a single cubic chunk. The root covers [0,edge)³ in
// chunk-local coordinates.
type Tree struct {
	pool *Pool
	root Handle
	edge int32
}

// NewTree acquires an air root of the given edge, which must be a power of two.
func NewTree(pool *Pool, edge int) (*Tree, error) {
	if edge < 1 || edge&(edge-1) != 0 {
		return nil, fmt.Errorf("octree: edge %d is not a power of two", edge)
	}
	root, err := pool.Acquire(0, 0, 0, int32(edge))
	if err != nil {
		return nil, err
	}
	return &Tree{pool: pool, root: root, edge: int32(edge)}, nil
}

// Edge returns the side length of the tree's cube.
func (t *Tree) Edge() int {
	return int(t.edge)
}

// Root returns the root handle.
func (t *Tree) Root() Handle {
	return t.root
}

func (t *Tree) inBounds(x, y, z int) bool {
	e := int(t.edge)
	return x >= 0 && y >= 0 && z >= 0 && x < e && y < e && z < e
}

// Get returns the voxel at the local coordinate. Out-of-range reads and reads
// on a released tree return air.
func (t *Tree) Get(x, y, z int) voxel.Type {
	if !t.inBounds(x, y, z) {
		return voxel.Air
	}
	return t.pool.get(t.root, int32(x), int32(y), int32(z))
}

// Set writes a voxel and reports whether the stored value changed. Setting
// a voxel to its current value allocates nothing. Out-of-range writes are
// ignored.
func (t *Tree) Set(x, y, z int, v voxel.Type) (bool, error) {
	if !t.inBounds(x, y, z) {
		return false, nil
	}
	return t.pool.set(t.root, int32(x), int32(y), int32(z), v)
}

// Optimize removes redundant air octants and merges uniform branches. It is
// linear in the node count and meant to run after a batch of edits.
func (t *Tree) Optimize() {
	t.pool.optimize(t.root)
}

// NodeCount returns the number of live nodes in the tree.
func (t *Tree) NodeCount() int {
	return t.pool.count(t.root)
}

// Fill writes the whole tree into dst, laid out as y*edge²+z*edge+x.
func (t *Tree) Fill(dst []byte) error {
	want := int(t.edge) * int(t.edge) * int(t.edge)
	if len(dst) != want {
		return fmt.Errorf("octree: fill buffer has %d bytes, want %d", len(dst), want)
	}
	if !t.pool.Valid(t.root) {
		clear(dst)
		return nil
	}
	t.pool.fill(t.root, dst, t.edge)
	return nil
}

// Release returns every node to the pool. The tree reads as air afterwards.
func (t *Tree) Release() {
	t.pool.Release(t.root)
	t.root = Handle{}
}
