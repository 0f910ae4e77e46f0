package world

import (
	"errors"
	"fmt"

	"voxelstream/internal/octree"
	"voxelstream/internal/voxel"
)

// ErrChunkDisposed is returned when a disposed chunk is written to.
var ErrChunkDisposed = errors.New("world: chunk disposed")

// Chunk stores one cubic region of the world in a sparse octree and tracks
// the bookkeeping the chunk manager needs between meshing passes.
type Chunk struct {
	Coord voxel.ChunkCoord

	tree      *octree.Tree
	edge      int
	nonEmpty  int
	modified  bool
	optimized bool
	disposed  bool
}

// NewChunk creates an all-air chunk whose root node is taken from pool.
func NewChunk(pool *octree.Pool, coord voxel.ChunkCoord, edge int) (*Chunk, error) {
	tree, err := octree.NewTree(pool, edge)
	if err != nil {
		return nil, fmt.Errorf("chunk %v: %w", coord, err)
	}
	return &Chunk{
		Coord:     coord,
		tree:      tree,
		edge:      edge,
		optimized: true,
	}, nil
}

// Edge returns the chunk side length in voxels.
func (c *Chunk) Edge() int {
	return c.edge
}

// InBounds reports whether the local coordinate lies inside the chunk.
func (c *Chunk) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < c.edge && y < c.edge && z < c.edge
}

// Voxel returns the voxel at a local coordinate. Anything outside the chunk
// reads as air.
func (c *Chunk) Voxel(x, y, z int) voxel.Type {
	if c.disposed {
		return voxel.Air
	}
	return c.tree.Get(x, y, z)
}

// SetVoxel writes a voxel at a local coordinate and reports whether the chunk
// changed. Writes outside the chunk are ignored.
func (c *Chunk) SetVoxel(x, y, z int, v voxel.Type) (bool, error) {
	if c.disposed {
		return false, ErrChunkDisposed
	}
	if !c.InBounds(x, y, z) {
		return false, nil
	}
	prev := c.tree.Get(x, y, z)
	if prev == v {
		return false, nil
	}
	changed, err := c.tree.Set(x, y, z, v)
	if err != nil {
		return false, fmt.Errorf("chunk %v set (%d,%d,%d): %w", c.Coord, x, y, z, err)
	}
	if !changed {
		return false, nil
	}
	switch {
	case prev == voxel.Air:
		c.nonEmpty++
	case v == voxel.Air:
		c.nonEmpty--
	}
	c.modified = true
	c.optimized = false
	return true, nil
}

// NonEmpty returns the number of non-air voxels.
func (c *Chunk) NonEmpty() int {
	return c.nonEmpty
}

// Modified reports whether the chunk changed since ClearModified.
func (c *Chunk) Modified() bool {
	return c.modified
}

func (c *Chunk) ClearModified() {
	c.modified = false
}

// Optimized reports whether Optimize ran after the last change.
func (c *Chunk) Optimized() bool {
	return c.optimized
}

// Optimize compacts the octree. It is linear in the node count.
func (c *Chunk) Optimize() {
	if c.disposed || c.optimized {
		return
	}
	c.tree.Optimize()
	c.optimized = true
}

// NodeCount returns the number of octree nodes the chunk holds.
func (c *Chunk) NodeCount() int {
	if c.disposed {
		return 0
	}
	return c.tree.NodeCount()
}

// Snapshot copies the chunk into a flat edge³ buffer laid out as
// y*edge²+z*edge+x.
func (c *Chunk) Snapshot() []byte {
	buf := make([]byte, c.edge*c.edge*c.edge)
	if c.disposed {
		return buf
	}
	// Fill only fails on a size mismatch, which cannot happen here.
	_ = c.tree.Fill(buf)
	return buf
}

// Load writes a flat voxel buffer into the chunk, skipping air.
func (c *Chunk) Load(data []byte) error {
	if want := c.edge * c.edge * c.edge; len(data) != want {
		return fmt.Errorf("chunk %v: %w: %d bytes, want %d", c.Coord, ErrBadPayload, len(data), want)
	}
	e := c.edge
	for i, b := range data {
		if b == 0 {
			continue
		}
		x := i % e
		z := (i / e) % e
		y := i / (e * e)
		if _, err := c.SetVoxel(x, y, z, voxel.Type(b)); err != nil {
			return err
		}
	}
	return nil
}

// Dispose returns every node to the pool. The chunk must not be used again.
func (c *Chunk) Dispose() {
	if c.disposed {
		return
	}
	c.tree.Release()
	c.disposed = true
	c.nonEmpty = 0
}

// Disposed reports whether Dispose has been called.
func (c *Chunk) Disposed() bool {
	return c.disposed
}
