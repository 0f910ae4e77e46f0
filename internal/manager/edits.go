package manager

import (
	"errors"
	"math"

	"go.uber.org/zap"

	"voxelstream/internal/octree"
	"voxelstream/internal/voxel"
)

// Voxel returns the voxel at a world position. Unloaded chunks read as air.
func (m *Manager) Voxel(b voxel.BlockCoord) voxel.Type {
	c, x, y, z := b.Chunk(m.opts.Edge)
	e, ok := m.chunks[c]
	if !ok {
		return voxel.Air
	}
	return e.chunk.Voxel(x, y, z)
}

// SetVoxel edits one voxel. Edits to unloaded chunks are ignored. A change
// dirties the chunk and, within EdgeMargin of a face, the loaded neighbor
// across that face.
func (m *Manager) SetVoxel(b voxel.BlockCoord, t voxel.Type) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	c, x, y, z := b.Chunk(m.opts.Edge)
	e, ok := m.chunks[c]
	if !ok {
		return false, nil
	}
	changed, err := e.chunk.SetVoxel(x, y, z, t)
	if err != nil {
		if errors.Is(err, octree.ErrPoolExhausted) {
			m.logger.Error("octree pool exhausted during edit",
				zap.Stringer("chunk", c), zap.Any("pool", m.pool.Stats()))
		}
		return false, err
	}
	if !changed {
		return false, nil
	}
	m.markDirty(e)
	m.dirtyAcross(c, [3]int{x, y, z})
	return true, nil
}

func (m *Manager) dirtyAcross(c voxel.ChunkCoord, local [3]int) {
	margin := m.opts.EdgeMargin
	if margin == 0 {
		return
	}
	for axis, v := range local {
		if v < margin {
			m.dirtyNeighbor(c.Neighbor(axis*2 + 1))
		}
		if v >= m.opts.Edge-margin {
			m.dirtyNeighbor(c.Neighbor(axis * 2))
		}
	}
}

func (m *Manager) dirtyNeighbor(c voxel.ChunkCoord) {
	if e, ok := m.chunks[c]; ok {
		m.markDirty(e)
	}
}

// FillBox sets every voxel in the inclusive box spanned by a and b and returns
// the number of voxels changed.
func (m *Manager) FillBox(a, b voxel.BlockCoord, t voxel.Type) (int, error) {
	lo := voxel.BlockCoord{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)}
	hi := voxel.BlockCoord{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
	changed := 0
	for y := lo.Y; y <= hi.Y; y++ {
		for z := lo.Z; z <= hi.Z; z++ {
			for x := lo.X; x <= hi.X; x++ {
				ok, err := m.SetVoxel(voxel.BlockCoord{X: x, Y: y, Z: z}, t)
				if err != nil {
					return changed, err
				}
				if ok {
					changed++
				}
			}
		}
	}
	return changed, nil
}

// Explode clears every voxel within radius of center, except bedrock, and
// returns the number of voxels removed.
func (m *Manager) Explode(center voxel.BlockCoord, radius float64) (int, error) {
	if radius <= 0 {
		return 0, nil
	}
	reach := int(math.Ceil(radius))
	r2 := radius * radius
	removed := 0
	for dy := -reach; dy <= reach; dy++ {
		for dz := -reach; dz <= reach; dz++ {
			for dx := -reach; dx <= reach; dx++ {
				if float64(dx*dx+dy*dy+dz*dz) > r2 {
					continue
				}
				b := voxel.BlockCoord{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				if t := m.Voxel(b); t == voxel.Air || t == voxel.Bedrock {
					continue
				}
				ok, err := m.SetVoxel(b, voxel.Air)
				if err != nil {
					return removed, err
				}
				if ok {
					removed++
				}
			}
		}
	}
	if removed > 0 {
		m.logger.Debug("explosion applied",
			zap.Int("x", center.X), zap.Int("y", center.Y), zap.Int("z", center.Z),
			zap.Float64("radius", radius), zap.Int("removed", removed))
	}
	return removed, nil
}
