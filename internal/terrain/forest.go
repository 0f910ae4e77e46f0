package terrain

import (
	"voxelstream/internal/config"
	"voxelstream/internal/voxel"
)

type treeVariant struct {
	name         string
	trunkHeight  int
	canopyRadius int
	canopyHeight int
}

var treeVariants = []treeVariant{
	{name: "oak", trunkHeight: 5, canopyRadius: 2, canopyHeight: 3},
	{name: "birch", trunkHeight: 6, canopyRadius: 2, canopyHeight: 2},
	{name: "pine", trunkHeight: 7, canopyRadius: 2, canopyHeight: 4},
}

// treeReach bounds how far above the surface any tree extends.
const treeReach = 7 + 4

const maxCanopyRadius = 2

type treePlacement struct {
	x, z    int
	ground  int
	variant *treeVariant
}

// growForests plants trees on a jittered grid. Placement depends only on the
// seed and world position, so a tree straddling a chunk border is written
// identically from both sides.
func growForests(data []byte, gen Generator, origin voxel.BlockCoord, edge int, cfg config.TerrainConfig) {
	spacing := cfg.TreeSpacing
	if spacing <= 0 || cfg.TreeDensity <= 0 {
		return
	}
	minCellX := voxel.FloorDiv(origin.X-maxCanopyRadius, spacing)
	maxCellX := voxel.FloorDiv(origin.X+edge-1+maxCanopyRadius, spacing)
	minCellZ := voxel.FloorDiv(origin.Z-maxCanopyRadius, spacing)
	maxCellZ := voxel.FloorDiv(origin.Z+edge-1+maxCanopyRadius, spacing)

	for cz := minCellZ; cz <= maxCellZ; cz++ {
		for cx := minCellX; cx <= maxCellX; cx++ {
			placement, ok := placeTree(gen, cfg, cx, cz)
			if !ok {
				continue
			}
			if placement.ground+treeReach < origin.Y || placement.ground >= origin.Y+edge {
				continue
			}
			buildTree(data, origin, edge, placement)
		}
	}
}

func placeTree(gen Generator, cfg config.TerrainConfig, cellX, cellZ int) (treePlacement, bool) {
	seedVal := hash3(cellX, cellZ, int(cfg.Seed^0x95ac3f))
	chance := float64(seedVal&0xFFFF) / 0xFFFF
	if chance > cfg.TreeDensity {
		return treePlacement{}, false
	}
	spacing := uint32(cfg.TreeSpacing)
	x := cellX*cfg.TreeSpacing + int((seedVal>>8)%spacing)
	z := cellZ*cfg.TreeSpacing + int((seedVal>>20)%spacing)
	ground := int(gen.HeightAt(x, z))
	if ground <= cfg.SeaLevel+1 || ground >= cfg.SnowLine {
		return treePlacement{}, false
	}
	variant := &treeVariants[int(seedVal>>28)%len(treeVariants)]
	return treePlacement{x: x, z: z, ground: ground, variant: variant}, true
}

func buildTree(data []byte, origin voxel.BlockCoord, edge int, p treePlacement) {
	v := p.variant
	canopyBase := p.ground + v.trunkHeight - 1
	r := v.canopyRadius
	for dy := 0; dy < v.canopyHeight; dy++ {
		rr := r
		if dy == v.canopyHeight-1 {
			rr = max(r-1, 1)
		}
		for dz := -rr; dz <= rr; dz++ {
			for dx := -rr; dx <= rr; dx++ {
				if dx*dx+dz*dz > rr*rr+1 {
					continue
				}
				placeVoxel(data, origin, edge, p.x+dx, canopyBase+dy, p.z+dz, voxel.Leaves)
			}
		}
	}
	for y := p.ground + 1; y <= p.ground+v.trunkHeight; y++ {
		placeVoxel(data, origin, edge, p.x, y, p.z, voxel.Wood)
	}
}

// placeVoxel writes t at a world position when it falls inside the chunk.
// Leaves only fill air; trunks may replace leaves.
func placeVoxel(data []byte, origin voxel.BlockCoord, edge, x, y, z int, t voxel.Type) {
	lx, ly, lz := x-origin.X, y-origin.Y, z-origin.Z
	if lx < 0 || ly < 0 || lz < 0 || lx >= edge || ly >= edge || lz >= edge {
		return
	}
	idx := ly*edge*edge + lz*edge + lx
	cur := voxel.Type(data[idx])
	switch {
	case cur == voxel.Air:
		data[idx] = byte(t)
	case t == voxel.Wood && cur == voxel.Leaves:
		data[idx] = byte(t)
	}
}
