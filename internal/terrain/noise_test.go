package terrain

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"voxelstream/internal/config"
	"voxelstream/internal/voxel"
)

type flatGenerator struct {
	height  int32
	density float32
}

func (f flatGenerator) HeightAt(x, z int) int32            { return f.height }
func (f flatGenerator) CaveDensityAt(x, y, z int) float32 { return f.density }

func flatConfig() config.TerrainConfig {
	return config.TerrainConfig{
		SeaLevel:      4,
		SnowLine:      100,
		MinY:          -20,
		CaveThreshold: 0.8,
	}
}

func fillChunk(t *testing.T, gen Generator, coord voxel.ChunkCoord, cfg config.TerrainConfig) []byte {
	t.Helper()
	data, err := Fill(context.Background(), gen, coord, 16, cfg)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if len(data) != 16*16*16 {
		t.Fatalf("expected %d voxels, got %d", 16*16*16, len(data))
	}
	return data
}

func voxelAt(data []byte, x, y, z int) voxel.Type {
	return voxel.Type(data[y*256+z*16+x])
}

func TestFillColumnLayers(t *testing.T) {
	tests := []struct {
		name    string
		gen     flatGenerator
		coord   voxel.ChunkCoord
		layers  map[int]voxel.Type
		mutateC func(*config.TerrainConfig)
	}{
		{
			name:  "grass over dirt over stone",
			gen:   flatGenerator{height: 10},
			coord: voxel.ChunkCoord{},
			layers: map[int]voxel.Type{
				11: voxel.Air, 10: voxel.Grass, 9: voxel.Dirt, 8: voxel.Dirt, 7: voxel.Stone, 0: voxel.Stone,
			},
		},
		{
			name:   "bedrock at the floor",
			gen:    flatGenerator{height: 10},
			coord:  voxel.ChunkCoord{Y: -2},
			layers: map[int]voxel.Type{12: voxel.Bedrock, 0: voxel.Bedrock, 13: voxel.Stone, 15: voxel.Stone},
		},
		{
			name:   "beach and water",
			gen:    flatGenerator{height: 2},
			coord:  voxel.ChunkCoord{},
			layers: map[int]voxel.Type{5: voxel.Air, 4: voxel.Water, 3: voxel.Water, 2: voxel.Sand, 1: voxel.Sand, 0: voxel.Sand},
		},
		{
			name:   "snow above the snow line",
			gen:    flatGenerator{height: 10},
			coord:  voxel.ChunkCoord{},
			layers: map[int]voxel.Type{10: voxel.Snow, 9: voxel.Dirt},
			mutateC: func(c *config.TerrainConfig) {
				c.SnowLine = 10
			},
		},
		{
			name:   "caves below the crust",
			gen:    flatGenerator{height: 10, density: 1},
			coord:  voxel.ChunkCoord{},
			layers: map[int]voxel.Type{10: voxel.Grass, 8: voxel.Dirt, 7: voxel.Air, 0: voxel.Air},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := flatConfig()
			if tt.mutateC != nil {
				tt.mutateC(&cfg)
			}
			data := fillChunk(t, tt.gen, tt.coord, cfg)
			for y, want := range tt.layers {
				if got := voxelAt(data, 3, y, 5); got != want {
					t.Fatalf("local y=%d: expected %v, got %v", y, want, got)
				}
			}
		})
	}
}

func TestFillDeterministic(t *testing.T) {
	cfg := config.Default().Terrain
	a := fillChunk(t, NewNoiseGenerator(cfg), voxel.ChunkCoord{X: 3, Y: 0, Z: -2}, cfg)
	b := fillChunk(t, NewNoiseGenerator(cfg), voxel.ChunkCoord{X: 3, Y: 0, Z: -2}, cfg)
	if !bytes.Equal(a, b) {
		t.Fatalf("same seed produced different chunks")
	}

	other := cfg
	other.Seed++
	c := fillChunk(t, NewNoiseGenerator(other), voxel.ChunkCoord{X: 3, Y: 0, Z: -2}, other)
	if bytes.Equal(a, c) {
		t.Fatalf("different seeds produced identical chunks")
	}
}

func TestNoiseRanges(t *testing.T) {
	cfg := config.Default().Terrain
	gen := NewNoiseGenerator(cfg)
	for i := -200; i < 200; i += 7 {
		h := gen.HeightAt(i, i*3)
		if h != gen.HeightAt(i, i*3) {
			t.Fatalf("HeightAt is not deterministic at %d", i)
		}
		lo := float64(cfg.BaseHeight) - cfg.Amplitude - 1
		hi := float64(cfg.BaseHeight) + cfg.Amplitude + 1
		if float64(h) < lo || float64(h) > hi {
			t.Fatalf("height %d outside [%v,%v]", h, lo, hi)
		}
		d := gen.CaveDensityAt(i, i/2, -i)
		if d < 0 || d > 1 {
			t.Fatalf("cave density %v outside [0,1]", d)
		}
	}
}

func TestFillPlantsTreesAcrossBorders(t *testing.T) {
	cfg := flatConfig()
	cfg.TreeDensity = 1
	cfg.TreeSpacing = 8
	gen := flatGenerator{height: 10}

	data := fillChunk(t, gen, voxel.ChunkCoord{}, cfg)
	wood, leaves := 0, 0
	for _, b := range data {
		switch voxel.Type(b) {
		case voxel.Wood:
			wood++
		case voxel.Leaves:
			leaves++
		}
	}
	if wood == 0 || leaves == 0 {
		t.Fatalf("expected trees, got %d wood and %d leaves", wood, leaves)
	}

	if again := fillChunk(t, gen, voxel.ChunkCoord{}, cfg); !bytes.Equal(again, data) {
		t.Fatalf("tree placement is not deterministic")
	}
}

func TestBuildTreeAcrossChunkBorder(t *testing.T) {
	const edge = 16
	left := make([]byte, edge*edge*edge)
	right := make([]byte, edge*edge*edge)
	p := treePlacement{x: 15, z: 8, ground: 3, variant: &treeVariants[0]}
	buildTree(left, voxel.BlockCoord{}, edge, p)
	buildTree(right, voxel.BlockCoord{X: edge}, edge, p)

	if got := voxelAt(left, 15, 4, 8); got != voxel.Wood {
		t.Fatalf("expected trunk in the left chunk, got %v", got)
	}
	canopyY := p.ground + p.variant.trunkHeight - 1
	if got := voxelAt(right, 0, canopyY, 8); got != voxel.Leaves {
		t.Fatalf("expected canopy to spill into the right chunk, got %v", got)
	}
	if got := voxelAt(left, 15, canopyY, 8); got != voxel.Wood {
		t.Fatalf("trunk should win over leaves, got %v", got)
	}
	for y := 0; y < edge; y++ {
		for z := 0; z < edge; z++ {
			if voxelAt(right, 2, y, z) != voxel.Air && p.variant.canopyRadius < 3 {
				t.Fatalf("canopy reached farther than its radius at (%d,%d)", y, z)
			}
		}
	}
}

func TestFillHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := config.Default().Terrain
	if _, err := Fill(ctx, NewNoiseGenerator(cfg), voxel.ChunkCoord{}, 16, cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
