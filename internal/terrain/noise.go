package terrain

import (
	"context"
	"math"

	"voxelstream/internal/config"
	"voxelstream/internal/voxel"
)

// Generator is the black-box terrain function. Both methods must be pure for
// a given seed.
type Generator interface {
	HeightAt(x, z int) int32
	CaveDensityAt(x, y, z int) float32
}

// NoiseGenerator creates repeatable terrain using hashed value noise.
type NoiseGenerator struct {
	cfg  config.TerrainConfig
	seed int64
}

func NewNoiseGenerator(cfg config.TerrainConfig) *NoiseGenerator {
	return &NoiseGenerator{cfg: cfg, seed: cfg.Seed}
}

// Config returns the parameters the generator was built with.
func (g *NoiseGenerator) Config() config.TerrainConfig {
	return g.cfg
}

// HeightAt returns the surface height of the column at world (x, z).
func (g *NoiseGenerator) HeightAt(x, z int) int32 {
	noise := g.fractalNoise(float64(x), float64(z))
	return int32(math.Round(float64(g.cfg.BaseHeight) + noise*g.cfg.Amplitude))
}

// CaveDensityAt returns a density in [0,1]; caves are carved above the
// configured threshold.
func (g *NoiseGenerator) CaveDensityAt(x, y, z int) float32 {
	freq := g.cfg.CaveFrequency
	n := 0.65*g.valueNoise3(float64(x)*freq, float64(y)*freq, float64(z)*freq) +
		0.35*g.valueNoise3(float64(x)*freq*2, float64(y)*freq*2, float64(z)*freq*2)
	return float32(clampFloat((n+1)*0.5, 0, 1))
}

// Fill builds the flat voxel buffer of a chunk, laid out as
// y*edge²+z*edge+x. It checks ctx between layers.
func Fill(ctx context.Context, gen Generator, coord voxel.ChunkCoord, edge int, cfg config.TerrainConfig) ([]byte, error) {
	data := make([]byte, edge*edge*edge)
	origin := coord.Origin(edge)

	heights := make([]int, edge*edge)
	for z := 0; z < edge; z++ {
		for x := 0; x < edge; x++ {
			heights[z*edge+x] = int(gen.HeightAt(origin.X+x, origin.Z+z))
		}
	}

	for y := 0; y < edge; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wy := origin.Y + y
		layer := data[y*edge*edge : (y+1)*edge*edge]
		for z := 0; z < edge; z++ {
			for x := 0; x < edge; x++ {
				h := heights[z*edge+x]
				layer[z*edge+x] = byte(columnVoxel(gen, cfg, origin.X+x, wy, origin.Z+z, h))
			}
		}
	}
	growForests(data, gen, origin, edge, cfg)
	return data, nil
}

func columnVoxel(gen Generator, cfg config.TerrainConfig, wx, wy, wz, height int) voxel.Type {
	if wy <= cfg.MinY {
		return voxel.Bedrock
	}
	if wy > height {
		if wy <= cfg.SeaLevel {
			return voxel.Water
		}
		return voxel.Air
	}
	depth := height - wy
	if depth > 2 && float64(gen.CaveDensityAt(wx, wy, wz)) > cfg.CaveThreshold {
		return voxel.Air
	}
	beach := height <= cfg.SeaLevel+1
	switch {
	case depth == 0 && beach:
		return voxel.Sand
	case depth == 0 && height >= cfg.SnowLine:
		return voxel.Snow
	case depth == 0:
		return voxel.Grass
	case depth < 3 && beach:
		return voxel.Sand
	case depth < 3:
		return voxel.Dirt
	default:
		return voxel.Stone
	}
}

func (g *NoiseGenerator) fractalNoise(x, y float64) float64 {
	frequency := g.cfg.Frequency
	amplitude := 1.0
	noiseSum := 0.0
	maxAmplitude := 0.0

	for i := 0; i < g.cfg.Octaves; i++ {
		noise := g.valueNoise(x*frequency, y*frequency)
		noiseSum += noise * amplitude
		maxAmplitude += amplitude
		amplitude *= g.cfg.Persistence
		frequency *= g.cfg.Lacunarity
	}

	if maxAmplitude == 0 {
		return 0
	}
	return noiseSum / maxAmplitude
}

func (g *NoiseGenerator) valueNoise(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := x0 + 1
	y1 := y0 + 1

	sx := smooth(x - float64(x0))
	sy := smooth(y - float64(y0))

	n0 := random2D(x0, y0, g.seed)
	n1 := random2D(x1, y0, g.seed)
	ix0 := lerp(n0, n1, sx)

	n2 := random2D(x0, y1, g.seed)
	n3 := random2D(x1, y1, g.seed)
	ix1 := lerp(n2, n3, sx)

	return lerp(ix0, ix1, sy)
}

func (g *NoiseGenerator) valueNoise3(x, y, z float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	z0 := int(math.Floor(z))

	sx := smooth(x - float64(x0))
	sy := smooth(y - float64(y0))
	sz := smooth(z - float64(z0))

	corner := func(dx, dy, dz int) float64 {
		return random3D(x0+dx, y0+dy, z0+dz, g.seed)
	}
	bottom := lerp(
		lerp(corner(0, 0, 0), corner(1, 0, 0), sx),
		lerp(corner(0, 0, 1), corner(1, 0, 1), sx),
		sz,
	)
	top := lerp(
		lerp(corner(0, 1, 0), corner(1, 1, 0), sx),
		lerp(corner(0, 1, 1), corner(1, 1, 1), sx),
		sz,
	)
	return lerp(bottom, top, sy)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func random2D(x, y int, seed int64) float64 {
	return float64(hash3(x, y, int(seed))&0xFFFF)/0x8000 - 1.0
}

func random3D(x, y, z int, seed int64) float64 {
	h := hash3(x, y, z) ^ hash3(int(seed), z, x)
	return float64(h&0xFFFF)/0x8000 - 1.0
}

func hash3(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
