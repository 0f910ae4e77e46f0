package manager

import (
	"errors"

	"voxelstream/internal/config"
	"voxelstream/internal/world"
)

// Options tunes the chunk manager.
type Options struct {
	Edge             int
	MaxChunks        int
	RenderDistance   int
	VerticalDistance int
	Hysteresis       int
	LoadFactor       float64
	LoadsPerTick     int
	MeshesPerTick    int
	OptimizePerTick  int
	EdgeMargin       int
	MaxRetries       int

	// GenerationPerSecond caps generation dispatch. Zero means unlimited.
	GenerationPerSecond float64

	// Codec packs voxel payloads. Nil uses plain copies.
	Codec *world.Codec
}

// OptionsFromConfig maps the chunk section of the configuration.
func OptionsFromConfig(cfg config.ChunkConfig, codec *world.Codec) Options {
	return Options{
		Edge:                cfg.Edge,
		MaxChunks:           cfg.MaxChunks,
		RenderDistance:      cfg.RenderDistance,
		VerticalDistance:    cfg.VerticalDistance,
		Hysteresis:          cfg.Hysteresis,
		LoadFactor:          cfg.LoadFactor,
		LoadsPerTick:        cfg.LoadsPerTick,
		MeshesPerTick:       cfg.MeshesPerTick,
		OptimizePerTick:     cfg.OptimizePerTick,
		EdgeMargin:          cfg.EdgeMargin,
		MaxRetries:          cfg.MaxRetries,
		GenerationPerSecond: cfg.GenerationPerSecond,
		Codec:               codec,
	}
}

func (o Options) validate() error {
	if o.Edge < 2 || o.Edge&(o.Edge-1) != 0 {
		return errors.New("manager: edge must be a power of two >= 2")
	}
	if o.MaxChunks <= 0 {
		return errors.New("manager: max chunks must be positive")
	}
	if o.RenderDistance < 0 || o.VerticalDistance < 0 || o.Hysteresis < 0 {
		return errors.New("manager: distances cannot be negative")
	}
	if o.LoadFactor <= 0 || o.LoadFactor > 1 {
		return errors.New("manager: load factor must be in (0,1]")
	}
	if o.LoadsPerTick <= 0 || o.MeshesPerTick <= 0 {
		return errors.New("manager: per-tick budgets must be positive")
	}
	if o.EdgeMargin < 0 || o.EdgeMargin >= o.Edge {
		return errors.New("manager: edge margin must be in [0, edge)")
	}
	if o.MaxRetries < 0 || o.OptimizePerTick < 0 || o.GenerationPerSecond < 0 {
		return errors.New("manager: retry and rate settings cannot be negative")
	}
	return nil
}
