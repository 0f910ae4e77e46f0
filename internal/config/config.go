package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"voxelstream/internal/voxel"
)

// Duration wraps time.Duration so configuration files can use strings such as
// "150ms" while numeric nanosecond values keep working.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Empty strings and null values decode
// to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" || node.Tag == "!!float" {
		var f float64
		if err := node.Decode(&f); err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(time.Duration(f))
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config captures every tunable of the streaming engine.
type Config struct {
	Engine  EngineConfig      `json:"engine" yaml:"engine"`
	Logging LoggingConfig     `json:"logging" yaml:"logging"`
	Chunk   ChunkConfig       `json:"chunk" yaml:"chunk"`
	Pool    PoolConfig        `json:"pool" yaml:"pool"`
	Tasks   TasksConfig       `json:"tasks" yaml:"tasks"`
	Terrain TerrainConfig     `json:"terrain" yaml:"terrain"`
	Blocks  []BlockDefinition `json:"blocks" yaml:"blocks"`
}

type EngineConfig struct {
	TickRate      Duration `json:"tickRate" yaml:"tickRate"`           // coordinator step, e.g. "16ms"
	StatsInterval Duration `json:"statsInterval" yaml:"statsInterval"` // zero disables periodic stats
	Listen        string   `json:"listen" yaml:"listen"`               // mesh stream address, empty disables it
	PollBatch     int      `json:"pollBatch" yaml:"pollBatch"`         // completions drained per wake-up, 0 = all
}

type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

type ChunkConfig struct {
	Edge                int     `json:"edge" yaml:"edge"`
	MaxChunks           int     `json:"maxChunks" yaml:"maxChunks"`
	RenderDistance      int     `json:"renderDistance" yaml:"renderDistance"`
	VerticalDistance    int     `json:"verticalDistance" yaml:"verticalDistance"`
	Hysteresis          int     `json:"hysteresis" yaml:"hysteresis"`
	LoadFactor          float64 `json:"loadFactor" yaml:"loadFactor"`
	LoadsPerTick        int     `json:"loadsPerTick" yaml:"loadsPerTick"`
	MeshesPerTick       int     `json:"meshesPerTick" yaml:"meshesPerTick"`
	OptimizePerTick     int     `json:"optimizePerTick" yaml:"optimizePerTick"`
	EdgeMargin          int     `json:"edgeMargin" yaml:"edgeMargin"`
	MaxRetries          int     `json:"maxRetries" yaml:"maxRetries"`
	GenerationPerSecond float64 `json:"generationPerSecond" yaml:"generationPerSecond"` // 0 = unlimited
}

type PoolConfig struct {
	MaxNodes int `json:"maxNodes" yaml:"maxNodes"` // 0 = unlimited
}

type TasksConfig struct {
	Workers          int      `json:"workers" yaml:"workers"` // 0 = GOMAXPROCS capped at 8
	QueueCap         int      `json:"queueCap" yaml:"queueCap"`
	Timeout          Duration `json:"timeout" yaml:"timeout"`
	WatchdogInterval Duration `json:"watchdogInterval" yaml:"watchdogInterval"`
	CompressPayloads bool     `json:"compressPayloads" yaml:"compressPayloads"`
}

type TerrainConfig struct {
	Seed          int64   `json:"seed" yaml:"seed"`
	Frequency     float64 `json:"frequency" yaml:"frequency"`
	Amplitude     float64 `json:"amplitude" yaml:"amplitude"`
	Octaves       int     `json:"octaves" yaml:"octaves"`
	Persistence   float64 `json:"persistence" yaml:"persistence"`
	Lacunarity    float64 `json:"lacunarity" yaml:"lacunarity"`
	BaseHeight    int     `json:"baseHeight" yaml:"baseHeight"`
	SeaLevel      int     `json:"seaLevel" yaml:"seaLevel"`
	SnowLine      int     `json:"snowLine" yaml:"snowLine"`
	CaveFrequency float64 `json:"caveFrequency" yaml:"caveFrequency"`
	CaveThreshold float64 `json:"caveThreshold" yaml:"caveThreshold"`
	MinY          int     `json:"minY" yaml:"minY"`
	TreeDensity   float64 `json:"treeDensity" yaml:"treeDensity"`
	TreeSpacing   int     `json:"treeSpacing" yaml:"treeSpacing"`
}

// BlockDefinition overrides the colors of one voxel type.
type BlockDefinition struct {
	ID          string `json:"id" yaml:"id"`
	Color       string `json:"color" yaml:"color"`
	TopColor    string `json:"topColor,omitempty" yaml:"topColor,omitempty"`
	BottomColor string `json:"bottomColor,omitempty" yaml:"bottomColor,omitempty"`
}

func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			TickRate:      Duration(16 * time.Millisecond),
			StatsInterval: Duration(10 * time.Second),
			Listen:        "127.0.0.1:19080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Chunk: ChunkConfig{
			Edge:                16,
			MaxChunks:           2048,
			RenderDistance:      6,
			VerticalDistance:    2,
			Hysteresis:          2,
			LoadFactor:          0.75,
			LoadsPerTick:        4,
			MeshesPerTick:       4,
			OptimizePerTick:     2,
			EdgeMargin:          1,
			MaxRetries:          3,
			GenerationPerSecond: 120,
		},
		Pool: PoolConfig{
			MaxNodes: 0,
		},
		Tasks: TasksConfig{
			QueueCap:         4096,
			Timeout:          Duration(5 * time.Second),
			WatchdogInterval: Duration(500 * time.Millisecond),
			CompressPayloads: true,
		},
		Terrain: TerrainConfig{
			Seed:          1337,
			Frequency:     0.01,
			Amplitude:     12,
			Octaves:       4,
			Persistence:   0.45,
			Lacunarity:    2.0,
			BaseHeight:    8,
			SeaLevel:      4,
			SnowLine:      18,
			CaveFrequency: 0.06,
			CaveThreshold: 0.72,
			MinY:          -48,
			TreeDensity:   0.35,
			TreeSpacing:   9,
		},
		Blocks: DefaultBlocks(),
	}
}

// DefaultBlocks returns the built-in block colors.
func DefaultBlocks() []BlockDefinition {
	defs := voxel.DefaultDefinitions()
	blocks := make([]BlockDefinition, 0, len(defs))
	for _, def := range defs {
		if def.Name == voxel.Air.String() {
			continue
		}
		blocks = append(blocks, BlockDefinition{
			ID:          def.Name,
			Color:       def.Color,
			TopColor:    def.TopColor,
			BottomColor: def.BottomColor,
		})
	}
	return blocks
}

// Palette builds the mesh palette from the block definitions.
func (c *Config) Palette() (*voxel.Palette, error) {
	defs := make([]voxel.Definition, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		defs = append(defs, voxel.Definition{
			Name:        b.ID,
			Color:       b.Color,
			TopColor:    b.TopColor,
			BottomColor: b.BottomColor,
		})
	}
	return voxel.NewPalette(defs)
}

func (c *Config) Validate() error {
	if c.Engine.TickRate <= 0 {
		return errors.New("engine.tickRate must be positive")
	}
	if c.Engine.StatsInterval < 0 {
		return errors.New("engine.statsInterval cannot be negative")
	}
	if c.Engine.PollBatch < 0 {
		return errors.New("engine.pollBatch cannot be negative")
	}
	if e := c.Chunk.Edge; e < 2 || e > 256 || e&(e-1) != 0 {
		return errors.New("chunk.edge must be a power of two between 2 and 256")
	}
	if c.Chunk.MaxChunks <= 0 {
		return errors.New("chunk.maxChunks must be positive")
	}
	if c.Chunk.RenderDistance < 0 || c.Chunk.VerticalDistance < 0 {
		return errors.New("chunk render distances cannot be negative")
	}
	if c.Chunk.Hysteresis < 0 {
		return errors.New("chunk.hysteresis cannot be negative")
	}
	if c.Chunk.LoadFactor <= 0 || c.Chunk.LoadFactor > 1 {
		return errors.New("chunk.loadFactor must be in (0,1]")
	}
	if c.Chunk.LoadsPerTick <= 0 || c.Chunk.MeshesPerTick <= 0 {
		return errors.New("chunk.loadsPerTick and chunk.meshesPerTick must be positive")
	}
	if c.Chunk.OptimizePerTick < 0 {
		return errors.New("chunk.optimizePerTick cannot be negative")
	}
	if c.Chunk.EdgeMargin < 0 || c.Chunk.EdgeMargin >= c.Chunk.Edge {
		return errors.New("chunk.edgeMargin must be in [0, edge)")
	}
	if c.Chunk.MaxRetries < 0 {
		return errors.New("chunk.maxRetries cannot be negative")
	}
	if c.Chunk.GenerationPerSecond < 0 {
		return errors.New("chunk.generationPerSecond cannot be negative")
	}
	if c.Pool.MaxNodes < 0 {
		return errors.New("pool.maxNodes cannot be negative")
	}
	if c.Tasks.Workers < 0 {
		return errors.New("tasks.workers cannot be negative")
	}
	if c.Tasks.QueueCap < 0 {
		return errors.New("tasks.queueCap cannot be negative")
	}
	if c.Tasks.Timeout < 0 || c.Tasks.WatchdogInterval < 0 {
		return errors.New("tasks timeouts cannot be negative")
	}
	if c.Terrain.Octaves <= 0 {
		return errors.New("terrain.octaves must be positive")
	}
	if c.Terrain.CaveThreshold < 0 || c.Terrain.CaveThreshold > 1 {
		return errors.New("terrain.caveThreshold must be in [0,1]")
	}
	if c.Terrain.TreeDensity < 0 || c.Terrain.TreeDensity > 1 {
		return errors.New("terrain.treeDensity must be in [0,1]")
	}
	if c.Terrain.TreeDensity > 0 && c.Terrain.TreeSpacing <= 0 {
		return errors.New("terrain.treeSpacing must be positive when trees are enabled")
	}
	return validateBlocks(c.Blocks)
}

func validateBlocks(blocks []BlockDefinition) error {
	seen := make(map[string]struct{}, len(blocks))
	for i, b := range blocks {
		if b.ID == "" {
			return fmt.Errorf("blocks[%d].id must be set", i)
		}
		if _, err := voxel.ParseType(b.ID); err != nil {
			return fmt.Errorf("blocks[%d]: %w", i, err)
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("blocks[%d].id %q is duplicated", i, b.ID)
		}
		seen[b.ID] = struct{}{}
		if b.Color == "" {
			return fmt.Errorf("blocks[%d].color must be set", i)
		}
		for _, color := range []string{b.Color, b.TopColor, b.BottomColor} {
			if color == "" {
				continue
			}
			if _, err := voxel.ParseHexColor(color); err != nil {
				return fmt.Errorf("blocks[%d]: %w", i, err)
			}
		}
	}
	return nil
}
