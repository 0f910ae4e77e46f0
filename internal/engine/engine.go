package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"voxelstream/internal/config"
	"voxelstream/internal/manager"
	"voxelstream/internal/octree"
	"voxelstream/internal/renderer"
	"voxelstream/internal/terrain"
	"voxelstream/internal/voxel"
	"voxelstream/internal/workers"
	"voxelstream/internal/world"
)

// ErrStopped is returned by commands sent after Run has returned.
var ErrStopped = errors.New("engine: stopped")

const commandQueue = 64

type traffic struct {
	generated atomic.Uint64
	meshed    atomic.Uint64
}

// Stats combines the manager and worker pool snapshots.
type Stats struct {
	Manager    manager.Stats
	Generation workers.Stats
	Meshing    workers.Stats
	Uptime     time.Duration

	GeneratedBytes uint64
	MeshBytes      uint64
}

// Engine owns the octree pool, the worker pools and the chunk manager. All
// manager and octree mutation happens on the goroutine running Run; other
// goroutines reach the manager through commands.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	pool    *octree.Pool
	codec   *world.Codec
	terrain terrain.Generator
	palette *voxel.Palette
	render  renderer.Renderer

	generation *generationPool
	meshing    *meshingPool
	manager    *manager.Manager

	commands chan func(*manager.Manager)
	stopped  chan struct{}
	running  atomic.Bool
	stopOnce sync.Once
	started  time.Time
	traffic  traffic
}

// New builds an engine that publishes meshes to render.
func New(cfg *config.Config, render renderer.Renderer, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if render == nil {
		return nil, errors.New("engine: renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	palette, err := cfg.Palette()
	if err != nil {
		return nil, fmt.Errorf("build palette: %w", err)
	}
	codec, err := world.NewCodec(cfg.Tasks.CompressPayloads)
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		pool:     octree.NewPool(cfg.Pool.MaxNodes, logger),
		codec:    codec,
		terrain:  terrain.NewNoiseGenerator(cfg.Terrain),
		palette:  palette,
		render:   render,
		commands: make(chan func(*manager.Manager), commandQueue),
		stopped:  make(chan struct{}),
	}

	opts := workers.Options{
		Workers:          cfg.Tasks.Workers,
		QueueCap:         cfg.Tasks.QueueCap,
		Timeout:          cfg.Tasks.Timeout.Duration(),
		WatchdogInterval: cfg.Tasks.WatchdogInterval.Duration(),
	}
	e.generation = workers.New("generation", e.generate, opts, logger)
	e.meshing = workers.New("meshing", e.mesh, opts, logger)

	e.manager, err = manager.New(
		manager.OptionsFromConfig(cfg.Chunk, codec),
		e.pool,
		dispatcher{generation: e.generation, meshing: e.meshing},
		render,
		logger,
	)
	if err != nil {
		e.generation.Close()
		e.meshing.Close()
		codec.Close()
		return nil, fmt.Errorf("build chunk manager: %w", err)
	}
	return e, nil
}

// Run drives the coordinator until ctx is cancelled. Everything the engine
// owns is released when it returns. An engine runs once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: already running")
	}
	defer e.shutdown()
	e.started = time.Now()

	ticker := time.NewTicker(e.cfg.Engine.TickRate.Duration())
	defer ticker.Stop()

	var statsC <-chan time.Time
	if interval := e.cfg.Engine.StatsInterval.Duration(); interval > 0 {
		statsTicker := time.NewTicker(interval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	e.logger.Info("engine started",
		zap.Int("edge", e.cfg.Chunk.Edge),
		zap.Int("maxChunks", e.cfg.Chunk.MaxChunks),
		zap.Int("renderDistance", e.cfg.Chunk.RenderDistance),
		zap.Int("verticalDistance", e.cfg.Chunk.VerticalDistance),
		zap.Bool("compressPayloads", e.codec.Compressed()))

	batch := e.cfg.Engine.PollBatch
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.step()
		case <-e.generation.Ready():
			e.generation.Poll(batch)
		case <-e.meshing.Ready():
			e.meshing.Poll(batch)
		case cmd := <-e.commands:
			cmd(e.manager)
		case <-statsC:
			e.logStats()
		}
	}
}

// step delivers pending completions and advances the manager.
func (e *Engine) step() {
	batch := e.cfg.Engine.PollBatch
	e.generation.Poll(batch)
	e.meshing.Poll(batch)
	report := e.manager.Tick()
	if report != (manager.TickReport{}) {
		e.logger.Debug("tick",
			zap.Int("generations", report.Generations),
			zap.Int("meshes", report.Meshes),
			zap.Int("evicted", report.Evicted),
			zap.Int("optimized", report.Optimized))
	}
}

func (e *Engine) shutdown() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		e.generation.Close()
		e.meshing.Close()
		e.manager.Close()
		e.codec.Close()
		stats := e.pool.Stats()
		e.logger.Info("engine stopped",
			zap.Duration("uptime", time.Since(e.started)),
			zap.Uint64("liveNodes", stats.Live))
	})
}

// Submit queues cmd for the coordinator goroutine without waiting for it.
func (e *Engine) Submit(ctx context.Context, cmd func(*manager.Manager)) error {
	select {
	case <-e.stopped:
		return ErrStopped
	default:
	}
	select {
	case e.commands <- cmd:
		return nil
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the coordinator goroutine and waits for it.
func (e *Engine) Do(ctx context.Context, fn func(*manager.Manager)) error {
	done := make(chan struct{})
	if err := e.Submit(ctx, func(m *manager.Manager) {
		fn(m)
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetViewer moves the viewpoint.
func (e *Engine) SetViewer(ctx context.Context, pos mgl32.Vec3) error {
	return e.Submit(ctx, func(m *manager.Manager) { m.SetViewer(pos) })
}

func (e *Engine) SetVoxel(ctx context.Context, b voxel.BlockCoord, t voxel.Type) (bool, error) {
	var changed bool
	var editErr error
	if err := e.Do(ctx, func(m *manager.Manager) { changed, editErr = m.SetVoxel(b, t) }); err != nil {
		return false, err
	}
	return changed, editErr
}

func (e *Engine) Voxel(ctx context.Context, b voxel.BlockCoord) (voxel.Type, error) {
	var t voxel.Type
	err := e.Do(ctx, func(m *manager.Manager) { t = m.Voxel(b) })
	return t, err
}

func (e *Engine) FillBox(ctx context.Context, a, b voxel.BlockCoord, t voxel.Type) (int, error) {
	var n int
	var editErr error
	if err := e.Do(ctx, func(m *manager.Manager) { n, editErr = m.FillBox(a, b, t) }); err != nil {
		return 0, err
	}
	return n, editErr
}

func (e *Engine) Explode(ctx context.Context, center voxel.BlockCoord, radius float64) (int, error) {
	var n int
	var editErr error
	if err := e.Do(ctx, func(m *manager.Manager) { n, editErr = m.Explode(center, radius) }); err != nil {
		return 0, err
	}
	return n, editErr
}

// Stats collects a snapshot on the coordinator goroutine.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := e.Do(ctx, func(m *manager.Manager) { s = e.snapshot() })
	return s, err
}

func (e *Engine) snapshot() Stats {
	return Stats{
		Manager:        e.manager.Stats(),
		Generation:     e.generation.Stats(),
		Meshing:        e.meshing.Stats(),
		Uptime:         time.Since(e.started),
		GeneratedBytes: e.traffic.generated.Load(),
		MeshBytes:      e.traffic.meshed.Load(),
	}
}

func (e *Engine) logStats() {
	s := e.snapshot()
	e.logger.Info("engine stats",
		zap.Int("live", s.Manager.Live),
		zap.Int("desired", s.Manager.Desired),
		zap.Int("pendingGeneration", s.Manager.PendingGeneration),
		zap.Int("dirty", s.Manager.Dirty),
		zap.Int("pendingMesh", s.Manager.PendingMesh),
		zap.Int("parked", s.Manager.Parked),
		zap.Int("meshes", s.Manager.Meshes),
		zap.String("nodes", humanize.Comma(int64(s.Manager.Nodes.Live))),
		zap.Uint64("evicted", s.Manager.Evicted),
		zap.Uint64("cancelled", s.Manager.Cancelled),
		zap.Uint64("genFailures", s.Manager.GenerationFailures),
		zap.Uint64("meshFailures", s.Manager.MeshFailures),
		zap.Int("genQueued", s.Generation.Queued),
		zap.Int("meshQueued", s.Meshing.Queued),
		zap.Uint64("timeouts", s.Generation.TimedOut+s.Meshing.TimedOut),
		zap.String("generated", humanize.Bytes(s.GeneratedBytes)),
		zap.String("meshData", humanize.Bytes(s.MeshBytes)),
		zap.Duration("uptime", s.Uptime.Round(time.Second)))
}
