package manager

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxelstream/internal/mesher"
	"voxelstream/internal/octree"
	"voxelstream/internal/renderer"
	"voxelstream/internal/voxel"
	"voxelstream/internal/world"
)

// ErrClosed is returned by edits after Close.
var ErrClosed = errors.New("manager: closed")

type entry struct {
	chunk *world.Chunk
	state State
	epoch uint64
	slot  int

	// version counts changes that affect this chunk's mesh, including
	// changes to neighbors near the shared face.
	version       uint64
	meshedVersion uint64
	inflight      uint64
	meshRetries   int

	handle renderer.MeshHandle
}

type pendingGeneration struct {
	epoch uint64
	task  uuid.UUID
}

type counters struct {
	loaded        uint64
	evicted       uint64
	recycled      uint64
	genFailures   uint64
	meshFailures  uint64
	stale         uint64
	cancelled     uint64
	meshesApplied uint64
}

// TickReport summarizes one coordinator step.
type TickReport struct {
	Generations int
	Meshes      int
	Evicted     int
	Optimized   int
}

// Stats is a snapshot of the manager's bookkeeping.
type Stats struct {
	Live              int
	MaxChunks         int
	Desired           int
	PendingGeneration int
	Dirty             int
	PendingMesh       int
	Clean             int
	Parked            int
	Meshes            int

	Loaded             uint64
	Evicted            uint64
	Recycled           uint64
	GenerationFailures uint64
	MeshFailures       uint64
	StaleResults       uint64
	Cancelled          uint64
	MeshesApplied      uint64

	Nodes octree.Stats
}

// Manager streams chunks around a viewer. It loads missing chunks through the
// dispatcher, evicts distant ones, and keeps renderer meshes in step with
// chunk contents.
//
// A Manager is not safe for concurrent use. It must only be touched from the
// goroutine that owns the octree pool, and dispatcher callbacks must be
// delivered on that same goroutine.
type Manager struct {
	opts     Options
	pool     *octree.Pool
	codec    *world.Codec
	dispatch Dispatcher
	render   renderer.Renderer
	logger   *zap.Logger
	limiter  *rate.Limiter

	chunks   map[voxel.ChunkCoord]*entry
	pending  map[voxel.ChunkCoord]pendingGeneration
	failures map[voxel.ChunkCoord]int
	dirty    map[voxel.ChunkCoord]struct{}
	slots    *slotTable

	viewer     voxel.ChunkCoord
	hasViewer  bool
	desired    []voxel.ChunkCoord
	desiredSet map[voxel.ChunkCoord]struct{}

	epoch    uint64
	closed   bool
	counters counters
}

func New(opts Options, pool *octree.Pool, dispatch Dispatcher, render renderer.Renderer, logger *zap.Logger) (*Manager, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if pool == nil || dispatch == nil || render == nil {
		return nil, errors.New("manager: pool, dispatcher and renderer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := opts.Codec
	if codec == nil {
		var err error
		if codec, err = world.NewCodec(false); err != nil {
			return nil, err
		}
	}

	limit := rate.Inf
	if opts.GenerationPerSecond > 0 {
		limit = rate.Limit(opts.GenerationPerSecond)
	}

	return &Manager{
		opts:       opts,
		pool:       pool,
		codec:      codec,
		dispatch:   dispatch,
		render:     render,
		logger:     logger,
		limiter:    rate.NewLimiter(limit, opts.LoadsPerTick),
		chunks:     make(map[voxel.ChunkCoord]*entry),
		pending:    make(map[voxel.ChunkCoord]pendingGeneration),
		failures:   make(map[voxel.ChunkCoord]int),
		dirty:      make(map[voxel.ChunkCoord]struct{}),
		slots:      newSlotTable(opts.MaxChunks),
		desiredSet: make(map[voxel.ChunkCoord]struct{}),
	}, nil
}

// SetViewer moves the viewpoint. The desired chunk set is recomputed when the
// viewer crosses into another chunk.
func (m *Manager) SetViewer(pos mgl32.Vec3) {
	m.SetViewerChunk(voxel.ChunkAt(pos, m.opts.Edge))
}

// SetViewerChunk moves the viewpoint to the center of a chunk.
func (m *Manager) SetViewerChunk(c voxel.ChunkCoord) {
	if m.hasViewer && c == m.viewer {
		return
	}
	m.viewer = c
	m.hasViewer = true
	m.recomputeDesired()
}

// Viewer returns the chunk the viewer is in.
func (m *Manager) Viewer() (voxel.ChunkCoord, bool) {
	return m.viewer, m.hasViewer
}

func (m *Manager) recomputeDesired() {
	r, v := m.opts.RenderDistance, m.opts.VerticalDistance
	out := make([]voxel.ChunkCoord, 0, (2*r+1)*(2*r+1)*(2*v+1))
	for dy := -v; dy <= v; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				out = append(out, m.viewer.Add(voxel.ChunkCoord{X: int32(dx), Y: int32(dy), Z: int32(dz)}))
			}
		}
	}
	m.sortByDistance(out, true)
	if len(out) > m.opts.MaxChunks {
		out = out[:m.opts.MaxChunks]
	}

	m.desired = out
	m.desiredSet = make(map[voxel.ChunkCoord]struct{}, len(out))
	for _, c := range out {
		m.desiredSet[c] = struct{}{}
	}
	for c := range m.failures {
		if _, ok := m.desiredSet[c]; !ok {
			delete(m.failures, c)
		}
	}
}

// sortByDistance orders coordinates nearest the viewer first. With ring set
// the primary key is Manhattan distance, giving a spiral outward.
func (m *Manager) sortByDistance(coords []voxel.ChunkCoord, ring bool) {
	sort.Slice(coords, func(i, j int) bool {
		a, b := coords[i], coords[j]
		if ring {
			if ma, mb := a.Manhattan(m.viewer), b.Manhattan(m.viewer); ma != mb {
				return ma < mb
			}
		}
		if da, db := a.DistSq(m.viewer), b.DistSq(m.viewer); da != db {
			return da < db
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
}

func (m *Manager) isDesired(c voxel.ChunkCoord) bool {
	_, ok := m.desiredSet[c]
	return ok
}

// beyond reports whether c lies outside the render volume widened by margin.
func (m *Manager) beyond(c voxel.ChunkCoord, margin int) bool {
	if !m.hasViewer {
		return false
	}
	flat := voxel.ChunkCoord{X: c.X, Z: c.Z}
	ring := flat.Chebyshev(voxel.ChunkCoord{X: m.viewer.X, Z: m.viewer.Z})
	return ring > m.opts.RenderDistance+margin ||
		absInt(int(c.Y-m.viewer.Y)) > m.opts.VerticalDistance+margin
}

// Tick runs one coordinator step: generation dispatch, eviction, octree
// optimization and mesh dispatch. Completions must be delivered before Tick.
func (m *Manager) Tick() TickReport {
	var report TickReport
	if m.closed {
		return report
	}
	report.Generations = m.dispatchGeneration()
	report.Evicted = m.evictFar()
	report.Optimized = m.optimize()
	report.Meshes = m.dispatchMeshing()
	return report
}

func (m *Manager) dispatchGeneration() int {
	if !m.hasViewer {
		return 0
	}
	n := 0
	for _, c := range m.desired {
		if n >= m.opts.LoadsPerTick {
			break
		}
		if _, ok := m.chunks[c]; ok {
			continue
		}
		if _, ok := m.pending[c]; ok {
			continue
		}
		if m.failures[c] > m.opts.MaxRetries {
			continue
		}
		if !m.limiter.Allow() {
			break
		}
		if err := m.submitGeneration(c); err != nil {
			m.logger.Debug("generation dispatch deferred", zap.Stringer("chunk", c), zap.Error(err))
			break
		}
		n++
	}
	return n
}

func (m *Manager) submitGeneration(c voxel.ChunkCoord) error {
	m.epoch++
	epoch := m.epoch
	priority := float64(c.DistSq(m.viewer))
	task, err := m.dispatch.SubmitGeneration(priority, GenerateRequest{Coord: c}, func(res GenerateResult, err error) {
		m.onGenerated(c, epoch, res, err)
	})
	if err != nil {
		return err
	}
	m.pending[c] = pendingGeneration{epoch: epoch, task: task}
	return nil
}

// dropPending forgets a generation request. A task that has not started is
// withdrawn from the queue; a running one resolves later as stale.
func (m *Manager) dropPending(c voxel.ChunkCoord) {
	p, ok := m.pending[c]
	if !ok {
		return
	}
	delete(m.pending, c)
	if m.dispatch.CancelGeneration(p.task) {
		m.counters.cancelled++
	}
}

func (m *Manager) onGenerated(c voxel.ChunkCoord, epoch uint64, res GenerateResult, err error) {
	p, ok := m.pending[c]
	if m.closed || !ok || p.epoch != epoch {
		m.counters.stale++
		m.logger.Debug("dropping stale generation result", zap.Stringer("chunk", c))
		return
	}
	delete(m.pending, c)
	if err != nil {
		m.generationFailed(c, err)
		return
	}
	if res.Coord != c {
		m.generationFailed(c, fmt.Errorf("result addressed to %v", res.Coord))
		return
	}
	vol, err := m.codec.DecodeVolume(res.Payload, m.opts.Edge)
	if err != nil {
		m.generationFailed(c, err)
		return
	}
	if err := m.install(c, vol); err != nil {
		m.generationFailed(c, err)
	}
}

func (m *Manager) generationFailed(c voxel.ChunkCoord, err error) {
	m.counters.genFailures++
	m.failures[c]++
	attempts := m.failures[c]
	if attempts > m.opts.MaxRetries {
		m.logger.Warn("chunk generation parked after repeated failures",
			zap.Stringer("chunk", c), zap.Int("attempts", attempts), zap.Error(err))
		return
	}
	m.logger.Warn("chunk generation failed",
		zap.Stringer("chunk", c), zap.Int("attempts", attempts), zap.Error(err))
}

// install builds a chunk from a generated volume and registers it. A full
// slot table recycles one occupant first.
func (m *Manager) install(c voxel.ChunkCoord, vol world.Volume) error {
	if m.slots.full() {
		if victim, ok := m.slots.victim(m.isDesired); ok {
			m.evict(victim, "slot recycled")
			m.counters.recycled++
		}
	}
	slot, ok := m.slots.take()
	if !ok {
		return errors.New("manager: no free chunk slot")
	}

	chunk, err := world.NewChunk(m.pool, c, m.opts.Edge)
	if err != nil {
		m.slots.abandon(slot)
		m.logPoolError(c, err)
		return err
	}
	if err := chunk.Load(vol.Bytes()); err != nil {
		chunk.Dispose()
		m.slots.abandon(slot)
		m.logPoolError(c, err)
		return err
	}

	m.slots.occupy(slot, c)
	m.epoch++
	m.chunks[c] = &entry{
		chunk:   chunk,
		state:   StateDirty,
		epoch:   m.epoch,
		slot:    slot,
		version: 1,
	}
	m.dirty[c] = struct{}{}
	delete(m.failures, c)
	m.counters.loaded++

	for _, off := range voxel.FaceOffsets {
		if n, ok := m.chunks[c.Add(off)]; ok {
			m.markDirty(n)
		}
	}
	m.logger.Debug("chunk loaded",
		zap.Stringer("chunk", c), zap.Int("voxels", chunk.NonEmpty()), zap.Int("nodes", chunk.NodeCount()))
	return nil
}

func (m *Manager) logPoolError(c voxel.ChunkCoord, err error) {
	if errors.Is(err, octree.ErrPoolExhausted) {
		m.logger.Error("octree pool exhausted", zap.Stringer("chunk", c), zap.Any("pool", m.pool.Stats()))
	}
}

// evict disposes a loaded chunk and deletes its mesh.
func (m *Manager) evict(c voxel.ChunkCoord, reason string) {
	e, ok := m.chunks[c]
	if !ok {
		return
	}
	e.state = StateEvicting
	m.logger.Debug("evicting chunk", zap.Stringer("chunk", c), zap.String("reason", reason))
	if e.handle != 0 {
		m.render.DeleteMesh(e.handle)
		e.handle = 0
	}
	e.chunk.Dispose()
	m.slots.release(e.slot)
	delete(m.chunks, c)
	delete(m.dirty, c)
	e.state = StateUnloaded
	m.counters.evicted++

	// Faces that bordered this chunk now border air.
	if m.closed {
		return
	}
	for face := range voxel.FaceOffsets {
		if n, ok := m.chunks[c.Neighbor(face)]; ok {
			m.markDirty(n)
		}
	}
}

func (m *Manager) evictFar() int {
	for c := range m.pending {
		if m.beyond(c, m.opts.Hysteresis) {
			m.dropPending(c)
		}
	}
	threshold := int(m.opts.LoadFactor * float64(m.opts.MaxChunks))
	if len(m.chunks) <= threshold {
		return 0
	}
	n := 0
	for c := range m.chunks {
		if m.beyond(c, m.opts.Hysteresis) {
			m.evict(c, "out of range")
			n++
		}
	}
	return n
}

func (m *Manager) optimize() int {
	n := 0
	for _, e := range m.chunks {
		if n >= m.opts.OptimizePerTick {
			break
		}
		if e.state != StateClean || e.chunk.Optimized() {
			continue
		}
		e.chunk.Optimize()
		e.chunk.ClearModified()
		n++
	}
	return n
}

func (m *Manager) dispatchMeshing() int {
	if len(m.dirty) == 0 {
		return 0
	}
	order := make([]voxel.ChunkCoord, 0, len(m.dirty))
	for c := range m.dirty {
		order = append(order, c)
	}
	m.sortByDistance(order, false)

	n := 0
	for _, c := range order {
		if n >= m.opts.MeshesPerTick {
			break
		}
		e, ok := m.chunks[c]
		if !ok || e.state != StateDirty {
			delete(m.dirty, c)
			continue
		}
		if e.chunk.NonEmpty() == 0 {
			// Nothing solid means no faces, whatever the neighbors hold.
			delete(m.dirty, c)
			m.applyMesh(e, e.version, nil)
			e.state = StateClean
			continue
		}
		if err := m.submitMesh(e); err != nil {
			m.logger.Debug("mesh dispatch deferred", zap.Stringer("chunk", c), zap.Error(err))
			break
		}
		n++
	}
	return n
}

func (m *Manager) submitMesh(e *entry) error {
	c := e.chunk.Coord
	req := MeshRequest{
		Coord:     c,
		Version:   e.version,
		Payload:   m.codec.EncodeVolume(e.chunk.Snapshot()),
		Neighbors: make(map[voxel.ChunkCoord][]byte, len(voxel.FaceOffsets)),
	}
	for _, off := range voxel.FaceOffsets {
		if n, ok := m.chunks[c.Add(off)]; ok {
			req.Neighbors[off] = m.codec.EncodeVolume(n.chunk.Snapshot())
		}
	}

	epoch, version := e.epoch, e.version
	e.state = StatePendingMesh
	e.inflight = version
	delete(m.dirty, c)

	priority := float64(c.DistSq(m.viewer))
	err := m.dispatch.SubmitMesh(priority, req, func(res MeshResult, err error) {
		m.onMeshed(c, epoch, version, res, err)
	})
	if err != nil {
		e.state = StateDirty
		e.inflight = 0
		m.dirty[c] = struct{}{}
		return err
	}
	return nil
}

func (m *Manager) onMeshed(c voxel.ChunkCoord, epoch, version uint64, res MeshResult, err error) {
	e, ok := m.chunks[c]
	if m.closed || !ok || e.epoch != epoch || e.inflight != version {
		m.counters.stale++
		m.logger.Debug("dropping stale mesh result", zap.Stringer("chunk", c), zap.Uint64("version", version))
		return
	}
	e.inflight = 0
	if err != nil {
		m.meshFailed(e, err)
		return
	}
	if version <= e.meshedVersion || res.Version != version {
		m.counters.stale++
		e.state = StateDirty
		m.dirty[c] = struct{}{}
		return
	}

	m.applyMesh(e, version, res.Buffers)
	if e.version == version {
		e.state = StateClean
		e.meshRetries = 0
		return
	}
	e.state = StateDirty
	m.dirty[c] = struct{}{}
}

func (m *Manager) meshFailed(e *entry, err error) {
	c := e.chunk.Coord
	m.counters.meshFailures++
	e.meshRetries++
	if e.meshRetries > m.opts.MaxRetries {
		e.state = StateClean
		m.logger.Warn("giving up on chunk mesh until next edit",
			zap.Stringer("chunk", c), zap.Int("attempts", e.meshRetries), zap.Error(err))
		return
	}
	e.state = StateDirty
	m.dirty[c] = struct{}{}
	m.logger.Warn("chunk meshing failed",
		zap.Stringer("chunk", c), zap.Int("attempts", e.meshRetries), zap.Error(err))
}

// applyMesh hands buffers to the renderer. Empty buffers delete the mesh.
func (m *Manager) applyMesh(e *entry, version uint64, buf *mesher.Buffers) {
	switch {
	case buf.Empty():
		if e.handle != 0 {
			m.render.DeleteMesh(e.handle)
			e.handle = 0
		}
	case e.handle != 0:
		if h, ok := m.render.UpdateMesh(e.handle, buf); ok && h != 0 {
			e.handle = h
		} else {
			e.handle = m.render.CreateMesh(buf, e.chunk.Coord.Offset(m.opts.Edge))
		}
	default:
		e.handle = m.render.CreateMesh(buf, e.chunk.Coord.Offset(m.opts.Edge))
	}
	e.meshedVersion = version
	m.counters.meshesApplied++
}

// markDirty records a change that invalidates the chunk's mesh. A chunk with
// a mesh in flight is re-dirtied when that mesh lands.
func (m *Manager) markDirty(e *entry) {
	e.version++
	e.meshRetries = 0
	if e.state == StateClean {
		e.state = StateDirty
	}
	if e.state == StateDirty {
		m.dirty[e.chunk.Coord] = struct{}{}
	}
}

// State returns the lifecycle state of a chunk key.
func (m *Manager) State(c voxel.ChunkCoord) State {
	if e, ok := m.chunks[c]; ok {
		return e.state
	}
	if _, ok := m.pending[c]; ok {
		return StatePendingGeneration
	}
	return StateUnloaded
}

// Chunk returns a loaded chunk. Callers must not keep it across Tick.
func (m *Manager) Chunk(c voxel.ChunkCoord) (*world.Chunk, bool) {
	e, ok := m.chunks[c]
	if !ok {
		return nil, false
	}
	return e.chunk, true
}

// Handle returns the renderer handle of a loaded chunk's mesh.
func (m *Manager) Handle(c voxel.ChunkCoord) (renderer.MeshHandle, bool) {
	e, ok := m.chunks[c]
	if !ok || e.handle == 0 {
		return 0, false
	}
	return e.handle, true
}

// Loaded returns the loaded chunk keys, nearest the viewer first.
func (m *Manager) Loaded() []voxel.ChunkCoord {
	out := make([]voxel.ChunkCoord, 0, len(m.chunks))
	for c := range m.chunks {
		out = append(out, c)
	}
	m.sortByDistance(out, false)
	return out
}

func (m *Manager) LiveChunks() int {
	return len(m.chunks)
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Live:               len(m.chunks),
		MaxChunks:          m.slots.capacity(),
		Desired:            len(m.desired),
		PendingGeneration:  len(m.pending),
		Loaded:             m.counters.loaded,
		Evicted:            m.counters.evicted,
		Recycled:           m.counters.recycled,
		GenerationFailures: m.counters.genFailures,
		MeshFailures:       m.counters.meshFailures,
		StaleResults:       m.counters.stale,
		Cancelled:          m.counters.cancelled,
		MeshesApplied:      m.counters.meshesApplied,
		Nodes:              m.pool.Stats(),
	}
	for _, e := range m.chunks {
		switch e.state {
		case StateDirty:
			s.Dirty++
		case StatePendingMesh:
			s.PendingMesh++
		case StateClean:
			s.Clean++
		}
		if e.handle != 0 {
			s.Meshes++
		}
	}
	for _, n := range m.failures {
		if n > m.opts.MaxRetries {
			s.Parked++
		}
	}
	return s
}

// Close disposes every chunk and deletes every mesh. Results that arrive
// afterwards are dropped.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	for c := range m.pending {
		m.dropPending(c)
	}
	for c := range m.chunks {
		m.evict(c, "shutdown")
	}
	clear(m.dirty)
	clear(m.failures)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
