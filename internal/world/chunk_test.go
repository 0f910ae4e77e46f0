package world

import (
	"errors"
	"math/rand"
	"testing"

	"voxelstream/internal/octree"
	"voxelstream/internal/voxel"
)

func newTestChunk(t *testing.T, pool *octree.Pool) *Chunk {
	t.Helper()
	c, err := NewChunk(pool, voxel.ChunkCoord{X: 1, Y: -2, Z: 3}, 16)
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	return c
}

func TestChunkRoundTripAndCounters(t *testing.T) {
	pool := octree.NewPool(0, nil)
	c := newTestChunk(t, pool)
	if c.NonEmpty() != 0 || c.Modified() || !c.Optimized() {
		t.Fatalf("fresh chunk has unexpected state")
	}

	rng := rand.New(rand.NewSource(42))
	want := make(map[[3]int]voxel.Type)
	for i := 0; i < 1500; i++ {
		x, y, z := rng.Intn(16), rng.Intn(16), rng.Intn(16)
		v := voxel.Type(rng.Intn(voxel.Count()))
		if _, err := c.SetVoxel(x, y, z, v); err != nil {
			t.Fatalf("SetVoxel: %v", err)
		}
		if got := c.Voxel(x, y, z); got != v {
			t.Fatalf("Voxel(%d,%d,%d) = %v, want %v", x, y, z, got, v)
		}
		want[[3]int{x, y, z}] = v
	}

	solid := 0
	for _, v := range want {
		if v != voxel.Air {
			solid++
		}
	}
	if c.NonEmpty() != solid {
		t.Fatalf("expected %d non-empty voxels, got %d", solid, c.NonEmpty())
	}
	if !c.Modified() || c.Optimized() {
		t.Fatalf("edits should mark the chunk modified and unoptimized")
	}

	c.Optimize()
	if !c.Optimized() {
		t.Fatalf("Optimize did not set the flag")
	}
	for pos, v := range want {
		if got := c.Voxel(pos[0], pos[1], pos[2]); got != v {
			t.Fatalf("after optimize Voxel(%v) = %v, want %v", pos, got, v)
		}
	}
	c.ClearModified()
	if c.Modified() {
		t.Fatalf("ClearModified left the flag set")
	}
}

func TestChunkOutOfBoundsWriteIgnored(t *testing.T) {
	c := newTestChunk(t, octree.NewPool(0, nil))
	for _, pos := range [][3]int{{-1, 0, 0}, {16, 0, 0}, {0, 16, 0}, {0, 0, -5}} {
		changed, err := c.SetVoxel(pos[0], pos[1], pos[2], voxel.Stone)
		if changed || err != nil {
			t.Fatalf("SetVoxel(%v) = (%v, %v), want ignored", pos, changed, err)
		}
		if got := c.Voxel(pos[0], pos[1], pos[2]); got != voxel.Air {
			t.Fatalf("Voxel(%v) = %v, want air", pos, got)
		}
	}
	if c.Modified() {
		t.Fatalf("ignored writes marked the chunk modified")
	}
}

func TestChunkSmallCubeScenario(t *testing.T) {
	pool := octree.NewPool(0, nil)
	c := newTestChunk(t, pool)
	data := make([]byte, 16*16*16)
	for y := 0; y < 2; y++ {
		for z := 0; z < 2; z++ {
			for x := 0; x < 2; x++ {
				data[y*256+z*16+x] = byte(voxel.Stone)
			}
		}
	}
	if err := c.Load(data); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.NonEmpty() != 8 {
		t.Fatalf("expected 8 non-empty voxels, got %d", c.NonEmpty())
	}
	c.Optimize()
	if n := c.NodeCount(); n > 36 {
		t.Fatalf("expected a few dozen nodes at most, got %d", n)
	}
	snap := c.Snapshot()
	for i := range data {
		if snap[i] != data[i] {
			t.Fatalf("snapshot differs at %d: %d != %d", i, snap[i], data[i])
		}
	}
}

func TestChunkLoadRejectsWrongSize(t *testing.T) {
	c := newTestChunk(t, octree.NewPool(0, nil))
	if err := c.Load(make([]byte, 10)); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("expected ErrBadPayload, got %v", err)
	}
}

func TestChunkLoadStopsOnPoolExhaustion(t *testing.T) {
	pool := octree.NewPool(20, nil)
	c := newTestChunk(t, pool)
	data := make([]byte, 16*16*16)
	rng := rand.New(rand.NewSource(5))
	for i := range data {
		data[i] = byte(rng.Intn(3))
	}
	if err := c.Load(data); !errors.Is(err, octree.ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	c.Dispose()
	if st := pool.Stats(); st.Live != 0 {
		t.Fatalf("disposing the partial chunk leaked %d nodes", st.Live)
	}
}

func TestChunkDisposeReturnsNodes(t *testing.T) {
	pool := octree.NewPool(0, nil)
	c := newTestChunk(t, pool)
	for i := 0; i < 16; i++ {
		if _, err := c.SetVoxel(i, i, i, voxel.Dirt); err != nil {
			t.Fatalf("SetVoxel: %v", err)
		}
	}
	nodes := c.NodeCount()
	before := pool.Stats().Free
	c.Dispose()
	if grown := pool.Stats().Free - before; grown != uint64(nodes) {
		t.Fatalf("free list grew by %d, chunk held %d nodes", grown, nodes)
	}
	if _, err := c.SetVoxel(0, 0, 0, voxel.Stone); !errors.Is(err, ErrChunkDisposed) {
		t.Fatalf("expected ErrChunkDisposed, got %v", err)
	}
	if got := c.Voxel(1, 1, 1); got != voxel.Air {
		t.Fatalf("disposed chunk reads %v", got)
	}
	c.Dispose()
}
