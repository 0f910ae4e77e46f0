package octree

import (
	"errors"
	"math/rand"
	"testing"

	"voxelstream/internal/voxel"
)

func newTestTree(t *testing.T, pool *Pool, edge int) *Tree {
	t.Helper()
	tree, err := NewTree(pool, edge)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree
}

func TestSetGetRoundTrip(t *testing.T) {
	pool := NewPool(0, nil)
	tree := newTestTree(t, pool, 16)
	rng := rand.New(rand.NewSource(7))

	want := make(map[[3]int]voxel.Type)
	for i := 0; i < 2000; i++ {
		x, y, z := rng.Intn(16), rng.Intn(16), rng.Intn(16)
		v := voxel.Type(rng.Intn(voxel.Count()))
		if _, err := tree.Set(x, y, z, v); err != nil {
			t.Fatalf("Set: %v", err)
		}
		want[[3]int{x, y, z}] = v
		if got := tree.Get(x, y, z); got != v {
			t.Fatalf("Get(%d,%d,%d) = %v right after Set(%v)", x, y, z, got, v)
		}
	}
	for pos, v := range want {
		if got := tree.Get(pos[0], pos[1], pos[2]); got != v {
			t.Fatalf("Get(%v) = %v, want %v", pos, got, v)
		}
	}
}

func TestSetSameValueAllocatesNothing(t *testing.T) {
	pool := NewPool(0, nil)
	tree := newTestTree(t, pool, 16)
	if _, err := tree.Set(3, 4, 5, voxel.Stone); err != nil {
		t.Fatalf("Set: %v", err)
	}
	before := pool.Stats()
	for i := 0; i < 10; i++ {
		changed, err := tree.Set(3, 4, 5, voxel.Stone)
		if err != nil {
			t.Fatalf("Set: %v", err)
		}
		if changed {
			t.Fatalf("repeated Set reported a change")
		}
		if changed, _ := tree.Set(10, 10, 10, voxel.Air); changed {
			t.Fatalf("setting air over an air hole reported a change")
		}
	}
	if after := pool.Stats(); after != before {
		t.Fatalf("idempotent sets touched the pool: before %+v after %+v", before, after)
	}
}

func TestSetOutOfBoundsIsIgnored(t *testing.T) {
	pool := NewPool(0, nil)
	tree := newTestTree(t, pool, 8)
	changed, err := tree.Set(8, 0, 0, voxel.Stone)
	if err != nil || changed {
		t.Fatalf("out of range Set = (%v, %v)", changed, err)
	}
	if got := tree.Get(-1, 0, 0); got != voxel.Air {
		t.Fatalf("out of range Get = %v, want air", got)
	}
}

func TestTryMergeCollapsesUniformChildren(t *testing.T) {
	pool := NewPool(0, nil)
	tree := newTestTree(t, pool, 2)
	if err := pool.Split(tree.Root()); err != nil {
		t.Fatalf("Split: %v", err)
	}
	root, _ := pool.Node(tree.Root())
	for _, c := range root.Children {
		cn, ok := pool.Node(c)
		if !ok {
			t.Fatalf("split produced an invalid child")
		}
		cn.Voxel = voxel.Sand
	}
	if !pool.TryMerge(tree.Root()) {
		t.Fatalf("TryMerge refused eight identical leaves")
	}
	root, _ = pool.Node(tree.Root())
	if !root.Leaf || root.Voxel != voxel.Sand {
		t.Fatalf("merged root = leaf %v type %v", root.Leaf, root.Voxel)
	}
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			for z := 0; z < 2; z++ {
				if got := tree.Get(x, y, z); got != voxel.Sand {
					t.Fatalf("Get(%d,%d,%d) = %v after merge", x, y, z, got)
				}
			}
		}
	}
	if st := pool.Stats(); st.Live != 1 || st.Free != 8 {
		t.Fatalf("expected 1 live and 8 free nodes, got %+v", st)
	}
}

func TestTryMergeRejectsMixedChildren(t *testing.T) {
	pool := NewPool(0, nil)
	tree := newTestTree(t, pool, 4)
	if _, err := tree.Set(0, 0, 0, voxel.Stone); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if pool.TryMerge(tree.Root()) {
		t.Fatalf("TryMerge merged a branch with a nested branch")
	}
}

func TestSplitRejectsUnitLeafAndBranch(t *testing.T) {
	pool := NewPool(0, nil)
	unit := newTestTree(t, pool, 1)
	if err := pool.Split(unit.Root()); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("Split on unit leaf = %v", err)
	}
	tree := newTestTree(t, pool, 4)
	if err := pool.Split(tree.Root()); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if err := pool.Split(tree.Root()); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("Split on branch = %v", err)
	}
}

func TestSplitRollsBackWhenPoolExhausted(t *testing.T) {
	pool := NewPool(5, nil)
	tree := newTestTree(t, pool, 16)
	_, err := tree.Set(1, 1, 1, voxel.Stone)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	root, ok := pool.Node(tree.Root())
	if !ok || !root.Leaf || root.Voxel != voxel.Air {
		t.Fatalf("root should stay an air leaf after a failed split")
	}
	for _, c := range root.Children {
		if !c.IsZero() {
			t.Fatalf("failed split left a child attached")
		}
	}
	if st := pool.Stats(); st.Live != 1 || st.Free != 4 {
		t.Fatalf("partial children were not returned: %+v", st)
	}
	if got := tree.Get(1, 1, 1); got != voxel.Air {
		t.Fatalf("failed write is visible: %v", got)
	}
}

func TestBranchTypeOnlyVisibleThroughHoles(t *testing.T) {
	pool := NewPool(0, nil)
	tree := newTestTree(t, pool, 4)
	if _, err := tree.Set(0, 0, 0, voxel.Stone); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if n := tree.NodeCount(); n != 17 {
		t.Fatalf("expected 17 nodes after one deep write, got %d", n)
	}

	tree.Optimize()
	if n := tree.NodeCount(); n != 3 {
		t.Fatalf("expected optimize to leave 3 nodes, got %d", n)
	}
	root, _ := pool.Node(tree.Root())
	if root.Leaf || root.Voxel != voxel.Air {
		t.Fatalf("root should be an air branch, got leaf=%v type=%v", root.Leaf, root.Voxel)
	}
	if got := tree.Get(3, 3, 3); got != voxel.Air {
		t.Fatalf("hole read = %v, want air", got)
	}
	if got := tree.Get(0, 0, 0); got != voxel.Stone {
		t.Fatalf("materialized read = %v, want stone", got)
	}

	// Writing into a hole materializes the octant with the inherited type.
	if _, err := tree.Set(3, 3, 3, voxel.Dirt); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := tree.Get(2, 2, 2); got != voxel.Air {
		t.Fatalf("sibling of materialized voxel = %v, want air", got)
	}

	for _, pos := range [][3]int{{0, 0, 0}, {3, 3, 3}} {
		if _, err := tree.Set(pos[0], pos[1], pos[2], voxel.Air); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if n := tree.NodeCount(); n != 1 {
		t.Fatalf("clearing every voxel should merge back to a single leaf, got %d nodes", n)
	}
}

func TestStaleHandlesAreDetected(t *testing.T) {
	pool := NewPool(0, nil)
	h, err := pool.Acquire(0, 0, 0, 2)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	pool.Release(h)
	if pool.Valid(h) {
		t.Fatalf("released handle still valid")
	}
	h2, err := pool.Acquire(0, 0, 0, 2)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h2 == h {
		t.Fatalf("recycled slot reused the same generation")
	}
	if pool.Valid(h) {
		t.Fatalf("stale handle became valid after the slot was recycled")
	}
	pool.Release(h)
	if !pool.Valid(h2) {
		t.Fatalf("releasing a stale handle freed the new owner's node")
	}
	if st := pool.Stats(); st.Live != 1 || st.Reused != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestStaleChildIsRepairedAsHole(t *testing.T) {
	pool := NewPool(0, nil)
	tree := newTestTree(t, pool, 4)
	if _, err := tree.Set(0, 0, 0, voxel.Stone); err != nil {
		t.Fatalf("Set: %v", err)
	}
	root, _ := pool.Node(tree.Root())
	// Simulate corruption: release an octant behind the tree's back.
	pool.Release(root.Children[7])
	if got := tree.Get(3, 3, 3); got != root.Voxel {
		t.Fatalf("stale octant read = %v, want inherited %v", got, root.Voxel)
	}
	if _, err := tree.Set(3, 3, 3, voxel.Sand); err != nil {
		t.Fatalf("Set through stale octant: %v", err)
	}
	if got := tree.Get(3, 3, 3); got != voxel.Sand {
		t.Fatalf("write after repair = %v", got)
	}
}

func TestFillMatchesGet(t *testing.T) {
	pool := NewPool(0, nil)
	tree := newTestTree(t, pool, 8)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		if _, err := tree.Set(rng.Intn(8), rng.Intn(8), rng.Intn(8), voxel.Type(1+rng.Intn(4))); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	tree.Optimize()
	buf := make([]byte, 8*8*8)
	if err := tree.Fill(buf); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	for y := 0; y < 8; y++ {
		for z := 0; z < 8; z++ {
			for x := 0; x < 8; x++ {
				if got, want := voxel.Type(buf[y*64+z*8+x]), tree.Get(x, y, z); got != want {
					t.Fatalf("Fill(%d,%d,%d) = %v, Get = %v", x, y, z, got, want)
				}
			}
		}
	}
	if err := tree.Fill(make([]byte, 10)); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestPoolConservationAcrossReleases(t *testing.T) {
	pool := NewPool(0, nil)
	rng := rand.New(rand.NewSource(11))
	trees := make([]*Tree, 0, 6)
	for i := 0; i < 6; i++ {
		tree := newTestTree(t, pool, 16)
		for j := 0; j < 300; j++ {
			if _, err := tree.Set(rng.Intn(16), rng.Intn(16), rng.Intn(16), voxel.Type(rng.Intn(4))); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}
		trees = append(trees, tree)
	}

	check := func() {
		st := pool.Stats()
		if st.Created != st.Live+st.Free {
			t.Fatalf("created %d != live %d + free %d", st.Created, st.Live, st.Free)
		}
		if st.Created+st.Reused != st.Live+st.Returned {
			t.Fatalf("created+reused %d != live+returned %d", st.Created+st.Reused, st.Live+st.Returned)
		}
	}
	check()

	for _, tree := range trees {
		nodes := tree.NodeCount()
		before := pool.Stats().Free
		tree.Release()
		if grown := pool.Stats().Free - before; grown != uint64(nodes) {
			t.Fatalf("free list grew by %d, tree held %d nodes", grown, nodes)
		}
		if got := tree.Get(0, 0, 0); got != voxel.Air {
			t.Fatalf("released tree reads %v", got)
		}
		check()
	}
	if st := pool.Stats(); st.Live != 0 {
		t.Fatalf("expected no live nodes after releasing everything, got %d", st.Live)
	}
}

func TestNewTreeRejectsNonPowerOfTwo(t *testing.T) {
	if _, err := NewTree(NewPool(0, nil), 12); err == nil {
		t.Fatalf("expected error for edge 12")
	}
}
