package manager

import "voxelstream/internal/voxel"

// slotTable bounds the number of live chunks. Free slots are reused first;
// once every slot is taken a cursor walks the table round-robin and names the
// occupant to evict next.
type slotTable struct {
	keys   []voxel.ChunkCoord
	used   []bool
	free   []int
	cursor int
}

func newSlotTable(capacity int) *slotTable {
	t := &slotTable{
		keys: make([]voxel.ChunkCoord, capacity),
		used: make([]bool, capacity),
		free: make([]int, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

func (t *slotTable) full() bool {
	return len(t.free) == 0
}

// victim returns the occupant to evict next and advances the cursor past it.
// Occupants for which keep returns true are passed over unless every
// occupant is kept.
func (t *slotTable) victim(keep func(voxel.ChunkCoord) bool) (voxel.ChunkCoord, bool) {
	if key, ok := t.scan(keep); ok {
		return key, true
	}
	return t.scan(nil)
}

func (t *slotTable) scan(keep func(voxel.ChunkCoord) bool) (voxel.ChunkCoord, bool) {
	for range t.keys {
		slot := t.cursor
		t.cursor = (t.cursor + 1) % len(t.keys)
		if !t.used[slot] {
			continue
		}
		if keep != nil && keep(t.keys[slot]) {
			continue
		}
		return t.keys[slot], true
	}
	return voxel.ChunkCoord{}, false
}

// take reserves a free slot. The caller must occupy or abandon it.
func (t *slotTable) take() (int, bool) {
	n := len(t.free)
	if n == 0 {
		return -1, false
	}
	slot := t.free[n-1]
	t.free = t.free[:n-1]
	return slot, true
}

func (t *slotTable) occupy(slot int, key voxel.ChunkCoord) {
	t.keys[slot] = key
	t.used[slot] = true
}

// abandon returns a reserved slot that was never occupied.
func (t *slotTable) abandon(slot int) {
	t.free = append(t.free, slot)
}

// release frees an occupied slot. Releasing a free slot is a no-op.
func (t *slotTable) release(slot int) {
	if slot < 0 || slot >= len(t.used) || !t.used[slot] {
		return
	}
	t.used[slot] = false
	t.keys[slot] = voxel.ChunkCoord{}
	t.free = append(t.free, slot)
}

func (t *slotTable) len() int {
	return len(t.keys) - len(t.free)
}

func (t *slotTable) capacity() int {
	return len(t.keys)
}
