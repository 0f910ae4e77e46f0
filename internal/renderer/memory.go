package renderer

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/mesher"
)

// Mesh is a live mesh held by the Memory renderer.
type Mesh struct {
	Handle  MeshHandle
	Offset  mgl32.Vec3
	Buffers *mesher.Buffers
	Updates int
}

// Totals counts renderer calls over the lifetime of a Memory renderer.
type Totals struct {
	Created  int
	Updated  int
	Deleted  int
	Rejected int // updates or deletes of unknown handles
}

// Memory keeps meshes in a map. Headless runs and tests use it.
type Memory struct {
	mu     sync.Mutex
	next   MeshHandle
	meshes map[MeshHandle]*Mesh
	totals Totals
}

func NewMemory() *Memory {
	return &Memory{meshes: make(map[MeshHandle]*Mesh)}
}

func (m *Memory) CreateMesh(buf *mesher.Buffers, offset mgl32.Vec3) MeshHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	h := m.next
	m.meshes[h] = &Mesh{Handle: h, Offset: offset, Buffers: buf}
	m.totals.Created++
	return h
}

func (m *Memory) UpdateMesh(h MeshHandle, buf *mesher.Buffers) (MeshHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mesh, ok := m.meshes[h]
	if !ok {
		m.totals.Rejected++
		return 0, false
	}
	mesh.Buffers = buf
	mesh.Updates++
	m.totals.Updated++
	return h, true
}

func (m *Memory) DeleteMesh(h MeshHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.meshes[h]; !ok {
		m.totals.Rejected++
		return
	}
	delete(m.meshes, h)
	m.totals.Deleted++
}

// Live returns the number of meshes not yet deleted.
func (m *Memory) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.meshes)
}

// Mesh returns a copy of the mesh behind h.
func (m *Memory) Mesh(h MeshHandle) (Mesh, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mesh, ok := m.meshes[h]
	if !ok {
		return Mesh{}, false
	}
	return *mesh, true
}

// Meshes returns copies of all live meshes.
func (m *Memory) Meshes() []Mesh {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Mesh, 0, len(m.meshes))
	for _, mesh := range m.meshes {
		out = append(out, *mesh)
	}
	return out
}

func (m *Memory) Totals() Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

// Triangles sums the triangle count of every live mesh.
func (m *Memory) Triangles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, mesh := range m.meshes {
		total += mesh.Buffers.TriangleCount()
	}
	return total
}
