package mesher

// Buffers holds the geometry of one chunk mesh. Positions, normals and colors
// carry three floats per vertex; indices describe two triangles per quad.
// Positions are chunk-local, the renderer applies the chunk offset.
type Buffers struct {
	Positions []float32 `json:"positions"`
	Normals   []float32 `json:"normals"`
	Colors    []float32 `json:"colors"`
	Indices   []uint16  `json:"indices"`
}

func newBuffers(quads int) *Buffers {
	return &Buffers{
		Positions: make([]float32, 0, quads*12),
		Normals:   make([]float32, 0, quads*12),
		Colors:    make([]float32, 0, quads*12),
		Indices:   make([]uint16, 0, quads*6),
	}
}

// VertexCount returns the number of vertices.
func (b *Buffers) VertexCount() int {
	if b == nil {
		return 0
	}
	return len(b.Positions) / 3
}

// TriangleCount returns the number of triangles.
func (b *Buffers) TriangleCount() int {
	if b == nil {
		return 0
	}
	return len(b.Indices) / 3
}

// QuadCount returns the number of emitted quads.
func (b *Buffers) QuadCount() int {
	return b.VertexCount() / 4
}

// Empty reports whether the mesh has no geometry.
func (b *Buffers) Empty() bool {
	return b.VertexCount() == 0
}

// SizeBytes returns the memory held by the vertex and index data.
func (b *Buffers) SizeBytes() int {
	if b == nil {
		return 0
	}
	return 4*(len(b.Positions)+len(b.Normals)+len(b.Colors)) + 2*len(b.Indices)
}
