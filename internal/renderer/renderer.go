package renderer

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream/internal/mesher"
)

// MeshHandle identifies geometry owned by a renderer. The zero handle means
// no mesh.
type MeshHandle uint64

// Renderer consumes finished mesh buffers. Buffers passed in are immutable and
// owned by the renderer afterwards.
type Renderer interface {
	CreateMesh(buf *mesher.Buffers, offset mgl32.Vec3) MeshHandle
	// UpdateMesh replaces the geometry behind h. It returns false when the
	// handle is unknown, in which case the caller should create a new mesh.
	UpdateMesh(h MeshHandle, buf *mesher.Buffers) (MeshHandle, bool)
	DeleteMesh(h MeshHandle)
}
