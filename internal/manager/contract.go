package manager

import (
	"github.com/google/uuid"

	"voxelstream/internal/mesher"
	"voxelstream/internal/voxel"
)

// GenerateRequest asks a worker for the voxels of one chunk.
type GenerateRequest struct {
	Coord voxel.ChunkCoord
}

// GenerateResult carries an encoded flat voxel volume (y*N²+z*N+x layout).
type GenerateResult struct {
	Coord   voxel.ChunkCoord
	Payload []byte
}

// MeshRequest carries encoded copies of a chunk and its loaded face
// neighbors. Neighbors are keyed by offset relative to Coord.
type MeshRequest struct {
	Coord     voxel.ChunkCoord
	Version   uint64
	Payload   []byte
	Neighbors map[voxel.ChunkCoord][]byte
}

type MeshResult struct {
	Coord   voxel.ChunkCoord
	Version uint64
	Buffers *mesher.Buffers
}

// Dispatcher runs generation and meshing off the coordinator. Submit must not
// block. Every accepted task resolves exactly once through done, on the
// coordinator goroutine, unless CancelGeneration removed it before it started.
type Dispatcher interface {
	SubmitGeneration(priority float64, req GenerateRequest, done func(GenerateResult, error)) (uuid.UUID, error)
	CancelGeneration(id uuid.UUID) bool
	SubmitMesh(priority float64, req MeshRequest, done func(MeshResult, error)) error
}
