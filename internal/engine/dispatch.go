package engine

import (
	"context"
	"fmt"

	"voxelstream/internal/manager"
	"voxelstream/internal/mesher"
	"voxelstream/internal/terrain"
	"voxelstream/internal/voxel"
	"voxelstream/internal/workers"
	"voxelstream/internal/world"
)

type generationPool = workers.Pool[manager.GenerateRequest, manager.GenerateResult]
type meshingPool = workers.Pool[manager.MeshRequest, manager.MeshResult]

// dispatcher routes manager tasks to the two worker pools. Callbacks reach
// the manager through Poll on the coordinator goroutine.
type dispatcher struct {
	generation *generationPool
	meshing    *meshingPool
}

func (d dispatcher) SubmitGeneration(priority float64, req manager.GenerateRequest, done func(manager.GenerateResult, error)) (workers.TaskID, error) {
	return d.generation.Submit(priority, req, done)
}

func (d dispatcher) CancelGeneration(id workers.TaskID) bool {
	return d.generation.Cancel(id)
}

func (d dispatcher) SubmitMesh(priority float64, req manager.MeshRequest, done func(manager.MeshResult, error)) error {
	_, err := d.meshing.Submit(priority, req, done)
	return err
}

// generate runs on a worker goroutine. It only touches immutable state and
// the concurrency-safe codec.
func (e *Engine) generate(ctx context.Context, req manager.GenerateRequest) (manager.GenerateResult, error) {
	data, err := terrain.Fill(ctx, e.terrain, req.Coord, e.cfg.Chunk.Edge, e.cfg.Terrain)
	if err != nil {
		return manager.GenerateResult{}, fmt.Errorf("generate %s: %w", req.Coord, err)
	}
	payload := e.codec.EncodeVolume(data)
	e.traffic.generated.Add(uint64(len(payload)))
	return manager.GenerateResult{Coord: req.Coord, Payload: payload}, nil
}

// mesh runs on a worker goroutine against decoded copies of the chunk and
// its face neighbors.
func (e *Engine) mesh(ctx context.Context, req manager.MeshRequest) (manager.MeshResult, error) {
	edge := e.cfg.Chunk.Edge
	vol, err := e.codec.DecodeVolume(req.Payload, edge)
	if err != nil {
		return manager.MeshResult{}, fmt.Errorf("mesh %s: %w", req.Coord, err)
	}
	neighbors := make(map[voxel.ChunkCoord]world.Volume, len(req.Neighbors))
	for off, payload := range req.Neighbors {
		nv, err := e.codec.DecodeVolume(payload, edge)
		if err != nil {
			return manager.MeshResult{}, fmt.Errorf("mesh %s: neighbor %s: %w", req.Coord, off, err)
		}
		neighbors[off] = nv
	}
	if err := ctx.Err(); err != nil {
		return manager.MeshResult{}, err
	}
	buf, err := mesher.Generate(vol, req.Coord, mesher.VolumeLookup(neighbors, edge), e.palette)
	if err != nil {
		return manager.MeshResult{}, fmt.Errorf("mesh %s: %w", req.Coord, err)
	}
	e.traffic.meshed.Add(uint64(buf.SizeBytes()))
	return manager.MeshResult{Coord: req.Coord, Version: req.Version, Buffers: buf}, nil
}
