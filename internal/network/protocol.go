package network

import (
	"encoding/json"
	"time"

	"voxelstream/internal/mesher"
)

// ProtocolVersion is sent in the hello message.
const ProtocolVersion = 1

type MessageType string

const (
	MessageHello      MessageType = "hello"
	MessageMeshCreate MessageType = "meshCreate"
	MessageMeshUpdate MessageType = "meshUpdate"
	MessageMeshDelete MessageType = "meshDelete"
)

type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

type Hello struct {
	ProtocolVersion int `json:"protocolVersion"`
	ChunkEdge       int `json:"chunkEdge"`
	Meshes          int `json:"meshes"`
}

type MeshCreate struct {
	Handle  uint64          `json:"handle"`
	Offset  [3]float32      `json:"offset"`
	Buffers *mesher.Buffers `json:"buffers"`
}

type MeshUpdate struct {
	Handle  uint64          `json:"handle"`
	Buffers *mesher.Buffers `json:"buffers"`
}

type MeshDelete struct {
	Handle uint64 `json:"handle"`
}

func Encode(msg Envelope) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
