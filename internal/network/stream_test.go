package network

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"voxelstream/internal/mesher"
)

func testBuffers(quads int) *mesher.Buffers {
	buf := &mesher.Buffers{}
	for q := 0; q < quads; q++ {
		buf.Positions = append(buf.Positions, make([]float32, 12)...)
		buf.Normals = append(buf.Normals, make([]float32, 12)...)
		buf.Colors = append(buf.Colors, make([]float32, 12)...)
		b := uint16(q * 4)
		buf.Indices = append(buf.Indices, b, b+1, b+2, b, b+2, b+3)
	}
	return buf
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMeshStreamSnapshotAndUpdates(t *testing.T) {
	stream := NewMeshStream(StreamOptions{ChunkEdge: 16}, nil)
	existing := stream.CreateMesh(testBuffers(2), mgl32.Vec3{16, 0, 32})

	srv := httptest.NewServer(stream.Handler())
	defer srv.Close()
	conn := dial(t, srv)

	hello := readEnvelope(t, conn)
	if hello.Type != MessageHello {
		t.Fatalf("expected hello first, got %s", hello.Type)
	}
	var h Hello
	if err := json.Unmarshal(hello.Payload, &h); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if h.ProtocolVersion != ProtocolVersion || h.ChunkEdge != 16 || h.Meshes != 1 {
		t.Fatalf("unexpected hello %+v", h)
	}

	snapshot := readEnvelope(t, conn)
	var create MeshCreate
	if err := json.Unmarshal(snapshot.Payload, &create); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if snapshot.Type != MessageMeshCreate || create.Handle != uint64(existing) {
		t.Fatalf("expected snapshot of handle %d, got %s %+v", existing, snapshot.Type, create)
	}
	if create.Offset != [3]float32{16, 0, 32} || create.Buffers.QuadCount() != 2 {
		t.Fatalf("snapshot lost mesh data: %+v", create)
	}
	if snapshot.Seq <= hello.Seq {
		t.Fatalf("sequence numbers must increase: %d then %d", hello.Seq, snapshot.Seq)
	}

	waitFor(t, func() bool { return stream.Subscribers() == 1 })

	if _, ok := stream.UpdateMesh(existing, testBuffers(1)); !ok {
		t.Fatalf("UpdateMesh rejected a live handle")
	}
	update := readEnvelope(t, conn)
	var u MeshUpdate
	if err := json.Unmarshal(update.Payload, &u); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if update.Type != MessageMeshUpdate || u.Handle != uint64(existing) || u.Buffers.QuadCount() != 1 {
		t.Fatalf("unexpected update %s %+v", update.Type, u)
	}

	stream.DeleteMesh(existing)
	del := readEnvelope(t, conn)
	if del.Type != MessageMeshDelete {
		t.Fatalf("expected delete, got %s", del.Type)
	}
	if stream.Live() != 0 {
		t.Fatalf("expected no live meshes, got %d", stream.Live())
	}
	if _, ok := stream.UpdateMesh(existing, testBuffers(1)); ok {
		t.Fatalf("UpdateMesh accepted a deleted handle")
	}
}

func TestMeshStreamAttachReservesSnapshot(t *testing.T) {
	stream := NewMeshStream(StreamOptions{ChunkEdge: 16, QueueSize: 4}, nil)
	for i := 0; i < 3; i++ {
		stream.CreateMesh(testBuffers(2), mgl32.Vec3{float32(i) * 16, 0, 0})
	}
	sub, err := stream.attach()
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(sub.backlog) != 4 || len(sub.out) != 0 {
		t.Fatalf("expected hello plus 3 creates held back, got backlog=%d queued=%d", len(sub.backlog), len(sub.out))
	}
	if sub.backlog[0].msgType != MessageHello {
		t.Fatalf("expected hello first, got %s", sub.backlog[0].msgType)
	}
	for i := 1; i < len(sub.backlog); i++ {
		if sub.backlog[i].msgType != MessageMeshCreate || sub.backlog[i].seq != sub.backlog[i-1].seq+1 {
			t.Fatalf("backlog entry %d out of order: %+v", i, sub.backlog[i])
		}
	}

	stream.CreateMesh(testBuffers(1), mgl32.Vec3{})
	select {
	case data := <-sub.out:
		env, err := Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if last := sub.backlog[len(sub.backlog)-1].seq; env.Seq != last+1 {
			t.Fatalf("live message seq %d should follow snapshot seq %d", env.Seq, last)
		}
	default:
		t.Fatalf("live create was not queued")
	}
}

func TestMeshStreamDropsSlowSubscribers(t *testing.T) {
	stream := NewMeshStream(StreamOptions{QueueSize: 1}, nil)
	sub, err := stream.attach()
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	// The hello waits in the backlog; the first create fills the queue.
	stream.CreateMesh(testBuffers(1), mgl32.Vec3{})
	select {
	case <-sub.done:
		t.Fatalf("subscriber dropped before its queue filled")
	default:
	}

	h := stream.CreateMesh(testBuffers(1), mgl32.Vec3{})
	select {
	case <-sub.done:
	default:
		t.Fatalf("slow subscriber was not dropped")
	}
	if stream.Subscribers() != 0 || stream.Dropped() != 1 {
		t.Fatalf("expected the subscriber removed, got %d live and %d dropped", stream.Subscribers(), stream.Dropped())
	}
	if h == 0 || stream.Live() != 2 {
		t.Fatalf("renderer state must not depend on viewers")
	}
}

func TestMeshStreamCloseRefusesViewers(t *testing.T) {
	stream := NewMeshStream(StreamOptions{}, nil)
	sub, err := stream.attach()
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	stream.Close()
	select {
	case <-sub.done:
	default:
		t.Fatalf("Close did not disconnect the subscriber")
	}
	if _, err := stream.attach(); err == nil {
		t.Fatalf("attach after Close should fail")
	}
}
