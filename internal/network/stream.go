package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelstream/internal/mesher"
	"voxelstream/internal/renderer"
)

// StreamOptions tunes a MeshStream.
type StreamOptions struct {
	ChunkEdge    int
	QueueSize    int           // live messages buffered per subscriber while it catches up
	WriteTimeout time.Duration // per message
}

func (o *StreamOptions) normalize() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

type meshRecord struct {
	offset  mgl32.Vec3
	buffers *mesher.Buffers
}

// backlogMessage is a snapshot message whose seq was reserved at attach time.
// It is encoded by the viewer's own goroutine.
type backlogMessage struct {
	seq     uint64
	msgType MessageType
	payload any
}

type subscriber struct {
	id      uint64
	backlog []backlogMessage
	out     chan []byte
	done    chan struct{}
	once    sync.Once
}

func (s *subscriber) drop() {
	s.once.Do(func() { close(s.done) })
}

// MeshStream is a renderer that forwards mesh changes to websocket viewers.
// Viewers receive a hello followed by the full current mesh set, then every
// change in order. A viewer whose queue fills up is disconnected; the
// coordinator never waits on the network.
type MeshStream struct {
	opts     StreamOptions
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	seq         uint64
	nextHandle  renderer.MeshHandle
	meshes      map[renderer.MeshHandle]meshRecord
	subscribers map[uint64]*subscriber
	nextSub     uint64
	closed      bool

	dropped atomic.Uint64
}

var _ renderer.Renderer = (*MeshStream)(nil)

func NewMeshStream(opts StreamOptions, logger *zap.Logger) *MeshStream {
	opts.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MeshStream{
		opts:   opts,
		logger: logger.With(zap.String("component", "mesh-stream")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		meshes:      make(map[renderer.MeshHandle]meshRecord),
		subscribers: make(map[uint64]*subscriber),
	}
}

func (s *MeshStream) CreateMesh(buf *mesher.Buffers, offset mgl32.Vec3) renderer.MeshHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	h := s.nextHandle
	s.meshes[h] = meshRecord{offset: offset, buffers: buf}
	s.broadcastLocked(MessageMeshCreate, MeshCreate{Handle: uint64(h), Offset: offset, Buffers: buf})
	return h
}

func (s *MeshStream) UpdateMesh(h renderer.MeshHandle, buf *mesher.Buffers) (renderer.MeshHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.meshes[h]
	if !ok {
		return 0, false
	}
	rec.buffers = buf
	s.meshes[h] = rec
	s.broadcastLocked(MessageMeshUpdate, MeshUpdate{Handle: uint64(h), Buffers: buf})
	return h, true
}

func (s *MeshStream) DeleteMesh(h renderer.MeshHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meshes[h]; !ok {
		return
	}
	delete(s.meshes, h)
	s.broadcastLocked(MessageMeshDelete, MeshDelete{Handle: uint64(h)})
}

// Live returns the number of meshes currently published.
func (s *MeshStream) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meshes)
}

// Subscribers returns the number of connected viewers.
func (s *MeshStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Dropped returns how many viewers were disconnected for falling behind.
func (s *MeshStream) Dropped() uint64 {
	return s.dropped.Load()
}

func encodeMessage(seq uint64, msgType MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return Encode(Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Seq:       seq,
		Payload:   raw,
	})
}

func (s *MeshStream) broadcastLocked(msgType MessageType, payload any) {
	if len(s.subscribers) == 0 {
		return
	}
	s.seq++
	data, err := encodeMessage(s.seq, msgType, payload)
	if err != nil {
		s.logger.Error("encode mesh message", zap.String("type", string(msgType)), zap.Error(err))
		return
	}
	for id, sub := range s.subscribers {
		select {
		case sub.out <- data:
		default:
			s.logger.Warn("dropping slow mesh viewer", zap.Uint64("subscriber", id))
			delete(s.subscribers, id)
			sub.drop()
			s.dropped.Add(1)
		}
	}
}

// attach registers a subscriber and reserves sequence numbers for the hello
// and the current mesh set. Buffers are never modified once handed to the
// renderer, so the snapshot shares them and is encoded outside the lock.
func (s *MeshStream) attach() (*subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("mesh stream closed")
	}
	s.nextSub++
	sub := &subscriber{
		id:      s.nextSub,
		backlog: make([]backlogMessage, 0, len(s.meshes)+1),
		out:     make(chan []byte, s.opts.QueueSize),
		done:    make(chan struct{}),
	}

	s.seq++
	sub.backlog = append(sub.backlog, backlogMessage{seq: s.seq, msgType: MessageHello, payload: Hello{
		ProtocolVersion: ProtocolVersion,
		ChunkEdge:       s.opts.ChunkEdge,
		Meshes:          len(s.meshes),
	}})
	for h, rec := range s.meshes {
		s.seq++
		sub.backlog = append(sub.backlog, backlogMessage{seq: s.seq, msgType: MessageMeshCreate,
			payload: MeshCreate{Handle: uint64(h), Offset: rec.offset, Buffers: rec.buffers}})
	}
	s.subscribers[sub.id] = sub
	return sub, nil
}

func (s *MeshStream) detach(sub *subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub.id)
	s.mu.Unlock()
	sub.drop()
}

// Handler upgrades viewers to websocket connections.
func (s *MeshStream) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub, err := s.attach()
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(time.Second))
			return
		}
		defer s.detach(sub)
		s.logger.Info("mesh viewer connected", zap.Uint64("subscriber", sub.id), zap.String("remote", r.RemoteAddr))

		// Reader: viewers send nothing we act on, but reading surfaces
		// disconnects and keeps control frames flowing.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					sub.drop()
					return
				}
			}
		}()

		write := func(msg []byte) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("mesh viewer write failed", zap.Uint64("subscriber", sub.id), zap.Error(err))
				return false
			}
			return true
		}
		bye := func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			s.logger.Info("mesh viewer disconnected", zap.Uint64("subscriber", sub.id))
		}

		for _, m := range sub.backlog {
			select {
			case <-sub.done:
				bye()
				return
			default:
			}
			msg, err := encodeMessage(m.seq, m.msgType, m.payload)
			if err != nil {
				s.logger.Error("encode mesh snapshot", zap.Uint64("subscriber", sub.id), zap.Error(err))
				return
			}
			if !write(msg) {
				return
			}
		}
		sub.backlog = nil

		for {
			select {
			case <-sub.done:
				bye()
				return
			case msg := <-sub.out:
				if !write(msg) {
					return
				}
			}
		}
	}
}

// ListenAndServe serves the stream on addr until ctx is cancelled.
func (s *MeshStream) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the stream on ln until ctx is cancelled.
func (s *MeshStream) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/meshes", s.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("mesh stream listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close disconnects every viewer and refuses new ones.
func (s *MeshStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, sub := range s.subscribers {
		delete(s.subscribers, id)
		sub.drop()
	}
}
