package octree

import (
	"errors"

	"go.uber.org/zap"
)

// ErrPoolExhausted is returned when the pool's hard node cap is reached.
var ErrPoolExhausted = errors.New("octree: node pool exhausted")

const pageSize = 512

// Handle addresses a node in a Pool. The generation guards against use after
// release: once a slot is recycled, every older handle to it is invalid. The
// zero Handle never refers to a node.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the empty handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

type slot struct {
	node Node
	gen  uint32
	live bool
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Created  uint64
	Reused   uint64
	Returned uint64
	Live     uint64
	Free     uint64
}

// Pool is an arena of octree nodes with a free list. Slots are allocated in
// fixed pages so node pointers stay valid while the arena grows.
//
// A Pool is not safe for concurrent use. It belongs to the goroutine that
// owns the chunks built on it.
type Pool struct {
	pages    []*[pageSize]slot
	free     []uint32
	maxNodes uint64
	logger   *zap.Logger

	created  uint64
	reused   uint64
	returned uint64
}

// NewPool creates a pool. maxNodes caps the number of distinct nodes ever
// allocated; zero means unlimited.
func NewPool(maxNodes int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxNodes < 0 {
		maxNodes = 0
	}
	return &Pool{
		maxNodes: uint64(maxNodes),
		logger:   logger,
	}
}

func (p *Pool) slot(index uint32) *slot {
	return &p.pages[index/pageSize][index%pageSize]
}

// Acquire returns a canonical leaf (air, no children) at the given origin and
// size, reusing a released node when one is available.
func (p *Pool) Acquire(x, y, z, size int32) (Handle, error) {
	var index uint32
	if n := len(p.free); n > 0 {
		index = p.free[n-1]
		p.free = p.free[:n-1]
		p.reused++
	} else {
		if p.maxNodes > 0 && p.created >= p.maxNodes {
			return Handle{}, ErrPoolExhausted
		}
		index = uint32(p.created)
		if int(index/pageSize) >= len(p.pages) {
			p.pages = append(p.pages, new([pageSize]slot))
		}
		p.created++
	}
	s := p.slot(index)
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	s.node = Node{X: x, Y: y, Z: z, Size: size, Leaf: true}
	return Handle{index: index, gen: s.gen}, nil
}

// Release returns h and every live node beneath it to the pool. The caller
// must drop its reference; the handle is invalid afterwards. Releasing a zero
// or stale handle does nothing.
func (p *Pool) Release(h Handle) {
	s, ok := p.lookup(h)
	if !ok {
		if !h.IsZero() {
			p.logger.Debug("release of stale octree handle ignored",
				zap.Uint32("index", h.index), zap.Uint32("generation", h.gen))
		}
		return
	}
	for _, child := range s.node.Children {
		if !child.IsZero() {
			p.Release(child)
		}
	}
	s.node = Node{}
	s.live = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	p.free = append(p.free, h.index)
	p.returned++
}

// Node dereferences h. The pointer must not be retained across calls that
// release the node.
func (p *Pool) Node(h Handle) (*Node, bool) {
	s, ok := p.lookup(h)
	if !ok {
		return nil, false
	}
	return &s.node, true
}

// Valid reports whether h refers to a live node.
func (p *Pool) Valid(h Handle) bool {
	_, ok := p.lookup(h)
	return ok
}

func (p *Pool) lookup(h Handle) (*slot, bool) {
	if h.IsZero() || uint64(h.index) >= p.created {
		return nil, false
	}
	s := p.slot(h.index)
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return s, true
}

// Stats returns the current counters. Created == Live+Free and
// Created+Reused == Live+Returned always hold.
func (p *Pool) Stats() Stats {
	free := uint64(len(p.free))
	return Stats{
		Created:  p.created,
		Reused:   p.reused,
		Returned: p.returned,
		Live:     p.created - free,
		Free:     free,
	}
}
