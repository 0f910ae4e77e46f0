package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxWorkers caps the default unit count.
const MaxWorkers = 8

var (
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("workers: pool closed")
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("workers: queue full")
	// ErrTaskTimeout resolves a task that outlived the watchdog budget.
	ErrTaskTimeout = errors.New("workers: task timed out")
	// ErrTaskPanicked resolves a task whose handler panicked.
	ErrTaskPanicked = errors.New("workers: task panicked")
)

// TaskID identifies a submitted task.
type TaskID = uuid.UUID

// Handler runs one request on a worker goroutine. ctx is cancelled when the
// task times out or the pool closes.
type Handler[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Options configures a Pool.
type Options struct {
	Workers          int
	QueueCap         int
	Timeout          time.Duration
	WatchdogInterval time.Duration
}

// Stats is a snapshot of pool activity. Failed includes timed out and
// panicked tasks.
type Stats struct {
	Workers   int
	Queued    int
	Running   int
	Pending   int
	Completed uint64
	Failed    uint64
	TimedOut  uint64
	Replaced  uint64
}

type unit[Req, Res any] struct {
	id      int
	current *task[Req, Res]
	started time.Time
	cancel  context.CancelFunc
	retired bool
}

// Pool runs tasks on a fixed set of goroutines fed by a priority queue.
// Completion callbacks never run on worker goroutines: the owner collects
// them with Poll, typically after a receive on Ready.
type Pool[Req, Res any] struct {
	name    string
	handler Handler[Req, Res]
	opts    Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	queue    taskHeap[Req, Res]
	queued   map[TaskID]*task[Req, Res]
	units    map[int]*unit[Req, Res]
	nextUnit int
	seq      uint64
	closed   bool

	completed uint64
	failed    uint64
	timedOut  uint64
	replaced  uint64

	done  completions[Res]
	ready chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
}

// New starts a pool. A zero Timeout disables the watchdog.
func New[Req, Res any](name string, handler Handler[Req, Res], opts Options, logger *zap.Logger) *Pool[Req, Res] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = min(runtime.GOMAXPROCS(0), MaxWorkers)
	}
	if opts.Timeout > 0 && opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = max(opts.Timeout/4, 10*time.Millisecond)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[Req, Res]{
		name:    name,
		handler: handler,
		opts:    opts,
		logger:  logger.With(zap.String("pool", name)),
		ctx:     ctx,
		cancel:  cancel,
		queued:  make(map[TaskID]*task[Req, Res]),
		units:   make(map[int]*unit[Req, Res]),
		ready:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	p.mu.Lock()
	for i := 0; i < opts.Workers; i++ {
		p.spawnLocked()
	}
	p.mu.Unlock()

	if opts.Timeout > 0 {
		go p.watchdog()
	}
	return p
}

// Submit queues req. Lower priorities run first; equal priorities run in
// submission order. done may be nil. Submit never blocks.
func (p *Pool[Req, Res]) Submit(priority float64, req Req, done func(Res, error)) (TaskID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return TaskID{}, ErrPoolClosed
	}
	if p.opts.QueueCap > 0 && len(p.queue) >= p.opts.QueueCap {
		return TaskID{}, ErrQueueFull
	}
	p.seq++
	t := &task[Req, Res]{
		id:       uuid.New(),
		priority: priority,
		seq:      p.seq,
		req:      req,
		done:     done,
	}
	p.queue.push(t)
	p.queued[t.id] = t
	p.cond.Signal()
	return t.id, nil
}

// Cancel removes a task that has not started yet. Running tasks cannot be
// cancelled; their results should be ignored instead.
func (p *Pool[Req, Res]) Cancel(id TaskID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.queued[id]
	if !ok {
		return false
	}
	p.queue.remove(t)
	delete(p.queued, id)
	return true
}

// Ready is signalled whenever completions are waiting for Poll.
func (p *Pool[Req, Res]) Ready() <-chan struct{} {
	return p.ready
}

// Poll runs up to max completion callbacks on the calling goroutine and
// returns how many ran. max <= 0 drains everything.
func (p *Pool[Req, Res]) Poll(max int) int {
	batch := p.done.drain(max)
	for _, c := range batch {
		if c.done != nil {
			c.done(c.res, c.err)
		}
	}
	if p.done.size() > 0 {
		p.notify()
	}
	return len(batch)
}

// Stats returns current counters.
func (p *Pool[Req, Res]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	running := 0
	for _, u := range p.units {
		if u.current != nil {
			running++
		}
	}
	return Stats{
		Workers:   len(p.units),
		Queued:    len(p.queue),
		Running:   running,
		Pending:   p.done.size(),
		Completed: p.completed,
		Failed:    p.failed,
		TimedOut:  p.timedOut,
		Replaced:  p.replaced,
	}
}

// Close stops every unit and drops queued tasks without calling their
// callbacks. Handlers still running see their context cancelled; Close waits
// for them unless the watchdog already gave up on them.
func (p *Pool[Req, Res]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dropped := len(p.queue)
	p.queue = nil
	clear(p.queued)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	close(p.stop)
	p.wg.Wait()
	if dropped > 0 {
		p.logger.Info("worker pool closed with queued tasks", zap.Int("dropped", dropped))
	}
}

func (p *Pool[Req, Res]) notify() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *Pool[Req, Res]) spawnLocked() {
	p.nextUnit++
	u := &unit[Req, Res]{id: p.nextUnit}
	p.units[u.id] = u
	p.wg.Add(1)
	go p.run(u)
}

func (p *Pool[Req, Res]) run(u *unit[Req, Res]) {
	defer func() {
		p.mu.Lock()
		retired := u.retired
		p.mu.Unlock()
		if !retired {
			p.wg.Done()
		}
	}()
	for {
		t, ctx, ok := p.next(u)
		if !ok {
			return
		}
		res, err := p.execute(ctx, t)
		p.finish(u, t, res, err)
	}
}

func (p *Pool[Req, Res]) next(u *unit[Req, Res]) (*task[Req, Res], context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && !u.retired && len(p.queue) == 0 {
		p.cond.Wait()
	}
	if p.closed || u.retired {
		return nil, nil, false
	}
	t := p.queue.pop()
	delete(p.queued, t.id)

	ctx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.opts.Timeout)
	}
	u.current = t
	u.started = time.Now()
	u.cancel = cancel
	return t, ctx, true
}

func (p *Pool[Req, Res]) execute(ctx context.Context, t *task[Req, Res]) (res Res, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task handler panicked",
				zap.String("task", t.id.String()), zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return p.handler(ctx, t.req)
}

func (p *Pool[Req, Res]) finish(u *unit[Req, Res], t *task[Req, Res], res Res, err error) {
	p.mu.Lock()
	if u.current != t {
		p.mu.Unlock()
		p.logger.Debug("discarding result of retired task", zap.String("task", t.id.String()))
		return
	}
	u.cancel()
	u.current = nil
	u.cancel = nil
	if p.closed {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.done.enqueue(completion[Res]{res: res, err: err, done: t.done})
	p.mu.Unlock()
	p.notify()
}

func (p *Pool[Req, Res]) watchdog() {
	ticker := time.NewTicker(p.opts.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			if p.reap(now) > 0 {
				p.notify()
			}
		}
	}
}

// reap resolves tasks running past the timeout and replaces their units.
func (p *Pool[Req, Res]) reap(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	reaped := 0
	for id, u := range p.units {
		t := u.current
		if t == nil || now.Sub(u.started) < p.opts.Timeout {
			continue
		}
		p.logger.Warn("task exceeded timeout, replacing worker",
			zap.String("task", t.id.String()),
			zap.Int("unit", u.id),
			zap.Duration("elapsed", now.Sub(u.started)))

		u.cancel()
		u.current = nil
		u.retired = true
		delete(p.units, id)
		p.wg.Done()

		var zero Res
		p.done.enqueue(completion[Res]{res: zero, err: fmt.Errorf("%w after %s", ErrTaskTimeout, p.opts.Timeout), done: t.done})
		p.failed++
		p.timedOut++
		p.replaced++
		reaped++
		p.spawnLocked()
	}
	return reaped
}
