package workers

import "sync"

type completion[Res any] struct {
	res  Res
	err  error
	done func(Res, error)
}

// completions collects finished tasks until the coordinator drains them.
type completions[Res any] struct {
	mu      sync.Mutex
	pending []completion[Res]
}

func (q *completions[Res]) enqueue(c completion[Res]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, c)
}

func (q *completions[Res]) drain(max int) []completion[Res] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	if max <= 0 || max >= len(q.pending) {
		batch := q.pending
		q.pending = nil
		return batch
	}
	batch := append([]completion[Res](nil), q.pending[:max]...)
	clear(q.pending[:max])
	q.pending = q.pending[max:]
	return batch
}

func (q *completions[Res]) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
