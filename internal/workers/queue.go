package workers

import "container/heap"

type task[Req, Res any] struct {
	id       TaskID
	priority float64
	seq      uint64
	req      Req
	done     func(Res, error)
	index    int
}

// taskHeap orders tasks by priority, then by submission order.
type taskHeap[Req, Res any] []*task[Req, Res]

func (h taskHeap[Req, Res]) Len() int { return len(h) }

func (h taskHeap[Req, Res]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap[Req, Res]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap[Req, Res]) Push(x any) {
	t := x.(*task[Req, Res])
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap[Req, Res]) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h *taskHeap[Req, Res]) push(t *task[Req, Res]) {
	heap.Push(h, t)
}

func (h *taskHeap[Req, Res]) pop() *task[Req, Res] {
	return heap.Pop(h).(*task[Req, Res])
}

func (h *taskHeap[Req, Res]) remove(t *task[Req, Res]) {
	heap.Remove(h, t.index)
}
