package node

import (
	"sync"

	"github.com/eapache/queue"
)

// taskQueue carries work from other goroutines onto the loop goroutine.
// Producers enqueue and poke the loop awake; the loop drains everything on
// its wake notification, so tasks run with the same no-interleaving
// guarantee as event handlers.
type taskQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

// push enqueues one task.
func (t *taskQueue) push(task func()) {
	t.mu.Lock()
	t.q.Add(task)
	t.mu.Unlock()
}

// drain runs every queued task in submission order.
func (t *taskQueue) drain() {
	for {
		t.mu.Lock()
		if t.q.Length() == 0 {
			t.mu.Unlock()
			return
		}
		task := t.q.Remove().(func())
		t.mu.Unlock()
		task()
	}
}
