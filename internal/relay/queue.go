package relay

import "sync"

// chunkQueue is the unbounded FIFO between the boundary, which pushes
// microphone chunks, and the feed loop, which pops them. notify carries at
// most one pending wake-up.
type chunkQueue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{notify: make(chan struct{}, 1)}
}

func (q *chunkQueue) push(chunk []byte) {
	q.mu.Lock()
	q.items = append(q.items, chunk)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *chunkQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	chunk := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return chunk, true
}

func (q *chunkQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *chunkQueue) reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
	select {
	case <-q.notify:
	default:
	}
}
