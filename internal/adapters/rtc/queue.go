package rtc

import "sync"

// signalQueue is an unbounded FIFO between the read pump and a worker, so
// reading the socket never waits on slow handlers.
type signalQueue struct {
	mu    sync.Mutex
	items []envelope
	wake  chan struct{}
}

func newSignalQueue() *signalQueue {
	return &signalQueue{wake: make(chan struct{}, 1)}
}

func (q *signalQueue) push(env envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *signalQueue) pop() (envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return envelope{}, false
	}
	env := q.items[0]
	q.items[0] = envelope{}
	q.items = q.items[1:]
	return env, true
}

// drain feeds queued items to fn until done is closed.
func (q *signalQueue) drain(done <-chan struct{}, fn func(envelope)) {
	for {
		for env, ok := q.pop(); ok; env, ok = q.pop() {
			select {
			case <-done:
				return
			default:
			}
			fn(env)
		}
		select {
		case <-done:
			return
		case <-q.wake:
		}
	}
}
