// ABOUTME: Per-key serial executor for gateway event handling
// ABOUTME: Keeps messages of one thread in gateway order while threads run concurrently

package discord

import "sync"

// lanes runs submitted functions one at a time per key, in submission order.
// A key's goroutine exits once its queue drains.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

func (l *lanes) submit(key string, fn func()) {
	l.mu.Lock()
	q, running := l.queues[key]
	l.queues[key] = append(q, fn)
	l.mu.Unlock()

	if !running {
		go l.drain(key)
	}
}

func (l *lanes) drain(key string) {
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		l.queues[key] = q[1:]
		l.mu.Unlock()

		fn()
	}
}

// idle reports whether no key has pending or running work.
func (l *lanes) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues) == 0
}
