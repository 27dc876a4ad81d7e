package web

import "sync"

// broadcaster fans status snapshots out to stream listeners. Slow listeners
// miss snapshots rather than stall the control loop.
type broadcaster struct {
	mu       sync.Mutex
	subs     map[int]chan StatusSnapshot
	nextID   int
	last     StatusSnapshot
	haveLast bool
	closed   bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan StatusSnapshot)}
}

func (b *broadcaster) subscribe(buffer int) (int, <-chan StatusSnapshot) {
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan StatusSnapshot, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	return id, ch
}

func (b *broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) publish(snap StatusSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = snap
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
