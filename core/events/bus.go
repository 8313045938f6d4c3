package events

import "sync"

const defaultSubscriptionBuffer = 64

// Bus fans emitted events out to any number of subscribers. Slow subscribers
// never block the emitter: when a subscription buffer is full the event is
// dropped for that subscriber and the drop is counted.
type Bus struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan Event
	dropped map[uint64]uint64
	closed  bool
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[uint64]chan Event),
		dropped: make(map[uint64]uint64),
	}
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped[id]++
		}
	}
}

// Subscribe registers a new subscriber and returns its channel together with a
// cancel function. The channel is closed when cancel is invoked or the bus
// shuts down.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, defaultSubscriptionBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			delete(b.dropped, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Dropped reports how many events have been discarded across all live
// subscribers since the bus was created.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total uint64
	for _, n := range b.dropped {
		total += n
	}
	return total
}

// Close shuts the bus down, closing every subscriber channel. Subsequent
// emissions are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
