package internal

import "sync"

// Subscription is one consumer of a room's change feed. Events() yields
// encoded FeedEvent payloads in the order the room accepted them. Close is
// idempotent; after it returns no further events are delivered.
type Subscription struct {
	events    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	room      *Room
}

// Events returns the delivery channel. The channel is never closed; Done
// signals the end of the subscription instead.
func (sub *Subscription) Events() <-chan []byte {
	return sub.events
}

// Done is closed when the subscription has been terminated, either by Close
// or because the subscriber fell too far behind.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Close terminates delivery and detaches from the room.
func (sub *Subscription) Close() {
	sub.markClosed()
	sub.room.detach(sub)
}

func (sub *Subscription) markClosed() {
	sub.closeOnce.Do(func() {
		close(sub.done)
	})
}

// a Room fans incoming feed events out to all current subscriptions while
// preserving the order in which they were published.
type Room struct {
	key         string
	subscribers map[*Subscription]bool
	register    chan *Subscription
	unregister  chan *Subscription
	broadcast   chan []byte
	stopped     chan struct{}
	stopOnce    sync.Once
	// held across append-to-log plus enqueue-to-feed so feed order always
	// matches log order (see Server.publishChat).
	publishMu sync.Mutex
	mutex     sync.RWMutex
}

func newRoom(key string) *Room {
	return &Room{
		key:         key,
		subscribers: make(map[*Subscription]bool),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		broadcast:   make(chan []byte, 256),
		stopped:     make(chan struct{}),
	}
}

// Subscribe attaches a new consumer. Every event published after Subscribe
// returns will be delivered, until the subscription closes.
func (room *Room) Subscribe() *Subscription {
	sub := &Subscription{
		events: make(chan []byte, 256),
		done:   make(chan struct{}),
		room:   room,
	}
	select {
	case room.register <- sub:
	case <-room.stopped:
		sub.markClosed()
	}
	return sub
}

func (room *Room) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.subscribers)
}

func (room *Room) stop() {
	room.stopOnce.Do(func() {
		close(room.stopped)
	})
}

// publish enqueues a payload for fanout. Never blocks once the room has been
// stopped.
func (room *Room) publish(payload []byte) {
	select {
	case room.broadcast <- payload:
	case <-room.stopped:
	}
}

func (room *Room) detach(sub *Subscription) {
	select {
	case room.unregister <- sub:
	case <-room.stopped:
	}
}

func (room *Room) run() {
	for {
		select {
		case sub := <-room.register:
			room.mutex.Lock()
			room.subscribers[sub] = true
			room.mutex.Unlock()
		case sub := <-room.unregister:
			room.mutex.Lock()
			if _, exists := room.subscribers[sub]; exists {
				delete(room.subscribers, sub)
				sub.markClosed()
			}
			room.mutex.Unlock()
		case payload := <-room.broadcast:
			// fan out in arrival order. A subscriber whose buffer is full is
			// dropped whole rather than skipping single events, so a live
			// subscription never sees a gap.
			room.mutex.Lock()
			for sub := range room.subscribers {
				select {
				case sub.events <- payload:
				default:
					delete(room.subscribers, sub)
					sub.markClosed()
				}
			}
			room.mutex.Unlock()
		case <-room.stopped:
			room.mutex.Lock()
			for sub := range room.subscribers {
				delete(room.subscribers, sub)
				sub.markClosed()
			}
			room.mutex.Unlock()
			return
		}
	}
}
