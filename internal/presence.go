package internal

import "sync"

// PresenceTracker keeps counts of active feed connections per room.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]int)}
}

func (p *PresenceTracker) Increment(roomKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[roomKey]++
	return p.online[roomKey]
}

func (p *PresenceTracker) Decrement(roomKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if count, ok := p.online[roomKey]; ok {
		if count <= 1 {
			delete(p.online, roomKey)
			return 0
		}
		p.online[roomKey] = count - 1
		return p.online[roomKey]
	}
	return 0
}

// Occupancy reports how many connections a room currently has.
func (p *PresenceTracker) Occupancy(roomKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[roomKey]
}

// ActiveRooms reports how many rooms have at least one connection.
func (p *PresenceTracker) ActiveRooms() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}
