package internal

import "sync"

// the hub keeps track of live room feeds by invite code and creates or
// removes them as clients come and go. Room existence truth lives in the
// store; a hub entry only means someone is currently listening.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*Room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// ensures there is a live Room feed for the given code.
func (hub *Hub) getOrCreateRoom(key string) *Room {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[key]; exists {
		select {
		case <-room.stopped:
			// torn down after the last leaver; rebuild below
		default:
			return room
		}
	}
	room := newRoom(key)
	hub.rooms[key] = room
	go room.run()
	return room
}

// subscribe attaches a consumer to the room's feed, creating it if needed.
// The last leaver can stop a feed between lookup and attach; when that
// happens the subscription comes back already closed and the attach is
// retried against a fresh feed.
func (hub *Hub) subscribe(key string) (*Room, *Subscription) {
	for {
		room := hub.getOrCreateRoom(key)
		sub := room.Subscribe()
		select {
		case <-sub.Done():
			continue
		default:
			return room, sub
		}
	}
}

// getRoom retrieves a room feed by key (may return nil).
func (hub *Hub) getRoom(key string) *Room {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.rooms[key]
}

// deleteRoomIfEmpty drops the feed and stops its run loop once the last
// subscriber is gone. Messages stay in the store; the feed is rebuilt on the
// next connect.
func (hub *Hub) deleteRoomIfEmpty(key string) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[key]; exists {
		if room.size() == 0 {
			delete(hub.rooms, key)
			room.stop()
		}
	}
}
