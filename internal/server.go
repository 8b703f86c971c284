package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tchat/internal/storage"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 5

	// how much history a freshly subscribed client receives.
	historyLimit = 50

	// how often a generated invite code is retried on collision before the
	// storage layer is declared unavailable.
	maxRoomCodeAttempts = 5

	defaultTokenTTL = 30 * 24 * time.Hour
)

var errUnauthorized = errors.New("unauthorized")

// Server owns the shared store, the per-room feed hub, and the auth surface.
type Server struct {
	store       *storage.Store
	hub         *Hub
	metrics     *Metrics
	presence    *PresenceTracker
	authLimiter *RateLimiter
	tokenTTL    time.Duration
}

func NewServer(store *storage.Store) *Server {
	return &Server{
		store:       store,
		hub:         NewHub(),
		metrics:     NewMetrics(),
		presence:    NewPresenceTracker(),
		authLimiter: NewRateLimiter(10, time.Minute),
		tokenTTL:    defaultTokenTTL,
	}
}

// MetricsHandler serves the server's counters plus live presence as JSON.
func (s *Server) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		payload := s.metrics.snapshot()
		payload["active_rooms"] = s.presence.ActiveRooms()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})
}

// createRoom generates an invite code, retrying on the (rare) collision with
// a live room, and persists the room with the creator as first member.
func (s *Server) createRoom(ctx context.Context, creator Participant) (string, error) {
	for attempt := 0; attempt < maxRoomCodeAttempts; attempt++ {
		code := newRoomCode()
		err := s.store.CreateRoom(ctx, code, creator.ID, creator.Name)
		if errors.Is(err, storage.ErrRoomExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", fmt.Errorf("could not allocate a room code after %d attempts", maxRoomCodeAttempts)
}

// publishChat appends a message to the room's log and enqueues the resulting
// event on the feed. The room's publish lock is held across both steps so the
// feed delivers events in exactly the log's append order.
func (s *Server) publishChat(ctx context.Context, room *Room, from Participant, body string) error {
	room.publishMu.Lock()
	defer room.publishMu.Unlock()
	msg, err := s.store.AppendMessage(ctx, room.key, from.ID, from.Name, body)
	if err != nil {
		return err
	}
	event := FeedEvent{
		Kind: eventChat,
		Room: room.key,
		Message: &ChatMessage{
			Room:   room.key,
			UserID: msg.FromID,
			User:   msg.FromName,
			Body:   msg.Content,
			Ts:     msg.Ts,
			Seq:    msg.Seq,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.metrics.IncMessage()
	room.publish(payload)
	return nil
}

// publishSystem sends an ephemeral notice on the feed. Notices never touch
// the message log, so they carry no sequence number.
func (s *Server) publishSystem(room *Room, body string) {
	event := FeedEvent{
		Kind: eventSystem,
		Room: room.key,
		Message: &ChatMessage{
			Room: room.key,
			User: "system",
			Body: body,
			Ts:   time.Now().UnixMilli(),
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	room.publish(payload)
}

type authContext struct {
	Token    string
	UserID   string
	Username string
}

// authenticateRequest resolves a Bearer token into a logged-in user.
func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errUnauthorized
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return nil, errUnauthorized
	}
	session, err := s.store.GetSession(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if session == nil || session.ExpiresAt.Before(time.Now()) {
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{Token: token, UserID: user.ID, Username: user.Username}, nil
}

// resolveParticipant identifies the caller either through a session token or,
// for guests, through uid/name query parameters minted client-side.
func (s *Server) resolveParticipant(r *http.Request) (Participant, error) {
	if r.Header.Get("Authorization") != "" {
		authCtx, err := s.authenticateRequest(r)
		if err != nil {
			return Participant{}, err
		}
		return Participant{ID: authCtx.UserID, Name: authCtx.Username}, nil
	}
	uid := strings.TrimSpace(r.URL.Query().Get("uid"))
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if uid == "" || name == "" {
		return Participant{}, errUnauthorized
	}
	return Participant{ID: uid, Name: name}, nil
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the server is addressed by out-of-band invite codes; origin checks
		// add nothing for terminal clients.
		return true
	},
}

// ServeWS admits a participant into a room and attaches the connection to the
// room's change feed. The first frame written is the history snapshot taken
// after the subscription is live, so the client can reconcile the overlap by
// sequence number without ever seeing a gap.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomKey := r.URL.Query().Get("room")
	if !isValidRoomCode(roomKey) {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}
	participant, err := s.resolveParticipant(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	joined, err := s.store.JoinRoom(r.Context(), roomKey, participant.ID, participant.Name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRoomNotFound):
			http.Error(w, "room not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrRoomFull):
			http.Error(w, "room is full", http.StatusForbidden)
		default:
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	room, sub := s.hub.subscribe(roomKey)

	// snapshot strictly after subscribing: anything the snapshot misses is on
	// the feed, anything they both cover is deduplicated client-side by seq.
	total, tail, err := s.store.Snapshot(context.Background(), roomKey, historyLimit)
	if err != nil {
		log.Printf("snapshot error for room %s: %v", roomKey, err)
		sub.Close()
		_ = conn.Close()
		return
	}
	history := FeedEvent{Kind: eventHistory, Room: roomKey, Total: total, History: make([]ChatMessage, 0, len(tail))}
	for _, m := range tail {
		history.History = append(history.History, ChatMessage{
			Room:   m.RoomCode,
			UserID: m.FromID,
			User:   m.FromName,
			Body:   m.Content,
			Ts:     m.Ts,
			Seq:    m.Seq,
		})
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(history); err != nil {
		sub.Close()
		_ = conn.Close()
		return
	}

	client := newWSClient(room, conn, sub, participant)
	s.metrics.IncConn()
	occupancy := s.presence.Increment(roomKey)

	go client.writePump()
	go client.readPump(s)

	if joined {
		s.publishSystem(room, fmt.Sprintf("%s joined the room · %d connected", participant.Name, occupancy))
	} else {
		s.publishSystem(room, fmt.Sprintf("%s reconnected · %d connected", participant.Name, occupancy))
	}
}

// wsClient binds one websocket connection to one feed subscription.
type wsClient struct {
	room         *Room
	conn         *websocket.Conn
	sub          *Subscription
	participant  Participant
	messageTimes []time.Time
}

func newWSClient(room *Room, conn *websocket.Conn, sub *Subscription, participant Participant) *wsClient {
	return &wsClient{
		room:         room,
		conn:         conn,
		sub:          sub,
		participant:  participant,
		messageTimes: make([]time.Time, 0, rateLimitBurst),
	}
}

func (client *wsClient) readPump(s *Server) {
	defer func() {
		s.publishSystem(client.room, fmt.Sprintf("%s left the room", client.participant.Name))
		client.sub.Close()
		client.conn.Close()
		s.metrics.DecConn()
		s.presence.Decrement(client.room.key)
		s.hub.deleteRoomIfEmpty(client.room.key)
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// normal close or read error; the deferred cleanup runs.
			break
		}
		var inbound ChatMessage
		if err := json.Unmarshal(payload, &inbound); err != nil {
			continue
		}
		body := strings.TrimSpace(inbound.Body)
		if body == "" {
			continue
		}
		if !client.allowMessage(time.Now()) {
			client.notify("You're sending messages too quickly. Please wait a moment and try again.")
			continue
		}
		if err := s.publishChat(context.Background(), client.room, client.participant, body); err != nil {
			if errors.Is(err, storage.ErrRoomNotFound) {
				client.notify("This room no longer exists.")
				break
			}
			log.Printf("append error in room %s: %v", client.room.key, err)
			client.notify("Message could not be delivered.")
		}
	}
}

func (client *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case payload := <-client.sub.Events():
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-client.sub.Done():
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sliding-window rate limit per connection.

func (client *wsClient) allowMessage(now time.Time) bool {
	cutoff := now.Add(-rateLimitWindow)
	idx := 0
	for _, ts := range client.messageTimes {
		if ts.After(cutoff) {
			client.messageTimes[idx] = ts
			idx++
		}
	}
	client.messageTimes = client.messageTimes[:idx]
	if len(client.messageTimes) >= rateLimitBurst {
		return false
	}
	client.messageTimes = append(client.messageTimes, now)
	return true
}

// notify pushes a system notice to this client only, best effort.
func (client *wsClient) notify(body string) {
	event := FeedEvent{
		Kind: eventSystem,
		Room: client.room.key,
		Message: &ChatMessage{
			Room: client.room.key,
			User: "system",
			Body: body,
			Ts:   time.Now().UnixMilli(),
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case client.sub.events <- payload:
	default:
	}
}
