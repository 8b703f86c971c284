package internal

// Participant identifies one side of a conversation. The ID is issued by the
// server at signup, or minted locally for guests.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChatMessage is the json shape of a single appended message. Ts (epoch
// millis) and Seq are assigned by the message log at acceptance time; Seq is
// the room's append position starting at 1. System notices travel with Seq 0
// and are never part of the log.
type ChatMessage struct {
	Room   string `json:"room"`
	UserID string `json:"user_id,omitempty"`
	User   string `json:"user"`
	Body   string `json:"body"`
	Ts     int64  `json:"ts"`
	Seq    int64  `json:"seq,omitempty"`
}

const (
	eventHistory = "history"
	eventChat    = "chat"
	eventSystem  = "system"
)

// FeedEvent is the envelope for every frame the server pushes on a room feed.
// The first frame after subscribing is always a history snapshot: the room's
// total message count plus the most recent messages in append order. Every
// later frame carries exactly one new message, never the room state.
type FeedEvent struct {
	Kind    string        `json:"kind"`
	Room    string        `json:"room,omitempty"`
	Message *ChatMessage  `json:"message,omitempty"`
	Total   int64         `json:"total,omitempty"`
	History []ChatMessage `json:"history,omitempty"`
}
