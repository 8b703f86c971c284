package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const noticeDuration = 4 * time.Second

// setNotice installs a short-lived status line and schedules its expiry.
func (model *TUIModel) setNotice(text string) tea.Cmd {
	model.notice = text
	model.noticeSeq++
	seq := model.noticeSeq
	return tea.Tick(noticeDuration, func(time.Time) tea.Msg {
		return noticeExpiredMsg{seq: seq}
	})
}

// authCmd runs signup and/or login against the server. Signup is immediately
// followed by a login so the session lands in room selection either way.
func (model *TUIModel) authCmd(intent authIntent, username, password string) tea.Cmd {
	return func() tea.Msg {
		base, err := httpBaseFromJoinURL(model.serverJoinURL)
		if err != nil {
			return authResultMsg{err: err}
		}
		if intent == authIntentSignup {
			if err := apiSignup(base, username, password); err != nil {
				return authResultMsg{err: err}
			}
		}
		resp, err := apiLogin(base, username, password)
		if err != nil {
			return authResultMsg{err: err}
		}
		return authResultMsg{
			participant: Participant{ID: resp.UserID, Name: resp.Username},
			token:       resp.Token,
		}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	token := model.token
	return func() tea.Msg {
		base, err := httpBaseFromJoinURL(model.serverJoinURL)
		if err != nil {
			return logoutMsg{err: err}
		}
		return logoutMsg{err: apiLogout(base, token)}
	}
}

func (model *TUIModel) createRoomCmd() tea.Cmd {
	token, guest := model.token, model.participant
	return func() tea.Msg {
		base, err := httpBaseFromJoinURL(model.serverJoinURL)
		if err != nil {
			return roomCreatedMsg{err: err}
		}
		code, err := apiCreateRoom(base, token, guest)
		return roomCreatedMsg{code: code, err: err}
	}
}

// existsCmd probes the room before committing to a join attempt.
func (model *TUIModel) existsCmd(key string) tea.Cmd {
	return func() tea.Msg {
		base, err := httpBaseFromJoinURL(model.serverJoinURL)
		if err != nil {
			return existsMsg{key: key, err: err}
		}
		exists, err := apiRoomExists(base, key)
		return existsMsg{key: key, exists: exists, err: err}
	}
}

// connectCmd dials the room feed. The server's first frame is the history
// snapshot; everything after is live.
func (model *TUIModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		joinURL, err := buildJoinURL(model.serverJoinURL, model.roomKey, model.token, model.participant)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		header := http.Header{}
		if model.token != "" {
			header.Set("Authorization", "Bearer "+model.token)
		}
		conn, _, err := websocket.DefaultDialer.Dial(joinURL, header)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		model.websocketConn = conn
		return connectedMsg{}
	}
}

// readOnceCmd pulls the next frame off the feed and hands it to Update.
func (model *TUIModel) readOnceCmd() tea.Cmd {
	return func() tea.Msg {
		if model.websocketConn == nil {
			return errorMsg(fmt.Errorf("feed not connected"))
		}
		messageType, payload, err := model.websocketConn.ReadMessage()
		if err != nil {
			return errorMsg(err)
		}
		if messageType != websocket.TextMessage {
			return feedMsg(FeedEvent{})
		}
		var event FeedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return feedMsg(FeedEvent{})
		}
		return feedMsg(event)
	}
}

// sendCmd forwards a composed message to the log. The message is not rendered
// locally; it appears when the feed echoes it back, at the same position every
// participant sees.
func (model *TUIModel) sendCmd(body string) tea.Cmd {
	return func() tea.Msg {
		if model.websocketConn == nil {
			return errorMsg(fmt.Errorf("feed not connected"))
		}
		outbound := ChatMessage{Room: model.roomKey, Body: body}
		encoded, err := json.Marshal(outbound)
		if err != nil {
			return errorMsg(err)
		}
		model.writeMutex.Lock()
		err = model.websocketConn.WriteMessage(websocket.TextMessage, encoded)
		model.writeMutex.Unlock()
		if err != nil {
			return errorMsg(err)
		}
		return nil
	}
}

// RunClient is the bubbletea entry point. A connection error that killed the
// session is surfaced after the program exits.
func RunClient(serverJoinURL, username string) error {
	model := NewTUIModel(serverJoinURL, username)
	program := tea.NewProgram(model)
	final, err := program.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(*TUIModel); ok && m.connectionError != nil {
		return fmt.Errorf("connection lost: %w", m.connectionError)
	}
	return nil
}

func buildJoinURL(base, roomKey, token string, guest Participant) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("room", roomKey)
	if token == "" {
		query.Set("uid", guest.ID)
		query.Set("name", guest.Name)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
