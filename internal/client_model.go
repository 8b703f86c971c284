package internal

import (
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// TUIModel holds the bubbletea state for one chat session: the input box, the
// reconciled message view, the feed connection, and the session identity. The
// model is the session context. It owns the connection and subscription and
// tears them down exactly once on quit; nothing lives in package globals.
type TUIModel struct {
	textInput     textinput.Model
	messages      []ChatMessage
	serverJoinURL string
	roomKey       string
	participant   Participant
	token         string

	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	reconciler      *feedReconciler
	isConnected     bool
	connectionError error

	mode         appMode
	authIntent   authIntent
	authUsername string
	loading      bool

	// notice is a short-lived error/info line; noticeSeq invalidates stale
	// expiry ticks when a newer notice replaces an older one.
	notice    string
	noticeSeq int
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeRoomMenu
	modeJoinPrompt
	modeChat
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
	authIntentGuest
)

func NewTUIModel(serverJoinURL, username string) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Prompt = ""

	return &TUIModel{
		textInput:     input,
		serverJoinURL: serverJoinURL,
		authUsername:  username,
		mode:          modeAuthMenu,
		reconciler:    newFeedReconciler(),
	}
}

func (model *TUIModel) Init() tea.Cmd {
	return nil
}

// closeConn shuts the feed connection down. Harmless when already closed or
// never opened, so every quit path can call it.
func (model *TUIModel) closeConn() {
	if model.websocketConn == nil {
		return
	}
	conn := model.websocketConn
	model.websocketConn = nil
	model.isConnected = false
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}
