package internal

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

// bubbletea messages for the session's asynchronous events.
type (
	authResultMsg struct {
		participant Participant
		token       string
		err         error
	}
	logoutMsg struct{ err error }
	roomCreatedMsg struct {
		code string
		err  error
	}
	existsMsg struct {
		key    string
		exists bool
		err    error
	}
	connectedMsg     struct{}
	connectFailedMsg struct{ err error }
	feedMsg          FeedEvent
	errorMsg         error
	noticeExpiredMsg struct{ seq int }
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Ctrl+C bails out from any screen; the connection teardown is
		// idempotent so repeated quit triggers are safe.
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeConn()
			return model, tea.Quit
		}
		return model.updateKey(typedMessage)

	case authResultMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.mode = modeAuthMenu
			model.blurInput()
			return model, model.setNotice("Sign-in failed: " + typedMessage.err.Error())
		}
		model.participant = typedMessage.participant
		model.token = typedMessage.token
		model.mode = modeRoomMenu
		model.blurInput()
		return model, nil

	case logoutMsg:
		model.token = ""
		model.participant = Participant{}
		model.mode = modeAuthMenu
		if typedMessage.err != nil {
			return model, model.setNotice("Logout failed: " + typedMessage.err.Error())
		}
		return model, nil

	case roomCreatedMsg:
		model.loading = false
		if typedMessage.err != nil {
			return model, model.setNotice("Could not create room: " + typedMessage.err.Error())
		}
		return model, model.enterChat(typedMessage.code)

	case existsMsg:
		model.loading = false
		if typedMessage.err != nil {
			return model, model.setNotice("Error checking room: " + typedMessage.err.Error())
		}
		if !typedMessage.exists {
			return model, model.setNotice("Room not found. Check the code and try again.")
		}
		return model, model.enterChat(typedMessage.key)

	case connectedMsg:
		model.isConnected = true
		model.connectionError = nil
		return model, model.readOnceCmd()

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		model.closeConn()
		return model, tea.Quit

	case feedMsg:
		model.applyFeedEvent(FeedEvent(typedMessage))
		return model, model.readOnceCmd()

	case errorMsg:
		model.connectionError = typedMessage
		model.closeConn()
		return model, tea.Quit

	case noticeExpiredMsg:
		if typedMessage.seq == model.noticeSeq {
			model.notice = ""
		}
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) updateKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeAuthMenu:
		switch key.String() {
		case "1", "l", "L":
			model.authIntent = authIntentLogin
			model.mode = modeAuthUsername
			return model, model.focusInput("username> ", "Enter your username…", model.authUsername, false)
		case "2", "s", "S":
			model.authIntent = authIntentSignup
			model.mode = modeAuthUsername
			return model, model.focusInput("username> ", "Pick a username…", model.authUsername, false)
		case "3", "g", "G":
			model.authIntent = authIntentGuest
			model.mode = modeAuthUsername
			return model, model.focusInput("name> ", "Enter a display name…", model.authUsername, false)
		case "q", "Q":
			return model, tea.Quit
		}
		return model, nil

	case modeAuthUsername:
		switch key.Type {
		case tea.KeyEsc:
			model.mode = modeAuthMenu
			model.blurInput()
			return model, nil
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, model.setNotice("Name cannot be empty.")
			}
			if model.authIntent == authIntentGuest {
				// guests mint their identity locally; no credential round trip.
				model.participant = Participant{ID: uuid.NewString(), Name: trimmed}
				model.authUsername = trimmed
				model.mode = modeRoomMenu
				model.blurInput()
				return model, nil
			}
			model.authUsername = trimmed
			model.mode = modeAuthPassword
			return model, model.focusInput("password> ", "Enter your password…", "", true)
		}

	case modeAuthPassword:
		switch key.Type {
		case tea.KeyEsc:
			model.mode = modeAuthMenu
			model.blurInput()
			return model, nil
		case tea.KeyEnter:
			password := model.textInput.Value()
			if err := validateCredentials(model.authUsername, password); err != nil {
				return model, model.setNotice(err.Error())
			}
			model.loading = true
			model.mode = modeAuthMenu
			model.blurInput()
			return model, model.authCmd(model.authIntent, model.authUsername, password)
		}

	case modeRoomMenu:
		switch key.String() {
		case "1", "c", "C":
			model.loading = true
			return model, model.createRoomCmd()
		case "2", "j", "J":
			model.mode = modeJoinPrompt
			return model, model.focusInput("room> ", "Enter an invite code…", "", false)
		case "l", "L":
			if model.token != "" {
				return model, model.logoutCmd()
			}
			model.participant = Participant{}
			model.mode = modeAuthMenu
			return model, nil
		case "q", "Q":
			return model, tea.Quit
		}
		return model, nil

	case modeJoinPrompt:
		switch key.Type {
		case tea.KeyEsc:
			model.mode = modeRoomMenu
			model.blurInput()
			return model, nil
		case tea.KeyEnter:
			trimmed := strings.ToUpper(strings.TrimSpace(model.textInput.Value()))
			if !isValidRoomCode(trimmed) {
				return model, model.setNotice("Invite codes are 7 letters and digits, like K3X9QAB.")
			}
			model.loading = true
			return model, model.existsCmd(trimmed)
		}

	case modeChat:
		switch key.Type {
		case tea.KeyEsc:
			model.closeConn()
			return model, tea.Quit
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			if trimmed == "/quit" || trimmed == "/exit" {
				model.closeConn()
				return model, tea.Quit
			}
			if !model.isConnected {
				return model, nil
			}
			model.textInput.SetValue("")
			return model, model.sendCmd(trimmed)
		}
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

// enterChat switches to the chat screen with a fresh reconciler and opens the
// feed. History arrives as the first frame of the subscription.
func (model *TUIModel) enterChat(roomKey string) tea.Cmd {
	model.roomKey = roomKey
	model.mode = modeChat
	model.messages = nil
	model.reconciler = newFeedReconciler()
	focusCmd := model.focusInput("> ", "Type a message…", "", false)
	return tea.Batch(focusCmd, model.connectCmd())
}

// applyFeedEvent routes one feed frame through the reconciler.
func (model *TUIModel) applyFeedEvent(event FeedEvent) {
	switch event.Kind {
	case eventHistory:
		model.messages = model.reconciler.LoadSnapshot(event.Total, event.History)
	case eventChat, eventSystem:
		if event.Message == nil {
			return
		}
		if model.reconciler.Observe(*event.Message) {
			model.messages = append(model.messages, *event.Message)
		}
	}
}

func (model *TUIModel) focusInput(prompt, placeholder, value string, masked bool) tea.Cmd {
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	model.textInput.SetValue(value)
	if masked {
		model.textInput.EchoMode = textinput.EchoPassword
	} else {
		model.textInput.EchoMode = textinput.EchoNormal
	}
	return model.textInput.Focus()
}

func (model *TUIModel) blurInput() {
	model.textInput.SetValue("")
	model.textInput.Blur()
	model.textInput.Prompt = ""
	model.textInput.Placeholder = ""
	model.textInput.EchoMode = textinput.EchoNormal
}
