package internal

import "sync/atomic"

type Metrics struct {
	signups      atomic.Uint64
	logins       atomic.Uint64
	roomsCreated atomic.Uint64
	messages     atomic.Uint64
	activeConns  atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSignup() {
	m.signups.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncRoomCreated() {
	m.roomsCreated.Add(1)
}

func (m *Metrics) IncMessage() {
	m.messages.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) snapshot() map[string]any {
	return map[string]any{
		"signups_total":       m.signups.Load(),
		"logins_total":        m.logins.Load(),
		"rooms_created_total": m.roomsCreated.Load(),
		"messages_total":      m.messages.Load(),
		"active_connections":  m.activeConns.Load(),
	}
}
