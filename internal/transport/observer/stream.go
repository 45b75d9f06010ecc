package observer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"terrarium.ai/internal/observerproto"
)

const (
	streamQueue  = 8
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

func (s *Server) handleStream(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Handshake: must send SUBSCRIBE first.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
		return
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
		return
	}
	filter := newAgentFilter(sub.Agents)

	epochs, cancel := s.eng.Subscribe(streamQueue)
	defer cancel()

	// Reader goroutine: drains control frames and detects a closed client.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case m, ok := <-epochs:
			if !ok {
				closeWith(conn, websocket.CloseNormalClosure, "run stopped")
				return
			}
			b, err := json.Marshal(filter.apply(m))
			if err != nil {
				s.log.Printf("observer: encode epoch %d: %v", m.Epoch, err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

// agentFilter narrows an epoch message to the subscribed agents. An empty
// filter passes everything.
type agentFilter map[string]bool

func newAgentFilter(ids []string) agentFilter {
	if len(ids) == 0 {
		return nil
	}
	f := make(agentFilter, len(ids))
	for _, id := range ids {
		f[id] = true
	}
	return f
}

func (f agentFilter) apply(m *observerproto.EpochMsg) *observerproto.EpochMsg {
	if f == nil {
		return m
	}
	out := *m
	out.Agents = nil
	for _, a := range m.Agents {
		if f[a.ID] {
			out.Agents = append(out.Agents, a)
		}
	}
	out.Events = nil
	for _, e := range m.Events {
		if f[e.Agent] || f[e.Target] || e.Agent == "" {
			out.Events = append(out.Events, e)
		}
	}
	return &out
}
