package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"terrarium.ai/internal/observerproto"
	"terrarium.ai/internal/sim/engine"
	"terrarium.ai/internal/sim/event"
)

// Engine is the part of the scheduler the observer surface reads and
// controls.
type Engine interface {
	Views() *engine.Views
	Subscribe(buf int) (<-chan *observerproto.EpochMsg, func())
	Pause() error
	Resume() error
	Step() error
	SetSpeed(v float64) error
	Stop() error
}

// History serves per-agent event history, typically from the SQLite index.
type History interface {
	AgentHistory(ctx context.Context, id string, limit int) ([]event.Event, error)
}

type Server struct {
	eng  Engine
	hist History
	log  *log.Logger

	upgrader websocket.Upgrader
}

// NewServer serves eng. hist may be nil, in which case history requests
// return 503.
func NewServer(eng Engine, hist History, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		eng:  eng,
		hist: hist,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			// Origin is not checked; only loopback clients get this far.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the /v1 routes, restricted to loopback clients.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/world", s.handleWorld)
	mux.HandleFunc("GET /v1/agents", s.handleAgents)
	mux.HandleFunc("GET /v1/agents/{id}", s.handleAgent)
	mux.HandleFunc("GET /v1/agents/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("POST /v1/control", s.handleControl)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	return loopbackOnly(mux)
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.eng.Views().Status)
}

func (s *Server) handleWorld(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.eng.Views().World)
}

func (s *Server) handleAgents(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.eng.Views().Agents)
}

func (s *Server) handleAgent(rw http.ResponseWriter, r *http.Request) {
	a, ok := s.eng.Views().Agent(r.PathValue("id"))
	if !ok {
		http.Error(rw, "unknown agent", http.StatusNotFound)
		return
	}
	writeJSON(rw, http.StatusOK, a)
}

func (s *Server) handleEvents(rw http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(rw, r, 50)
	if !ok {
		return
	}
	evs := s.eng.Views().Events
	if len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	writeJSON(rw, http.StatusOK, evs)
}

func (s *Server) handleHistory(rw http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		http.Error(rw, "history index disabled", http.StatusServiceUnavailable)
		return
	}
	v := s.eng.Views()
	id := r.PathValue("id")
	if _, ok := v.Agent(id); !ok {
		http.Error(rw, "unknown agent", http.StatusNotFound)
		return
	}
	limit, ok := parseLimit(rw, r, 50)
	if !ok {
		return
	}
	evs, err := s.hist.AgentHistory(r.Context(), id, limit)
	if err != nil {
		s.log.Printf("observer: history %s: %v", id, err)
		http.Error(rw, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, http.StatusOK, eventViews(v, evs))
}

func (s *Server) handleControl(rw http.ResponseWriter, r *http.Request) {
	var req observerproto.ControlRequest
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.controlReply(rw, http.StatusBadRequest, errors.New("bad request body"))
		return
	}

	var err error
	switch req.Command {
	case observerproto.CommandPause:
		err = s.eng.Pause()
	case observerproto.CommandResume:
		err = s.eng.Resume()
	case observerproto.CommandStep:
		err = s.eng.Step()
	case observerproto.CommandSetSpeed:
		err = s.eng.SetSpeed(req.Speed)
	case observerproto.CommandStop:
		err = s.eng.Stop()
	default:
		s.controlReply(rw, http.StatusBadRequest, errors.New("unknown command"))
		return
	}

	code := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrInvalidSpeed):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrStopped):
		code = http.StatusConflict
	default:
		code = http.StatusInternalServerError
	}
	if err != nil {
		s.log.Printf("observer: control %s: %v", req.Command, err)
	}
	s.controlReply(rw, code, err)
}

func (s *Server) controlReply(rw http.ResponseWriter, code int, err error) {
	resp := observerproto.ControlResponse{OK: err == nil, Status: s.eng.Views().Status}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(rw, code, resp)
}

func parseLimit(rw http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		http.Error(rw, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	if n > 1000 {
		n = 1000
	}
	return n, true
}

func eventViews(v *engine.Views, evs []event.Event) []observerproto.EventView {
	names := make(map[string]string, len(v.Agents))
	for _, a := range v.Agents {
		names[a.ID] = a.Name
	}
	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}
	out := make([]observerproto.EventView, 0, len(evs))
	for _, e := range evs {
		out = append(out, observerproto.EventView{
			Epoch:   e.Epoch,
			Kind:    string(e.Kind),
			Agent:   e.Agent,
			Target:  e.Target,
			Summary: event.Describe(e, "", name),
		})
	}
	return out
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
