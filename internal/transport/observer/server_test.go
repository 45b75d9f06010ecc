package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"terrarium.ai/internal/deliberation"
	"terrarium.ai/internal/observerproto"
	persistlog "terrarium.ai/internal/persistence/log"
	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/scenario"
	"terrarium.ai/internal/sim/engine"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/tuning"
)

type fakeHistory struct {
	calls []string
}

func (f *fakeHistory) AgentHistory(ctx context.Context, id string, limit int) ([]event.Event, error) {
	f.calls = append(f.calls, id)
	return []event.Event{{Epoch: 3, Kind: event.Rested, Agent: id}}, nil
}

func newTestServer(t *testing.T) (*engine.Scheduler, *httptest.Server, *fakeHistory) {
	t.Helper()
	dir := t.TempDir()
	sc := scenario.Defaults()
	sc.World.Width, sc.World.Height = 5, 5
	sc.Agents.Count = 3
	st, err := sc.NewState()
	if err != nil {
		t.Fatal(err)
	}
	tun := tuning.Defaults()
	tun.Engine.EpochsPerSecond = 0.2
	evLog := persistlog.NewEventLog(filepath.Join(dir, "events"), 100)
	quiet := log.New(io.Discard, "", 0)
	s, err := engine.New(engine.Config{
		State: st,
		Meta:  snapshot.Meta{RunID: "obs-test", Scenario: "test", Tuning: tun},
		Decider: deliberation.DeciderFunc(func(ctx context.Context, req deliberation.Request) (string, error) {
			return "ACTION: REST", nil
		}),
		Events:      evLog,
		Snapshots:   snapshot.Store{Dir: filepath.Join(dir, "snapshots")},
		StartPaused: true,
		Logger:      quiet,
	})
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = s.Run(context.Background()) }()
	deadline := time.Now().Add(5 * time.Second)
	for s.State() == engine.Idle {
		if time.Now().After(deadline) {
			t.Fatalf("engine did not start")
		}
		time.Sleep(time.Millisecond)
	}

	hist := &fakeHistory{}
	ts := httptest.NewServer(NewServer(s, hist, quiet).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Stop()
		<-s.Done()
		_ = evLog.Close()
	})
	return s, ts, hist
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func control(t *testing.T, url string, body string) (int, observerproto.ControlResponse) {
	t.Helper()
	resp, err := http.Post(url+"/v1/control", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out observerproto.ControlResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestServer_ReadViews(t *testing.T) {
	_, ts, hist := newTestServer(t)

	var st observerproto.Status
	if code := getJSON(t, ts.URL+"/v1/status", &st); code != http.StatusOK {
		t.Fatalf("status code=%d", code)
	}
	if st.RunID != "obs-test" || st.State != "paused" || st.Agents != 3 {
		t.Fatalf("status=%+v", st)
	}

	var w observerproto.WorldView
	getJSON(t, ts.URL+"/v1/world", &w)
	if w.Width != 5 || w.Height != 5 || len(w.Cells) != 25 {
		t.Fatalf("world %dx%d cells=%d", w.Width, w.Height, len(w.Cells))
	}

	var agents []observerproto.AgentView
	getJSON(t, ts.URL+"/v1/agents", &agents)
	if len(agents) != 3 {
		t.Fatalf("agents=%d", len(agents))
	}
	var one observerproto.AgentView
	if code := getJSON(t, ts.URL+"/v1/agents/"+agents[0].ID, &one); code != http.StatusOK || one.ID != agents[0].ID {
		t.Fatalf("agent code=%d view=%+v", code, one)
	}
	if code := getJSON(t, ts.URL+"/v1/agents/nobody", nil); code != http.StatusNotFound {
		t.Fatalf("unknown agent code=%d", code)
	}

	var hv []observerproto.EventView
	if code := getJSON(t, ts.URL+"/v1/agents/"+agents[0].ID+"/history?limit=5", &hv); code != http.StatusOK {
		t.Fatalf("history code=%d", code)
	}
	if len(hv) != 1 || hv[0].Epoch != 3 || len(hist.calls) != 1 || hv[0].Summary == "" {
		t.Fatalf("history=%+v calls=%v", hv, hist.calls)
	}
	if code := getJSON(t, ts.URL+"/v1/events?limit=0", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit code=%d", code)
	}
}

func TestServer_Control(t *testing.T) {
	s, ts, _ := newTestServer(t)

	code, resp := control(t, ts.URL, `{"command":"step"}`)
	if code != http.StatusOK || !resp.OK || resp.Status.Epoch != 1 {
		t.Fatalf("step code=%d resp=%+v", code, resp)
	}
	var evs []observerproto.EventView
	getJSON(t, ts.URL+"/v1/events?limit=2", &evs)
	if len(evs) != 2 {
		t.Fatalf("events=%d", len(evs))
	}

	if code, _ := control(t, ts.URL, `{"command":"set_speed","speed":0}`); code != http.StatusBadRequest {
		t.Fatalf("set_speed 0 code=%d", code)
	}
	if code, _ := control(t, ts.URL, `{"command":"dance"}`); code != http.StatusBadRequest {
		t.Fatalf("unknown command code=%d", code)
	}
	if code, _ := control(t, ts.URL, `not json`); code != http.StatusBadRequest {
		t.Fatalf("bad body code=%d", code)
	}
	if code, _ := control(t, ts.URL, `{"command":"pause"}`); code != http.StatusConflict {
		t.Fatalf("pause while paused code=%d", code)
	}
	if code, resp := control(t, ts.URL, `{"command":"stop"}`); code != http.StatusOK || resp.Status.State != "stopped" {
		t.Fatalf("stop code=%d resp=%+v", code, resp)
	}
	<-s.Done()
	if code, _ := control(t, ts.URL, `{"command":"resume"}`); code != http.StatusConflict {
		t.Fatalf("resume after stop code=%d", code)
	}
}

func TestServer_RejectsNonLoopback(t *testing.T) {
	srv := NewServer(nil, nil, log.New(io.Discard, "", 0))
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code=%d", rec.Code)
	}
}

func TestStream_SubscribeAndFilter(t *testing.T) {
	s, ts, _ := newTestServer(t)
	agents := s.Views().Agents
	want := agents[1].ID

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	sub, _ := json.Marshal(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, Agents: []string{want}})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatal(err)
	}

	// The subscription is registered by the handler goroutine; step until
	// a message arrives.
	got := make(chan observerproto.EpochMsg, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, b, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m observerproto.EpochMsg
		if json.Unmarshal(b, &m) == nil {
			got <- m
		}
	}()
	var m observerproto.EpochMsg
	deadline := time.After(5 * time.Second)
wait:
	for {
		if err := s.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
		select {
		case m = <-got:
			break wait
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no epoch message")
		}
	}
	if m.Type != "EPOCH" || m.Digest == "" || len(m.Agents) != 1 || m.Agents[0].ID != want {
		t.Fatalf("msg=%+v", m)
	}
	for _, e := range m.Events {
		if e.Agent != "" && e.Agent != want && e.Target != want {
			t.Fatalf("unfiltered event %+v", e)
		}
	}
}

func TestStream_RejectsMissingHandshake(t *testing.T) {
	_, ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO"}`)); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}
