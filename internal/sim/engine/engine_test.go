package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"terrarium.ai/internal/deliberation"
	"terrarium.ai/internal/deliberation/heuristic"
	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/scenario"
	"terrarium.ai/internal/sim/engine"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/tuning"
)

type memLog struct {
	mu      sync.Mutex
	batches [][]event.Event
	fail    atomic.Bool
}

func (l *memLog) WriteEpoch(evs []event.Event) error {
	if l.fail.Load() {
		return errors.New("disk full")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, append([]event.Event(nil), evs...))
	return nil
}

func (l *memLog) Batches() [][]event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]event.Event(nil), l.batches...)
}

type memSnaps struct {
	mu    sync.Mutex
	snaps map[uint64]*snapshot.Snapshot
}

func (m *memSnaps) WriteSnapshot(snap *snapshot.Snapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps == nil {
		m.snaps = map[uint64]*snapshot.Snapshot{}
	}
	e := snap.Header.Epoch
	if _, ok := m.snaps[e]; ok {
		return "", snapshot.ErrExists
	}
	m.snaps[e] = snap
	return fmt.Sprintf("mem://%d", e), nil
}

func (m *memSnaps) Get(epoch uint64) (*snapshot.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[epoch]
	return s, ok
}

type harness struct {
	s     *engine.Scheduler
	log   *memLog
	snaps *memSnaps
	errCh chan error
}

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Engine.EpochsPerSecond = 1000
	t.Engine.DeliberationTimeoutMs = 500
	t.Persistence.SnapshotEvery = 1
	return t
}

func testState(t *testing.T) *state.State {
	t.Helper()
	sc := scenario.Defaults()
	sc.World.Width, sc.World.Height = 6, 6
	sc.Agents.Count = 4
	sc.Simulation.Seed = 7
	s, err := sc.NewState()
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return s
}

func start(t *testing.T, d deliberation.Decider, tun tuning.Tuning, maxEpochs int, paused bool) *harness {
	t.Helper()
	return startWith(t, testState(t), d, tun, maxEpochs, paused)
}

func startWith(t *testing.T, st *state.State, d deliberation.Decider, tun tuning.Tuning, maxEpochs int, paused bool) *harness {
	t.Helper()
	h := &harness{log: &memLog{}, snaps: &memSnaps{}, errCh: make(chan error, 1)}
	s, err := engine.New(engine.Config{
		State:       st,
		Meta:        snapshot.Meta{RunID: "run-test", Scenario: "test", Seed: 7, MaxEpochs: maxEpochs, Tuning: tun},
		Decider:     d,
		Events:      h.log,
		Snapshots:   h.snaps,
		StartPaused: paused,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	h.s = s
	go func() { h.errCh <- s.Run(context.Background()) }()
	waitUntil(t, func() bool { return s.State() != engine.Idle })
	t.Cleanup(func() {
		_ = s.Stop()
		<-s.Done()
	})
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatalf("Run did not return")
		return nil
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func rest() deliberation.Decider {
	return deliberation.DeciderFunc(func(ctx context.Context, req deliberation.Request) (string, error) {
		return "ACTION: REST", nil
	})
}

func TestScheduler_StepRunsExactlyOneEpoch(t *testing.T) {
	h := start(t, rest(), testTuning(), 0, true)
	if h.s.State() != engine.Paused {
		t.Fatalf("state=%s want paused", h.s.State())
	}
	if err := h.s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.s.Status().Epoch; got != 1 {
		t.Fatalf("epoch=%d want 1", got)
	}
	if err := h.s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	b := h.log.Batches()
	if len(b) != 2 || b[0][0].Epoch != 1 || b[1][0].Epoch != 2 {
		t.Fatalf("batches=%d", len(b))
	}
	if h.s.State() != engine.Paused {
		t.Fatalf("state after step=%s", h.s.State())
	}
	for _, batch := range b {
		if batch[0].Kind != event.EpochStart || batch[len(batch)-1].Kind != event.EpochEnd {
			t.Fatalf("batch not framed by EpochStart/EpochEnd: %+v", batch)
		}
	}
	if _, ok := h.snaps.Get(0); !ok {
		t.Fatalf("missing epoch 0 snapshot")
	}
	v := h.s.Views()
	if v.World.Epoch != 2 || len(v.Agents) != 4 {
		t.Fatalf("views epoch=%d agents=%d", v.World.Epoch, len(v.Agents))
	}
}

func TestScheduler_Transitions(t *testing.T) {
	tun := testTuning()
	tun.Engine.EpochsPerSecond = 0.5
	h := start(t, rest(), tun, 0, true)
	s := h.s

	if err := s.Pause(); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("Pause while paused err=%v", err)
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := s.Resume(); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("Resume while running err=%v", err)
	}
	if err := s.Step(); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("Step while running err=%v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != engine.Stopped || s.Status().State != "stopped" {
		t.Fatalf("state=%s status=%s", s.State(), s.Status().State)
	}
	for name, err := range map[string]error{"pause": s.Pause(), "resume": s.Resume(), "stop": s.Stop()} {
		if !errors.Is(err, engine.ErrStopped) || !errors.Is(err, engine.ErrInvalidTransition) {
			t.Fatalf("%s after stop err=%v", name, err)
		}
	}
}

func TestScheduler_IdleCommands(t *testing.T) {
	s, err := engine.New(engine.Config{
		State:     testState(t),
		Meta:      snapshot.Meta{Tuning: testTuning()},
		Decider:   rest(),
		Events:    &memLog{},
		Snapshots: &memSnaps{},
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.RunID() == "" {
		t.Fatalf("run id not assigned")
	}
	if err := s.Pause(); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("Pause while idle err=%v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop while idle: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run after stop: %v", err)
	}
	if s.Status().Epoch != 0 {
		t.Fatalf("epoch advanced after stop")
	}
}

func TestScheduler_SetSpeedRejectsNonPositive(t *testing.T) {
	h := start(t, rest(), testTuning(), 0, true)
	before := h.s.Status()
	for _, v := range []float64{0, -1, math.NaN()} {
		if err := h.s.SetSpeed(v); !errors.Is(err, engine.ErrInvalidSpeed) {
			t.Fatalf("SetSpeed(%v) err=%v", v, err)
		}
	}
	after := h.s.Status()
	if after.Speed != before.Speed || after.State != before.State || after.Epoch != before.Epoch {
		t.Fatalf("status changed: before=%+v after=%+v", before, after)
	}
	if err := h.s.SetSpeed(5); err != nil {
		t.Fatalf("SetSpeed(5): %v", err)
	}
	if got := h.s.Status().Speed; got != 5 {
		t.Fatalf("speed=%v want 5", got)
	}
}

func TestScheduler_PersistenceFailurePausesAndRetries(t *testing.T) {
	tun := testTuning()
	tun.Engine.EpochsPerSecond = 0.5
	h := start(t, rest(), tun, 0, true)
	s := h.s

	h.log.fail.Store(true)
	err := s.Step()
	if err == nil || errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("Step err=%v want persistence error", err)
	}
	st := s.Status()
	if st.State != "paused" || !st.Pending || st.LastError == "" || st.Epoch != 1 {
		t.Fatalf("status=%+v", st)
	}

	// Still failing: the retry fails and no new epoch runs.
	if err := s.Step(); err == nil {
		t.Fatalf("expected retry failure")
	}
	if s.Status().Epoch != 1 {
		t.Fatalf("epoch advanced past an unwritten epoch")
	}
	if err := s.Resume(); err == nil || s.State() != engine.Paused {
		t.Fatalf("Resume err=%v state=%s", err, s.State())
	}

	h.log.fail.Store(false)
	if err := s.Step(); err != nil {
		t.Fatalf("Step after recovery: %v", err)
	}
	b := h.log.Batches()
	if len(b) != 2 || b[0][0].Epoch != 1 || b[1][0].Epoch != 2 {
		t.Fatalf("batches=%d", len(b))
	}
	st = s.Status()
	if st.Pending || st.LastError != "" {
		t.Fatalf("status after recovery=%+v", st)
	}

	h.log.fail.Store(true)
	_ = s.Step()
	h.log.fail.Store(false)
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume retry: %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := len(h.log.Batches()); got != 3 {
		t.Fatalf("batches=%d want 3", got)
	}
}

func TestScheduler_StopDuringDeliberationCommitsNothing(t *testing.T) {
	called := make(chan struct{}, 16)
	block := deliberation.DeciderFunc(func(ctx context.Context, req deliberation.Request) (string, error) {
		called <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	})
	tun := testTuning()
	tun.Engine.DeliberationTimeoutMs = 60000
	h := start(t, block, tun, 0, false)

	<-called
	if err := h.s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(h.log.Batches()); n != 0 {
		t.Fatalf("abandoned epoch was logged: %d batches", n)
	}
	if st := h.s.Status(); st.Epoch != 0 || st.State != "stopped" {
		t.Fatalf("status=%+v", st)
	}
}

func TestScheduler_StopsAtMaxEpochs(t *testing.T) {
	tun := testTuning()
	tun.Persistence.SnapshotEvery = 3
	h := start(t, heuristic.New(7), tun, 5, false)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := h.s.Status()
	if st.State != "stopped" || st.Epoch != 5 || !strings.Contains(st.StopCause, "max_epochs") {
		t.Fatalf("status=%+v", st)
	}
	b := h.log.Batches()
	if len(b) != 5 {
		t.Fatalf("batches=%d want 5", len(b))
	}
	for _, e := range []uint64{0, 3, 5} {
		snap, ok := h.snaps.Get(e)
		if !ok {
			t.Fatalf("missing snapshot %d", e)
		}
		if e == 0 {
			continue
		}
		restored, err := snap.State()
		if err != nil {
			t.Fatal(err)
		}
		end := b[e-1][len(b[e-1])-1]
		if end.Payload.Digest != restored.Digest() {
			t.Fatalf("epoch %d: logged digest differs from snapshot", e)
		}
	}
	if _, ok := h.snaps.Get(4); ok {
		t.Fatalf("unexpected snapshot at epoch 4")
	}
}

func TestScheduler_TimeoutFallsBackToWait(t *testing.T) {
	slow := deliberation.DeciderFunc(func(ctx context.Context, req deliberation.Request) (string, error) {
		if req.Agent == "A1" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ACTION: REST", nil
	})
	tun := testTuning()
	tun.Engine.DeliberationTimeoutMs = 30
	h := start(t, slow, tun, 0, true)
	if err := h.s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	b := h.log.Batches()[0]
	var failed, rested int
	for _, e := range b {
		switch e.Kind {
		case event.ActionFailed:
			if e.Agent != "A1" || e.Payload.Reason != deliberation.ReasonTimeout {
				t.Fatalf("unexpected failure %+v", e)
			}
			failed++
		case event.Rested:
			if e.Agent == "A1" {
				t.Fatalf("timed-out agent acted")
			}
			rested++
		}
	}
	if failed != 1 || rested != 3 {
		t.Fatalf("failed=%d rested=%d", failed, rested)
	}
}

func TestScheduler_StarvedAgentSitsOutItsDeathEpoch(t *testing.T) {
	st := testState(t)
	weak, _ := st.Agents.Get("A1")
	weak.Health, weak.Hunger = 0.1, 1

	var mu sync.Mutex
	asked := map[string]bool{}
	d := deliberation.DeciderFunc(func(ctx context.Context, req deliberation.Request) (string, error) {
		mu.Lock()
		asked[req.Agent] = true
		mu.Unlock()
		return "ACTION: GATHER", nil
	})
	h := startWith(t, st, d, testTuning(), 0, true)
	if err := h.s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	b := h.log.Batches()[0]
	if b[0].Kind != event.EpochStart || b[0].Payload.Alive != 4 {
		t.Fatalf("epoch start=%+v", b[0])
	}
	if b[1].Kind != event.Died || b[1].Agent != "A1" || b[1].Payload.Cause != "starvation" {
		t.Fatalf("first event=%+v want starvation death of A1", b[1])
	}
	for _, e := range b[2:] {
		if e.Agent == "A1" {
			t.Fatalf("starved agent took part in resolution: %+v", e)
		}
	}
	if end := b[len(b)-1]; end.Payload.Alive != 3 {
		t.Fatalf("epoch end alive=%d want 3", end.Payload.Alive)
	}
	mu.Lock()
	defer mu.Unlock()
	if asked["A1"] || len(asked) != 3 {
		t.Fatalf("deliberated for %v", asked)
	}
}

func TestScheduler_FoodConservationAndBounds(t *testing.T) {
	tun := testTuning()
	h := start(t, heuristic.New(11), tun, 30, false)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	last := h.s.Status().Epoch
	b := h.log.Batches()
	if uint64(len(b)) != last {
		t.Fatalf("batches=%d epochs=%d", len(b), last)
	}
	prevSnap, _ := h.snaps.Get(0)
	prev, err := prevSnap.State()
	if err != nil {
		t.Fatal(err)
	}
	for e := uint64(1); e <= last; e++ {
		snap, ok := h.snaps.Get(e)
		if !ok {
			t.Fatalf("missing snapshot %d", e)
		}
		next, err := snap.State()
		if err != nil {
			t.Fatal(err)
		}
		ate := 0
		for _, ev := range b[e-1] {
			if ev.Kind == event.Ate {
				ate++
			}
		}
		regen := 0
		for _, c := range prev.Grid.Cells {
			regen += int(math.Ceil(float64(c.Capacity) * tun.Physics.RegenFraction))
		}
		got, was := next.TotalFood(), prev.TotalFood()
		if got > was+regen-ate || got < was-ate {
			t.Fatalf("epoch %d: food %d from %d (regen<=%d, ate %d)", e, got, was, regen, ate)
		}
		for _, a := range next.Agents.All() {
			for name, v := range map[string]float64{"health": a.Health, "hunger": a.Hunger, "energy": a.Energy} {
				if v < 0 || v > 1 {
					t.Fatalf("epoch %d agent %s %s=%v", e, a.ID, name, v)
				}
			}
		}
		prev = next
	}
}

func TestScheduler_SubscribeReceivesCommittedEpoch(t *testing.T) {
	h := start(t, rest(), testTuning(), 0, true)
	ch, cancel := h.s.Subscribe(4)
	defer cancel()
	if err := h.s.Step(); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-ch:
		b := h.log.Batches()[0]
		if msg.Epoch != 1 || msg.Digest != b[len(b)-1].Payload.Digest || len(msg.Events) != len(b) {
			t.Fatalf("msg=%+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no epoch message")
	}
}
