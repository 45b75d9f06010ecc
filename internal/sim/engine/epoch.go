package engine

import (
	"context"
	"errors"
	"fmt"

	"terrarium.ai/internal/deliberation"
	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/perception"
	"terrarium.ai/internal/sim/resolve"
)

// pendingWrite is a committed epoch whose records are not all on disk yet.
type pendingWrite struct {
	events     []event.Event
	eventsDone bool
	snap       *snapshot.Snapshot
}

func (s *Scheduler) abandoned(ctx context.Context) bool {
	return s.stopFlag.Load() || ctx.Err() != nil
}

// runEpoch executes tick, starvation, perception, deliberation, resolution and
// belief update, then commits the result in memory and queues its records. It
// reports false when a stop or cancellation abandoned the epoch before
// resolution. Errors returned are fatal.
func (s *Scheduler) runEpoch(ctx context.Context) (bool, error) {
	if s.abandoned(ctx) {
		return false, nil
	}
	epoch := s.st.Epoch + 1
	entering := s.st.Agents.LivingCount()
	res := resolve.New(s.tun.ResolveParamsAt(epoch))
	frozen := s.st.Tick(s.tun.TickParamsAt(epoch))
	starved, err := resolve.Starvations(frozen, res.Params())
	if err != nil {
		return false, fmt.Errorf("epoch %d starvation: %w", epoch, err)
	}

	if s.abandoned(ctx) {
		return false, nil
	}
	living := frozen.Agents.Living()
	reqs := make([]deliberation.Request, len(living))
	for i, a := range living {
		ws := perception.Build(frozen, a, s.history, s.perc)
		ws.Phase = s.tun.PhaseName(epoch)
		reqs[i] = deliberation.NewRequest(frozen, a, ws, s.maxGive)
	}
	epochCtx, cancel := context.WithCancel(ctx)
	release := context.AfterFunc(s.stopCtx, cancel)
	proposals := s.gw.Deliberate(epochCtx, reqs)
	release()
	cancel()

	if s.abandoned(ctx) {
		s.log.Printf("engine: epoch %d abandoned before resolution", frozen.Epoch)
		return false, nil
	}
	next, resolved, err := res.Resolve(frozen, proposals)
	if err != nil {
		return false, fmt.Errorf("resolve epoch %d: %w", frozen.Epoch, err)
	}
	evs := append(starved, resolved...)
	s.upd.Update(next, frozen, evs)
	if err := next.CheckInvariants(); err != nil {
		return false, fmt.Errorf("epoch %d: %w", next.Epoch, err)
	}

	batch := make([]event.Event, 0, len(evs)+2)
	batch = append(batch, event.NewEpochStart(next.Epoch, entering))
	batch = append(batch, evs...)
	batch = append(batch, event.NewEpochEnd(next.Epoch, next.Agents.LivingCount(), next.Digest()))

	s.st = next
	s.appendHistory(evs)
	p := &pendingWrite{events: batch}
	final := s.finished()
	if final || (s.snapEvery > 0 && next.Epoch%uint64(s.snapEvery) == 0) {
		p.snap = snapshot.FromState(next, s.meta)
	}
	s.pending = p
	s.publish(batch)
	return true, nil
}

// flushPending writes the pending epoch. The event batch is written at most
// once successfully; a snapshot that already exists counts as written.
func (s *Scheduler) flushPending() error {
	p := s.pending
	if p == nil {
		return nil
	}
	if !p.eventsDone {
		if err := s.events.WriteEpoch(p.events); err != nil {
			return fmt.Errorf("%w: events for epoch %d: %w", errPersist, s.st.Epoch, err)
		}
		p.eventsDone = true
		if s.index != nil {
			s.index.RecordEvents(p.events)
		}
	}
	if p.snap != nil {
		if err := s.writeSnapshot(p.snap); err != nil {
			return fmt.Errorf("%w: snapshot for epoch %d: %w", errPersist, s.st.Epoch, err)
		}
		p.snap = nil
	}
	s.pending = nil
	s.lastErr = nil
	return nil
}

func (s *Scheduler) writeSnapshot(snap *snapshot.Snapshot) error {
	path, err := s.snaps.WriteSnapshot(snap)
	if errors.Is(err, snapshot.ErrExists) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.index != nil {
		s.index.RecordSnapshot(path, snap.Header)
	}
	return nil
}

func (s *Scheduler) appendHistory(evs []event.Event) {
	for _, e := range evs {
		if e.Kind == event.EpochStart || e.Kind == event.EpochEnd {
			continue
		}
		s.history = append(s.history, e)
	}
	if n := len(s.history); n > historyCap {
		s.history = append(s.history[:0:0], s.history[n-historyCap:]...)
	}
}

// finalSnapshot records the state a run stopped in, unless an unwritten
// epoch is being abandoned.
func (s *Scheduler) finalSnapshot() {
	if s.pending != nil {
		return
	}
	if err := s.writeSnapshot(snapshot.FromState(s.st, s.meta)); err != nil {
		s.log.Printf("engine: final snapshot at epoch %d: %v", s.st.Epoch, err)
	}
}
