// Package replay rebuilds a run from a snapshot and the event log and checks
// every epoch against the digest the live run recorded.
package replay

import (
	"errors"
	"fmt"

	"terrarium.ai/internal/persistence/log"
	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/sim/beliefs"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/resolve"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/tuning"
)

var (
	ErrDigestMismatch = errors.New("replay: digest mismatch")
	ErrGap            = errors.New("replay: missing epoch")
)

// Replayer advances a state one recorded epoch at a time.
type Replayer struct {
	st  *state.State
	tun tuning.Tuning
	upd *beliefs.Updater
}

// New starts from snap, using the tuning stored in it.
func New(snap *snapshot.Snapshot) (*Replayer, error) {
	st, err := snap.State()
	if err != nil {
		return nil, err
	}
	t := snap.Tuning
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Replayer{
		st:  st,
		tun: t,
		upd: beliefs.New(t.BeliefConfig()),
	}, nil
}

func (r *Replayer) State() *state.State { return r.st }

func (r *Replayer) Epoch() uint64 { return r.st.Epoch }

// ApplyEpoch replays one batch, EpochStart through EpochEnd. Starvation after
// the tick is recomputed and must match the head of the batch; every other
// decision is taken from the log and nothing is deliberated again. On a
// mismatch the state is left at the previous epoch.
func (r *Replayer) ApplyEpoch(batch []event.Event) error {
	want := r.st.Epoch + 1
	if len(batch) < 2 || batch[0].Kind != event.EpochStart || batch[len(batch)-1].Kind != event.EpochEnd {
		return fmt.Errorf("replay: epoch %d: batch is not framed by EpochStart and EpochEnd", want)
	}
	if batch[0].Epoch != want {
		return fmt.Errorf("%w: want %d, log has %d", ErrGap, want, batch[0].Epoch)
	}
	end := batch[len(batch)-1]
	inner := batch[1 : len(batch)-1]

	for _, e := range inner {
		if e.Epoch != want {
			return fmt.Errorf("replay: epoch %d: stray event from epoch %d", want, e.Epoch)
		}
	}

	params := r.tun.ResolveParamsAt(want)
	frozen := r.st.Tick(r.tun.TickParamsAt(want))
	starved, err := resolve.Starvations(frozen, params)
	if err != nil {
		return fmt.Errorf("replay: epoch %d: %w", want, err)
	}
	if len(inner) < len(starved) {
		return fmt.Errorf("%w at epoch %d: log is missing starvation deaths", ErrDigestMismatch, want)
	}
	for i, e := range starved {
		if inner[i].Kind != event.Died || inner[i].Agent != e.Agent {
			return fmt.Errorf("%w at epoch %d: starvation of %s not in log", ErrDigestMismatch, want, e.Agent)
		}
	}
	next := frozen.Clone()
	for _, e := range inner[len(starved):] {
		if err := resolve.Apply(next, e, params); err != nil {
			return fmt.Errorf("replay: epoch %d: %w", want, err)
		}
	}
	r.upd.Update(next, frozen, inner)
	if err := next.CheckInvariants(); err != nil {
		return fmt.Errorf("replay: epoch %d: %w", want, err)
	}
	if got := next.Digest(); got != end.Payload.Digest {
		return fmt.Errorf("%w at epoch %d: got=%s want=%s", ErrDigestMismatch, want, got, end.Payload.Digest)
	}
	r.st = next
	return nil
}

type Result struct {
	From    uint64
	To      uint64
	Checked int
	Digest  string
}

// Run loads the snapshot at snapPath and replays the batches in eventsDir up
// to and including epoch to (0 means the end of the log).
func Run(snapPath, eventsDir string, to uint64) (*Result, *Replayer, error) {
	snap, err := snapshot.Read(snapPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}
	r, err := New(snap)
	if err != nil {
		return nil, nil, err
	}
	res := &Result{From: r.Epoch(), To: r.Epoch()}
	if to != 0 && to < res.From {
		return nil, nil, fmt.Errorf("replay: target epoch %d is before snapshot epoch %d", to, res.From)
	}
	batches, err := log.ReadEpochs(eventsDir, res.From+1, to)
	if err != nil {
		return nil, nil, fmt.Errorf("read events: %w", err)
	}
	for _, b := range batches {
		if err := r.ApplyEpoch(b.Events); err != nil {
			return res, r, err
		}
		res.Checked++
		res.To = r.Epoch()
	}
	if to != 0 && res.To != to {
		return res, r, fmt.Errorf("%w: log ends at epoch %d, before %d", ErrGap, res.To, to)
	}
	res.Digest = r.st.Digest()
	return res, r, nil
}
