package main

import (
	"fmt"
	"log"
	"path/filepath"

	persistlog "terrarium.ai/internal/persistence/log"
	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/replay"
	"terrarium.ai/internal/scenario"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/tuning"
)

// historyWindow is how many logged epochs seed the recent-event window of a
// resumed run.
const historyWindow = 20

type startPoint struct {
	state   *state.State
	meta    snapshot.Meta
	history []event.Event
	resumed bool
}

// loadStart returns the state a run begins from. When resume is set and the
// data dir holds a snapshot, the newest one is rolled forward over every
// epoch logged after it, so the run continues where the log ends.
func loadStart(sc scenario.Scenario, tune tuning.Tuning, dataDir, snapPath string, resume bool, logger *log.Logger) (startPoint, error) {
	snapDir := filepath.Join(dataDir, "snapshots")
	eventsDir := filepath.Join(dataDir, "events")
	if snapPath == "" && resume {
		snapPath = snapshot.Latest(snapDir)
	}

	if snapPath == "" {
		st, err := sc.NewState()
		if err != nil {
			return startPoint{}, fmt.Errorf("generate world: %w", err)
		}
		return startPoint{
			state: st,
			meta: snapshot.Meta{
				Scenario:  sc.Meta.Name,
				Seed:      sc.Simulation.Seed,
				MaxEpochs: sc.Simulation.MaxEpochs,
				Tuning:    tune,
			},
		}, nil
	}

	snap, err := snapshot.Read(snapPath)
	if err != nil {
		return startPoint{}, fmt.Errorf("read snapshot: %w", err)
	}
	r, err := replay.New(snap)
	if err != nil {
		return startPoint{}, err
	}
	batches, err := persistlog.ReadEpochs(eventsDir, snap.Header.Epoch+1, 0)
	if err != nil {
		return startPoint{}, fmt.Errorf("read events: %w", err)
	}
	for _, b := range batches {
		if err := r.ApplyEpoch(b.Events); err != nil {
			return startPoint{}, fmt.Errorf("roll forward from snapshot %d: %w", snap.Header.Epoch, err)
		}
	}

	var history []event.Event
	if n := len(batches); n > historyWindow {
		batches = batches[n-historyWindow:]
	}
	for _, b := range batches {
		history = append(history, b.Events...)
	}
	logger.Printf("resumed run %s from snapshot=%s epoch=%d, rolled forward to epoch=%d",
		snap.Header.RunID, filepath.Base(snapPath), snap.Header.Epoch, r.Epoch())
	return startPoint{state: r.State(), meta: snap.Meta(), history: history, resumed: true}, nil
}
