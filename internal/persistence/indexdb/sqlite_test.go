package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/tuning"
	"terrarium.ai/internal/sim/world"
)

func epochBatch(epoch uint64) []event.Event {
	p := world.Pos{X: 2, Y: 3}
	return []event.Event{
		event.NewEpochStart(epoch, 3),
		event.NewGathered(epoch, "A1", p, 2),
		event.NewGave(epoch, "A2", "A1", p, 1),
		event.NewAttacked(epoch, "A3", "A2", p, 0.1),
		event.NewEpochEnd(epoch, 3, "digest"),
	}
}

func openTest(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "run.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

func TestSQLiteIndex_AgentHistory(t *testing.T) {
	idx, _ := openTest(t)
	for e := uint64(1); e <= 3; e++ {
		idx.RecordEvents(epochBatch(e))
	}
	idx.Sync()

	ctx := context.Background()
	hist, err := idx.AgentHistory(ctx, "A1", 10)
	if err != nil {
		t.Fatalf("AgentHistory: %v", err)
	}
	// Gathered as actor plus Gave as target, per epoch.
	if len(hist) != 6 {
		t.Fatalf("history len=%d want 6", len(hist))
	}
	if hist[0].Epoch != 1 || hist[5].Epoch != 3 {
		t.Fatalf("history not oldest first: %+v", hist)
	}
	if hist[1].Kind != event.Gave || hist[1].Payload.Amount != 1 {
		t.Fatalf("hist[1]=%+v", hist[1])
	}

	last, err := idx.AgentHistory(ctx, "A1", 2)
	if err != nil || len(last) != 2 || last[0].Epoch != 3 {
		t.Fatalf("limited history=%+v err=%v", last, err)
	}
	if n, err := idx.LastEpoch(ctx); err != nil || n != 3 {
		t.Fatalf("LastEpoch=%d err=%v", n, err)
	}
}

func TestSQLiteIndex_ReRecordedEpochReplacesRows(t *testing.T) {
	idx, _ := openTest(t)
	idx.RecordEvents(epochBatch(1))
	idx.RecordEvents(epochBatch(1))
	idx.Sync()

	hist, err := idx.AgentHistory(context.Background(), "A3", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Fatalf("history len=%d want 1", len(hist))
	}
}

func TestSQLiteIndex_SnapshotsAndMeta(t *testing.T) {
	idx, path := openTest(t)
	idx.RecordSnapshot("/data/snapshots/10.snap.zst", snapshot.Header{Version: 1, RunID: "r1", Epoch: 10, Alive: 4})
	idx.RecordSnapshot("/data/snapshots/0.snap.zst", snapshot.Header{Version: 1, RunID: "r1", Epoch: 0, Alive: 6})
	if err := idx.UpsertRun(snapshot.Meta{RunID: "r1", Scenario: "valley", Seed: 7, Tuning: tuning.Defaults()}); err != nil {
		t.Fatalf("UpsertRun: %v", err)
	}
	idx.Sync()

	ctx := context.Background()
	rows, err := idx.Snapshots(ctx)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(rows) != 2 || rows[0].Epoch != 0 || rows[1].Alive != 4 || rows[1].RunID != "r1" {
		t.Fatalf("rows=%+v", rows)
	}
	if v, err := idx.Meta(ctx, "seed"); err != nil || v != "7" {
		t.Fatalf("seed=%q err=%v", v, err)
	}
	if v, _ := idx.Meta(ctx, "tuning_digest"); len(v) != 64 {
		t.Fatalf("tuning_digest=%q", v)
	}

	// Reopen: the rows survive.
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	idx2, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()
	rows, err = idx2.Snapshots(ctx)
	if err != nil || len(rows) != 2 {
		t.Fatalf("after reopen rows=%+v err=%v", rows, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqSync}

	s.RecordEvents(epochBatch(2))
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.Header{Epoch: 2})

	st := s.Stats()
	if st.DropEventsTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	s.RecordEvents(epochBatch(1))
	s.RecordSnapshot("x", snapshot.Header{})
	s.Sync()
}
