package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/world"
)

func batch(epoch uint64) []event.Event {
	p := world.Pos{X: 1, Y: 1}
	return []event.Event{
		event.NewEpochStart(epoch, 2),
		event.NewGathered(epoch, "A1", p, 3),
		event.NewSpoke(epoch, "A2", "A1", p, "hi"),
		event.NewEpochEnd(epoch, 2, "d"),
	}
}

func TestEventLog_RotatesAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLog(dir, 3)
	for e := uint64(1); e <= 7; e++ {
		if err := l.WriteEpoch(batch(e)); err != nil {
			t.Fatalf("WriteEpoch(%d): %v", e, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"events-00000000.jsonl.zst", "events-00000003.jsonl.zst", "events-00000006.jsonl.zst"}
	if len(files) != len(want) {
		t.Fatalf("files=%v", files)
	}
	for i, f := range files {
		if filepath.Base(f) != want[i] {
			t.Fatalf("file %d = %s want %s", i, filepath.Base(f), want[i])
		}
	}
	if got := FileName(7, 3); got != want[2] {
		t.Fatalf("FileName=%s", got)
	}

	batches, err := ReadEpochs(dir, 2, 5)
	if err != nil {
		t.Fatalf("ReadEpochs: %v", err)
	}
	if len(batches) != 4 || batches[0].Epoch != 2 || batches[3].Epoch != 5 {
		t.Fatalf("batches=%+v", batches)
	}
	b := batches[1]
	if len(b.Events) != 4 || b.Events[1].Kind != event.Gathered || b.Events[1].Payload.Amount != 3 {
		t.Fatalf("batch 3=%+v", b)
	}
	if end, ok := b.End(); !ok || end.Payload.Digest != "d" {
		t.Fatalf("end=%+v ok=%v", end, ok)
	}
}

func TestEventLog_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLog(dir, 100)
	if err := l.WriteEpoch(batch(1)); err != nil {
		t.Fatal(err)
	}
	_ = l.Close()

	l = NewEventLog(dir, 100)
	if err := l.WriteEpoch(batch(2)); err != nil {
		t.Fatal(err)
	}
	_ = l.Close()

	batches, err := ReadEpochs(dir, 0, 0)
	if err != nil {
		t.Fatalf("ReadEpochs: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches=%d want 2 across concatenated frames", len(batches))
	}
}

func TestEventLog_ReopenAfterTornFrame(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLog(dir, 100)
	for e := uint64(1); e <= 2; e++ {
		if err := l.WriteEpoch(batch(e)); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.Close()

	// A writer that died halfway through the frame for epoch 3.
	var frame bytes.Buffer
	enc, err := zstd.NewWriter(&frame)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range batch(3) {
		b, _ := json.Marshal(e)
		_, _ = enc.Write(append(b, '\n'))
	}
	_ = enc.Close()
	path := filepath.Join(dir, FileName(1, 100))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.Write(frame.Bytes()[:frame.Len()/2])
	_ = f.Close()

	l = NewEventLog(dir, 100)
	for e := uint64(3); e <= 4; e++ {
		if err := l.WriteEpoch(batch(e)); err != nil {
			t.Fatalf("WriteEpoch %d: %v", e, err)
		}
	}
	_ = l.Close()

	batches, err := ReadEpochs(dir, 0, 0)
	if err != nil {
		t.Fatalf("ReadEpochs: %v", err)
	}
	if len(batches) != 4 {
		t.Fatalf("batches=%d want 4", len(batches))
	}
	for i, b := range batches {
		if b.Epoch != uint64(i+1) || len(b.Events) != 4 {
			t.Fatalf("batch %d: epoch=%d events=%d", i, b.Epoch, len(b.Events))
		}
	}
}

func TestEventLog_RetriedBatchKeepsLastCopy(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLog(dir, 100)
	partial := batch(1)[:2]
	if err := l.WriteEpoch(partial); err != nil {
		t.Fatal(err)
	}
	if err := l.WriteEpoch(batch(1)); err != nil {
		t.Fatal(err)
	}
	if err := l.WriteEpoch(batch(1)); err != nil {
		t.Fatal(err)
	}
	_ = l.Close()

	batches, err := ReadEpochs(dir, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 || len(batches[0].Events) != 4 {
		t.Fatalf("batches=%+v", batches)
	}
}

func TestEventLog_RejectsMixedBatch(t *testing.T) {
	l := NewEventLog(t.TempDir(), 10)
	defer l.Close()
	mixed := append(batch(1), event.NewEpochStart(2, 2))
	if err := l.WriteEpoch(mixed); err == nil {
		t.Fatalf("expected error for mixed epochs")
	}
}

func TestListFiles_MissingDir(t *testing.T) {
	if _, err := ListFiles(filepath.Join(t.TempDir(), "nope")); !os.IsNotExist(err) {
		t.Fatalf("err=%v", err)
	}
}
