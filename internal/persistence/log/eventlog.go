package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"terrarium.ai/internal/sim/event"
)

const DefaultEpochsPerFile = 1000

// EventLog appends one batch of events per epoch to zstd-compressed JSONL
// files. A file holds the epochs [start, start+perFile).
type EventLog struct {
	dir     string
	perFile uint64

	mu    sync.Mutex
	start uint64
	f     *os.File
	enc   *zstd.Encoder
	w     *bufio.Writer
}

func NewEventLog(dir string, epochsPerFile int) *EventLog {
	if epochsPerFile <= 0 {
		epochsPerFile = DefaultEpochsPerFile
	}
	return &EventLog{dir: dir, perFile: uint64(epochsPerFile)}
}

func (l *EventLog) Dir() string { return l.dir }

// FileName is the log file holding epoch.
func FileName(epoch uint64, epochsPerFile int) string {
	per := uint64(epochsPerFile)
	if per == 0 {
		per = DefaultEpochsPerFile
	}
	return fmt.Sprintf("events-%08d.jsonl.zst", epoch-epoch%per)
}

// WriteEpoch appends evs, which must all belong to one epoch, and flushes
// them through the compressor before returning.
func (l *EventLog) WriteEpoch(evs []event.Event) error {
	if len(evs) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	epoch := evs[0].Epoch
	for _, e := range evs {
		if e.Epoch != epoch {
			return fmt.Errorf("event log: batch mixes epochs %d and %d", epoch, e.Epoch)
		}
	}
	start := epoch - epoch%l.perFile
	if l.f == nil || start != l.start {
		if err := l.rotateLocked(start); err != nil {
			return err
		}
	}
	for _, e := range evs {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := l.w.Write(b); err != nil {
			return err
		}
		if err := l.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.enc.Flush()
}

func (l *EventLog) rotateLocked(start uint64) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(l.dir, fmt.Sprintf("events-%08d.jsonl.zst", start))
	if err := repairTail(path); err != nil {
		return fmt.Errorf("event log: repair %s: %w", filepath.Base(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.enc = enc
	l.w = bufio.NewWriterSize(enc, 128*1024)
	l.start = start
	return nil
}

// repairTail rewrites path as a single complete frame when an earlier writer
// died mid-frame. Frames appended after a torn one could not be decoded, so
// only the complete lines before the damage are kept.
func repairTail(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return err
	}
	raw, readErr := io.ReadAll(dec)
	dec.Close()
	_ = f.Close()
	if readErr == nil {
		return nil
	}
	raw = raw[:bytes.LastIndexByte(raw, '\n')+1]

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err == nil {
		_, err = enc.Write(raw)
		err = errors.Join(err, enc.Close())
	}
	err = errors.Join(err, out.Sync(), out.Close())
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *EventLog) closeLocked() error {
	var errs []error
	if l.w != nil {
		errs = append(errs, l.w.Flush())
	}
	if l.enc != nil {
		errs = append(errs, l.enc.Close())
		l.enc = nil
	}
	if l.f != nil {
		errs = append(errs, l.f.Close())
		l.f = nil
	}
	l.w = nil
	return errors.Join(errs...)
}
