package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"terrarium.ai/internal/sim/event"
)

// Batch is the complete event list of one epoch, EpochStart through EpochEnd.
type Batch struct {
	Epoch  uint64
	Events []event.Event
}

// End returns the batch's EpochEnd event.
func (b Batch) End() (event.Event, bool) {
	if n := len(b.Events); n > 0 && b.Events[n-1].Kind == event.EpochEnd {
		return b.Events[n-1], true
	}
	return event.Event{}, false
}

func ListFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadFile calls fn for every event in path in log order. A torn frame at the
// end of the file, left by a crash mid-write, ends the read without error.
func ReadFile(path string, fn func(event.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e event.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadEpochs returns the complete batches for epochs in [from, to]; to == 0
// means no upper bound. A batch that was written twice, as a retried write
// does, keeps only its last complete copy.
func ReadEpochs(dir string, from, to uint64) ([]Batch, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	var (
		out     []Batch
		cur     *Batch
		stopErr = errors.New("stop")
	)
	for _, path := range files {
		err := ReadFile(path, func(e event.Event) error {
			if to != 0 && e.Epoch > to {
				return stopErr
			}
			if e.Epoch < from {
				return nil
			}
			switch {
			case e.Kind == event.EpochStart:
				cur = &Batch{Epoch: e.Epoch, Events: []event.Event{e}}
			case cur == nil || cur.Epoch != e.Epoch:
				// Tail of a batch whose start is outside the range or torn.
				cur = nil
			default:
				cur.Events = append(cur.Events, e)
				if e.Kind == event.EpochEnd {
					if n := len(out); n > 0 && out[n-1].Epoch == cur.Epoch {
						out[n-1] = *cur
					} else {
						out = append(out, *cur)
					}
					cur = nil
				}
			}
			return nil
		})
		if errors.Is(err, stopErr) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
