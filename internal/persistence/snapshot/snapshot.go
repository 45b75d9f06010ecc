package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/tuning"
	"terrarium.ai/internal/sim/world"
)

const Version = 1

// ErrExists is returned when a snapshot for the epoch was already written.
var ErrExists = errors.New("snapshot already exists")

type Header struct {
	Version  int    `json:"version"`
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario"`
	Epoch    uint64 `json:"epoch"`
	Alive    int    `json:"alive"`
}

// Snapshot is the full state of one epoch plus everything needed to resume
// or replay from it.
type Snapshot struct {
	Header Header `json:"header"`

	Seed      int64         `json:"seed"`
	MaxEpochs int           `json:"max_epochs"`
	Tuning    tuning.Tuning `json:"tuning"`

	Grid   world.Grid     `json:"grid"`
	Agents []*agent.Agent `json:"agents"`
}

// Meta is the run metadata stamped on every snapshot.
type Meta struct {
	RunID     string
	Scenario  string
	Seed      int64
	MaxEpochs int
	Tuning    tuning.Tuning
}

// FromState copies s; later changes to s do not affect the snapshot.
func FromState(s *state.State, m Meta) *Snapshot {
	c := s.Clone()
	return &Snapshot{
		Header: Header{
			Version:  Version,
			RunID:    m.RunID,
			Scenario: m.Scenario,
			Epoch:    c.Epoch,
			Alive:    c.Agents.LivingCount(),
		},
		Seed:      m.Seed,
		MaxEpochs: m.MaxEpochs,
		Tuning:    m.Tuning,
		Grid:      *c.Grid,
		Agents:    c.Agents.All(),
	}
}

func (s *Snapshot) Meta() Meta {
	return Meta{RunID: s.Header.RunID, Scenario: s.Header.Scenario, Seed: s.Seed, MaxEpochs: s.MaxEpochs, Tuning: s.Tuning}
}

// State rebuilds a simulation state; occupancy is recomputed from positions.
func (s *Snapshot) State() (*state.State, error) {
	g := s.Grid.Clone()
	agents := make([]*agent.Agent, len(s.Agents))
	for i, a := range s.Agents {
		agents[i] = a.Clone()
	}
	return state.New(s.Header.Epoch, g, agents)
}

// Path is the canonical file for epoch under dir.
func Path(dir string, epoch uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", epoch))
}

// Write stores snap at path. An existing file is never replaced.
func Write(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), ErrExists)
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrExists)
		}
		return err
	}
	return nil
}

func writeFile(path string, snap *Snapshot) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func Read(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	hb, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(hb, &h); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("snapshot version %d not supported", h.Version)
	}

	var snap Snapshot
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	for _, a := range snap.Agents {
		a.Normalize()
	}
	return &snap, nil
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	hb, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	err = json.Unmarshal(hb, &h)
	return h, err
}

// List returns the snapshot epochs found in dir, ascending.
func List(dir string) ([]uint64, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []uint64
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Latest returns the path of the newest snapshot in dir, or "" if none.
func Latest(dir string) string {
	epochs, err := List(dir)
	if err != nil || len(epochs) == 0 {
		return ""
	}
	return Path(dir, epochs[len(epochs)-1])
}

// AtOrBefore returns the newest snapshot at or before epoch.
func AtOrBefore(dir string, epoch uint64) (string, bool) {
	epochs, err := List(dir)
	if err != nil {
		return "", false
	}
	for i := len(epochs) - 1; i >= 0; i-- {
		if epochs[i] <= epoch {
			return Path(dir, epochs[i]), true
		}
	}
	return "", false
}

// Store writes snapshots into one directory.
type Store struct {
	Dir string
}

// WriteSnapshot writes snap under Dir and returns its path.
func (s Store) WriteSnapshot(snap *Snapshot) (string, error) {
	path := Path(s.Dir, snap.Header.Epoch)
	return path, Write(path, snap)
}
