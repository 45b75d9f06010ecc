package snapshot

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"terrarium.ai/internal/sim/agent"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/tuning"
	"terrarium.ai/internal/sim/world"
)

func testState(t *testing.T, epoch uint64) *state.State {
	t.Helper()
	g, err := world.Generate(world.GenConfig{Width: 6, Height: 5, FertileFraction: 0.4, InitialFood: 8, Capacity: 20, Seed: 9})
	if err != nil {
		t.Fatal(err)
	}
	agents, err := agent.Spawn(g, agent.SpawnConfig{Count: 3, StartingFood: 2, Seed: 9})
	if err != nil {
		t.Fatal(err)
	}
	agents[0].Beliefs.Social["A2"] = agent.SocialBelief{Trust: 0.4, Sentiment: -0.2, Summary: "talks to me (2 of 2 recent)", Interactions: 2, LastEpoch: epoch}
	agents[1].Memory = []agent.Episode{{Epoch: epoch, Other: "A1", Kind: "Spoke", Role: agent.RoleActor, Trust: 0.1, Sentiment: 0.2}}
	agents[2].Alive = false
	agents[2].DeathCause = agent.CauseStarvation
	s, err := state.New(epoch, g, agents)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWriteRead_RoundTripDigest(t *testing.T) {
	dir := t.TempDir()
	s := testState(t, 10)
	tun := tuning.Defaults()
	tun.Environment = tuning.Environment{CycleLength: 8, Phases: []tuning.Phase{
		{Name: "wet", Start: 0, End: 0.5, Regen: 1.5, EnergyDrain: 1, MoveCost: 1},
		{Name: "dry", Start: 0.5, End: 1, Regen: 0.2, EnergyDrain: 1.5, MoveCost: 1.3},
	}}
	meta := Meta{RunID: "run-1", Scenario: "valley", Seed: 9, MaxEpochs: 50, Tuning: tun}

	path := Path(dir, s.Epoch)
	if err := Write(path, FromState(s, meta)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	snap, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.Header.RunID != "run-1" || snap.Header.Epoch != 10 || snap.Header.Alive != 2 || snap.MaxEpochs != 50 {
		t.Fatalf("header=%+v", snap.Header)
	}
	if !reflect.DeepEqual(snap.Tuning, tun) {
		t.Fatalf("tuning not preserved")
	}
	restored, err := snap.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if restored.Digest() != s.Digest() {
		t.Fatalf("digest mismatch after round trip")
	}
	h, err := ReadHeader(path)
	if err != nil || h.Scenario != "valley" {
		t.Fatalf("ReadHeader=%+v err=%v", h, err)
	}
}

func TestWrite_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	st := Store{Dir: dir}
	snap := FromState(testState(t, 0), Meta{RunID: "r"})
	path, err := st.WriteSnapshot(snap)
	if err != nil || path != Path(dir, 0) {
		t.Fatalf("path=%s err=%v", path, err)
	}
	if _, err := st.WriteSnapshot(snap); !errors.Is(err, ErrExists) {
		t.Fatalf("second write err=%v want ErrExists", err)
	}
	if m, _ := filepath.Glob(filepath.Join(dir, "*.tmp")); len(m) != 0 {
		t.Fatalf("temp files left behind: %v", m)
	}
}

func TestList_LatestAndAtOrBefore(t *testing.T) {
	dir := t.TempDir()
	for _, e := range []uint64{0, 10, 20} {
		if err := Write(Path(dir, e), FromState(testState(t, e), Meta{})); err != nil {
			t.Fatal(err)
		}
	}
	epochs, err := List(dir)
	if err != nil || len(epochs) != 3 || epochs[2] != 20 {
		t.Fatalf("List=%v err=%v", epochs, err)
	}
	if got := Latest(dir); got != Path(dir, 20) {
		t.Fatalf("Latest=%s", got)
	}
	if got, ok := AtOrBefore(dir, 15); !ok || got != Path(dir, 10) {
		t.Fatalf("AtOrBefore(15)=%s", got)
	}
	if Latest(t.TempDir()) != "" {
		t.Fatalf("Latest on empty dir should be empty")
	}
}
