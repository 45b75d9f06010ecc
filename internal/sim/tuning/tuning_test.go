package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"terrarium.ai/internal/sim/resolve"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "actions:\n  gather_split: strength\n  gather_cap: 3\nengine:\n  deliberation_timeout_ms: 250\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rp := tu.ResolveParams()
	if rp.Split != resolve.SplitStrength || rp.GatherCap != 3 {
		t.Fatalf("resolve params=%+v", rp)
	}
	if rp.AttackDamage != 0.3 || tu.Physics.RegenFraction != 0.1 {
		t.Fatalf("defaults lost: %+v", tu)
	}
	if tu.DeliberationTimeout() != 250*time.Millisecond {
		t.Fatalf("timeout=%v", tu.DeliberationTimeout())
	}
}

func TestLoad_Rejects(t *testing.T) {
	dir := t.TempDir()
	for name, raw := range map[string]string{
		"split.yaml": "actions:\n  gather_split: random\n",
		"rate.yaml":  "beliefs:\n  belief_rate: 2\n",
		"speed.yaml": "engine:\n  epochs_per_second: 0\n",
	} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(p); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: err=%v want ErrInvalid", name, err)
		}
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("missing file err=%v", err)
	}
}

func TestLoad_SampleConfigMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, Defaults()) {
		t.Fatalf("sample tuning drifted from defaults:\n got=%+v\nwant=%+v", got, Defaults())
	}
}
