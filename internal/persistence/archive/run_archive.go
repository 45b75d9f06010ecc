package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"terrarium.ai/internal/persistence/snapshot"
)

type RunArchiveMeta struct {
	RunID      string `json:"run_id"`
	Scenario   string `json:"scenario"`
	Seed       int64  `json:"seed"`
	FinalEpoch uint64 `json:"final_epoch"`
	Alive      int    `json:"alive"`
	StopCause  string `json:"stop_cause,omitempty"`
	Snapshot   string `json:"snapshot"`
	CreatedAt  string `json:"created_at"`
}

// ArchiveRun copies the newest snapshot in snapDir into
// dataDir/archives/<run_id>/ next to a meta.json describing the run. It
// returns the archived snapshot path.
func ArchiveRun(dataDir, snapDir, stopCause string) (string, error) {
	src := snapshot.Latest(snapDir)
	if src == "" {
		return "", fmt.Errorf("archive: no snapshot in %s", snapDir)
	}
	snap, err := snapshot.Read(src)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	h := snap.Header
	if h.RunID == "" {
		return "", fmt.Errorf("archive: snapshot %s has no run id", src)
	}

	archiveDir := filepath.Join(dataDir, "archives", h.RunID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(archiveDir, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		return "", err
	}

	meta := RunArchiveMeta{
		RunID:      h.RunID,
		Scenario:   h.Scenario,
		Seed:       snap.Seed,
		FinalEpoch: h.Epoch,
		Alive:      h.Alive,
		StopCause:  stopCause,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

func ReadMeta(archiveDir string) (RunArchiveMeta, error) {
	var m RunArchiveMeta
	b, err := os.ReadFile(filepath.Join(archiveDir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
