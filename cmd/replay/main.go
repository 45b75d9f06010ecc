package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/replay"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory")
		snapPath  = flag.String("snapshot", "", "path to .snap.zst (default: the epoch 0 snapshot in the data dir)")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst (default: <data>/events)")
		toEpoch   = flag.Uint64("to_epoch", 0, "stop at epoch (inclusive, optional)")
		verify    = flag.Bool("verify_snapshots", true, "also compare the final state with the snapshot taken at that epoch, if any")
	)
	flag.Parse()

	snapDir := filepath.Join(*dataDir, "snapshots")
	if *snapPath == "" {
		*snapPath = snapshot.Path(snapDir, 0)
	}
	if *eventsDir == "" {
		*eventsDir = filepath.Join(*dataDir, "events")
	}

	h, err := snapshot.ReadHeader(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d run=%s scenario=%s epoch=%d alive=%d\n", h.Version, h.RunID, h.Scenario, h.Epoch, h.Alive)

	res, r, err := replay.Run(*snapPath, *eventsDir, *toEpoch)
	if err != nil {
		if res != nil {
			fmt.Fprintf(os.Stderr, "replayed %d epochs cleanly before the failure\n", res.Checked)
		}
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}

	if *verify {
		if path, ok := snapshot.AtOrBefore(snapDir, res.To); ok && path != *snapPath {
			snap, err := snapshot.Read(path)
			if err != nil {
				fmt.Fprintln(os.Stderr, "read snapshot:", err)
				os.Exit(1)
			}
			if snap.Header.Epoch == res.To {
				want, err := snap.State()
				if err != nil {
					fmt.Fprintln(os.Stderr, "decode snapshot:", err)
					os.Exit(1)
				}
				if want.Digest() != r.State().Digest() {
					fmt.Fprintf(os.Stderr, "replay: state at epoch %d differs from %s\n", res.To, filepath.Base(path))
					os.Exit(1)
				}
				fmt.Printf("matches snapshot %s\n", filepath.Base(path))
			}
		}
	}
	fmt.Printf("replay ok: checked=%d epochs (from epoch=%d to epoch=%d) digest=%s\n", res.Checked, res.From, res.To, res.Digest)
}
