package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"terrarium.ai/internal/persistence/archive"
	"terrarium.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "control":
			controlCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the snapshots in the data dir, oldest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "snapshots")
	epochs, err := snapshot.List(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range epochs {
		path := snapshot.Path(dir, e)
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Printf("%s\tunreadable: %v\n", filepath.Base(path), err)
			continue
		}
		fmt.Printf("%s\trun=%s scenario=%s epoch=%d alive=%d\n", filepath.Base(path), h.RunID, h.Scenario, h.Epoch, h.Alive)
	}
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "archives")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := archive.ReadMeta(filepath.Join(base, e.Name()))
		if err != nil {
			fmt.Printf("%s\tno meta: %v\n", e.Name(), err)
			continue
		}
		fmt.Printf("%s\tscenario=%s seed=%d final_epoch=%d alive=%d cause=%q\n", m.RunID, m.Scenario, m.Seed, m.FinalEpoch, m.Alive, m.StopCause)
	}
}
