package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type epochRow struct {
	Epoch  uint64 `db:"epoch" json:"epoch"`
	Digest string `db:"digest" json:"digest"`
	Alive  int    `db:"alive" json:"alive"`
	Events int    `db:"events" json:"events"`
}

type snapshotRow struct {
	Epoch      uint64 `db:"epoch" json:"epoch"`
	Path       string `db:"path" json:"path"`
	RunID      string `db:"run_id" json:"run_id"`
	Alive      int    `db:"alive" json:"alive"`
	RecordedAt string `db:"recorded_at" json:"recorded_at"`
}

type metaRow struct {
	Key   string `db:"key" json:"key"`
	Value string `db:"value" json:"value"`
}

// dbCmd queries the read index directly: snapshots, epochs, history or meta.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	agentID := fs.String("agent", "", "agent id (history)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "run.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	db, err := sqlx.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	enc := json.NewEncoder(os.Stdout)
	switch q {
	case "snapshots":
		var rows []snapshotRow
		if err := db.Select(&rows, `SELECT epoch,path,run_id,alive,recorded_at FROM snapshots ORDER BY epoch DESC LIMIT ?`, *limit); err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case "epochs":
		var rows []epochRow
		if err := db.Select(&rows, `SELECT epoch,digest,alive,events FROM epochs ORDER BY epoch DESC LIMIT ?`, *limit); err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case "history":
		if strings.TrimSpace(*agentID) == "" {
			fmt.Fprintln(os.Stderr, "missing -agent")
			os.Exit(2)
		}
		var raws []string
		err := db.Select(&raws, `SELECT raw_json FROM events WHERE agent=? OR target=? ORDER BY epoch DESC, seq DESC LIMIT ?`, *agentID, *agentID, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for i := len(raws) - 1; i >= 0; i-- {
			fmt.Println(raws[i])
		}
	case "meta":
		var rows []metaRow
		if err := db.Select(&rows, `SELECT key,value FROM meta ORDER BY key`); err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			fmt.Printf("%s\t%s\n", r.Key, r.Value)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(snapshots|epochs|history|meta)")
		os.Exit(2)
	}
}
