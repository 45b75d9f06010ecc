package indexdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/sim/event"
)

// SQLiteIndex is a queryable copy of the event log and snapshot list. Writes
// are queued to a single writer goroutine and dropped when it falls behind;
// the JSONL log remains the source of truth.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvents    atomic.Uint64
	dropSnapshots atomic.Uint64
}

type reqKind int

const (
	reqEvents reqKind = iota + 1
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	events   []event.Event
	snapshot SnapshotRow
	done     chan struct{}
}

type SnapshotRow struct {
	Epoch      uint64 `db:"epoch" json:"epoch"`
	Path       string `db:"path" json:"path"`
	RunID      string `db:"run_id" json:"run_id"`
	Alive      int    `db:"alive" json:"alive"`
	RecordedAt string `db:"recorded_at" json:"recorded_at"`
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropEventsTotal   uint64 `json:"drop_events_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

const DefaultQueue = 4096

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, DefaultQueue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS epochs (
			epoch INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			alive INTEGER NOT NULL,
			events INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			epoch INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			agent TEXT NOT NULL,
			target TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (epoch, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent_epoch ON events(agent, epoch);`,
		`CREATE INDEX IF NOT EXISTS idx_events_target_epoch ON events(target, epoch);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			epoch INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			run_id TEXT NOT NULL,
			alive INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordEvents queues one epoch's batch. A re-recorded epoch replaces the
// earlier rows.
func (s *SQLiteIndex) RecordEvents(evs []event.Event) {
	if s == nil || s.closed.Load() || len(evs) == 0 {
		return
	}
	cp := append([]event.Event(nil), evs...)
	select {
	case s.ch <- req{kind: reqEvents, events: cp}:
	default:
		s.dropEvents.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, h snapshot.Header) {
	if s == nil || s.closed.Load() {
		return
	}
	r := SnapshotRow{
		Epoch:      h.Epoch,
		Path:       path,
		RunID:      h.RunID,
		Alive:      h.Alive,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshots.Add(1)
	}
}

// Sync blocks until every request queued before it has been written.
func (s *SQLiteIndex) Sync() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqSync, done: done}
	<-done
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEventsTotal:   s.dropEvents.Load(),
		DropSnapshotTotal: s.dropSnapshots.Load(),
	}
}

// UpsertRun stores the run metadata, including the tuning values actually
// applied and their digest.
func (s *SQLiteIndex) UpsertRun(m snapshot.Meta) error {
	b, err := json.Marshal(m.Tuning)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	rows := [][2]string{
		{"schema_version", "1"},
		{"run_id", m.RunID},
		{"scenario", m.Scenario},
		{"seed", fmt.Sprint(m.Seed)},
		{"max_epochs", fmt.Sprint(m.MaxEpochs)},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM meta WHERE key=?`, key)
	return v, err
}

// AgentHistory returns the newest limit events in which id was the actor or
// the target, oldest first.
func (s *SQLiteIndex) AgentHistory(ctx context.Context, id string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var raws []string
	err := s.db.SelectContext(ctx, &raws,
		`SELECT raw_json FROM events WHERE agent=? OR target=? ORDER BY epoch DESC, seq DESC LIMIT ?`,
		id, id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]event.Event, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal([]byte(raw), &out[len(raws)-1-i]); err != nil {
			return nil, fmt.Errorf("history row: %w", err)
		}
	}
	return out, nil
}

func (s *SQLiteIndex) Snapshots(ctx context.Context) ([]SnapshotRow, error) {
	var rows []SnapshotRow
	err := s.db.SelectContext(ctx, &rows, `SELECT epoch,path,run_id,alive,recorded_at FROM snapshots ORDER BY epoch`)
	return rows, err
}

// LastEpoch is the newest epoch with an indexed EpochEnd, or 0.
func (s *SQLiteIndex) LastEpoch(ctx context.Context) (uint64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COALESCE(MAX(epoch),0) FROM epochs`)
	return uint64(n), err
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqEvents:
			_ = s.writeEvents(r.events)
		case reqSnapshot:
			sn := r.snapshot
			_, _ = s.db.NamedExec(`INSERT OR REPLACE INTO snapshots(epoch,path,run_id,alive,recorded_at)
				VALUES(:epoch,:path,:run_id,:alive,:recorded_at)`, sn)
		case reqSync:
			close(r.done)
		}
	}
}

func (s *SQLiteIndex) writeEvents(evs []event.Event) error {
	epoch := evs[0].Epoch
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM events WHERE epoch=?`, int64(epoch)); err != nil {
		return err
	}
	ins, err := tx.Preparex(`INSERT INTO events(epoch,seq,kind,agent,target,raw_json) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer ins.Close()
	for i, e := range evs {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := ins.Exec(int64(e.Epoch), i, string(e.Kind), e.Agent, e.Target, string(b)); err != nil {
			return err
		}
		if e.Kind == event.EpochEnd {
			if _, err := tx.Exec(`INSERT OR REPLACE INTO epochs(epoch,digest,alive,events) VALUES(?,?,?,?)`,
				int64(e.Epoch), e.Payload.Digest, e.Payload.Alive, len(evs)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
