// Package engine drives a run epoch by epoch. One goroutine (Run) owns the
// simulation state; control commands and observers reach it only through
// channels and published read views.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"terrarium.ai/internal/deliberation"
	"terrarium.ai/internal/observerproto"
	"terrarium.ai/internal/persistence/snapshot"
	"terrarium.ai/internal/sim/beliefs"
	"terrarium.ai/internal/sim/event"
	"terrarium.ai/internal/sim/perception"
	"terrarium.ai/internal/sim/state"
	"terrarium.ai/internal/sim/tuning"
)

var (
	ErrInvalidTransition = errors.New("engine: invalid state transition")
	ErrInvalidSpeed      = errors.New("engine: speed must be positive")
	ErrStopped           = errors.New("engine: scheduler stopped")
	ErrAlreadyStarted    = errors.New("engine: already started")
)

type RunState int32

const (
	Idle RunState = iota
	Running
	Paused
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

// EventWriter persists one epoch's batch. A retried batch may be written
// again in full.
type EventWriter interface {
	WriteEpoch(evs []event.Event) error
}

// SnapshotWriter persists a snapshot and returns where it went.
type SnapshotWriter interface {
	WriteSnapshot(snap *snapshot.Snapshot) (string, error)
}

// Index is an optional best-effort secondary store.
type Index interface {
	RecordEvents(evs []event.Event)
	RecordSnapshot(path string, h snapshot.Header)
}

type Config struct {
	State *state.State
	Meta  snapshot.Meta

	Decider   deliberation.Decider
	Events    EventWriter
	Snapshots SnapshotWriter
	Index     Index

	// History seeds the recent-event window for perception, e.g. when a run
	// resumes from a snapshot.
	History []event.Event

	StartPaused bool
	Logger      *log.Logger
}

const (
	historyCap = 512
	recentCap  = 200
)

type Scheduler struct {
	log  *log.Logger
	meta snapshot.Meta

	gw   *deliberation.Gateway
	tun  tuning.Tuning
	upd  *beliefs.Updater
	perc perception.Config

	maxGive   int
	snapEvery int

	events EventWriter
	snaps  SnapshotWriter
	index  Index

	startPaused bool

	// Owned by the Run goroutine.
	st        *state.State
	history   []event.Event
	pending   *pendingWrite
	speed     float64
	lastErr   error
	stopCause string
	timer     *time.Timer

	mu       sync.Mutex
	started  bool
	runState RunState

	cmds       chan command
	done       chan struct{}
	stopFlag   atomic.Bool
	stopCtx    context.Context
	stopCancel context.CancelFunc

	views atomic.Pointer[Views]

	subsMu  sync.Mutex
	subs    map[uint64]chan *observerproto.EpochMsg
	nextSub uint64
}

// New validates cfg and publishes the initial views; the run starts with Run.
func New(cfg Config) (*Scheduler, error) {
	if cfg.State == nil {
		return nil, fmt.Errorf("engine: nil state")
	}
	if cfg.Decider == nil {
		return nil, fmt.Errorf("engine: nil decider")
	}
	if cfg.Events == nil || cfg.Snapshots == nil {
		return nil, fmt.Errorf("engine: event and snapshot writers are required")
	}
	if err := cfg.Meta.Tuning.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.State.CheckInvariants(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	meta := cfg.Meta
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}
	t := meta.Tuning

	s := &Scheduler{
		log:  logger,
		meta: meta,
		gw: deliberation.NewGateway(cfg.Decider,
			deliberation.WithTimeout(t.DeliberationTimeout()),
			deliberation.WithLogger(logger)),
		tun:         t,
		upd:         beliefs.New(t.BeliefConfig()),
		perc:        t.PerceptionConfig(),
		maxGive:     t.Actions.MaxGive,
		snapEvery:   t.Persistence.SnapshotEvery,
		events:      cfg.Events,
		snaps:       cfg.Snapshots,
		index:       cfg.Index,
		startPaused: cfg.StartPaused,
		st:          cfg.State.Clone(),
		speed:       t.Engine.EpochsPerSecond,
		cmds:        make(chan command),
		done:        make(chan struct{}),
		subs:        map[uint64]chan *observerproto.EpochMsg{},
	}
	s.stopCtx, s.stopCancel = context.WithCancel(context.Background())
	s.appendHistory(cfg.History)
	s.publish(nil)
	return s, nil
}

func (s *Scheduler) RunID() string { return s.meta.RunID }

// Done is closed when Run has returned.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runState
}

func (s *Scheduler) setState(rs RunState) {
	s.mu.Lock()
	s.runState = rs
	s.mu.Unlock()
}

type cmdKind int

const (
	cmdPause cmdKind = iota + 1
	cmdResume
	cmdStep
	cmdSetSpeed
	cmdStop
)

type command struct {
	kind  cmdKind
	speed float64
	reply chan error
}

func (s *Scheduler) Pause() error  { return s.send(command{kind: cmdPause}) }
func (s *Scheduler) Resume() error { return s.send(command{kind: cmdResume}) }

// Step runs exactly one epoch while Paused and returns once it is committed.
func (s *Scheduler) Step() error { return s.send(command{kind: cmdStep}) }

// SetSpeed sets the pacing in epochs per second.
func (s *Scheduler) SetSpeed(v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return ErrInvalidSpeed
	}
	return s.send(command{kind: cmdSetSpeed, speed: v})
}

// Stop ends the run. An epoch still deliberating is abandoned; one already
// resolving finishes first.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.runState == Stopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrInvalidTransition, ErrStopped)
	}
	s.stopFlag.Store(true)
	s.stopCancel()
	if !s.started {
		s.runState = Stopped
		s.stopCause = "stopped before start"
		s.mu.Unlock()
		s.publish(nil)
		return nil
	}
	s.mu.Unlock()
	return s.send(command{kind: cmdStop})
}

func (s *Scheduler) send(c command) error {
	s.mu.Lock()
	switch {
	case s.runState == Stopped:
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrInvalidTransition, ErrStopped)
	case !s.started:
		s.mu.Unlock()
		if c.kind == cmdSetSpeed {
			// Applied by Run when it starts.
			return s.queueSpeed(c.speed)
		}
		return ErrInvalidTransition
	}
	s.mu.Unlock()

	c.reply = make(chan error, 1)
	select {
	case s.cmds <- c:
	case <-s.done:
		return fmt.Errorf("%w: %w", ErrInvalidTransition, ErrStopped)
	}
	select {
	case err := <-c.reply:
		return err
	case <-s.done:
		// Run may exit (fatal error) after accepting the command.
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrStopped
		}
	}
}

func (s *Scheduler) queueSpeed(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrInvalidTransition
	}
	s.speed = v
	return nil
}

func (s *Scheduler) interval() time.Duration {
	return time.Duration(float64(time.Second) / s.speed)
}
