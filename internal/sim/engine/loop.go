package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"terrarium.ai/internal/persistence/snapshot"
)

// Run drives the run until it stops. It returns nil when the run ends
// normally (Stop, max epochs, or no survivors) and an error when it aborts:
// a world invariant violation, a failed initial snapshot, or ctx ending.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	if s.runState == Stopped {
		s.mu.Unlock()
		close(s.done)
		return nil
	}
	if s.startPaused {
		s.runState = Paused
	} else {
		s.runState = Running
	}
	s.mu.Unlock()
	defer close(s.done)
	defer s.closeSubscribers()

	s.log.Printf("engine: run %s starting at epoch %d (%s, %.2f epochs/s, %d agents alive)",
		s.meta.RunID, s.st.Epoch, s.State(), s.speed, s.st.Agents.LivingCount())

	if err := s.writeSnapshot(snapshot.FromState(s.st, s.meta)); err != nil {
		s.halt("initial snapshot failed")
		return fmt.Errorf("initial snapshot: %w", err)
	}
	if s.finished() {
		s.halt(s.stopCause)
		return nil
	}

	s.timer = time.NewTimer(s.interval())
	defer s.timer.Stop()
	s.publish(nil)

	for {
		var tick <-chan time.Time
		if s.State() == Running {
			tick = s.timer.C
		}
		select {
		case <-ctx.Done():
			s.finalSnapshot()
			s.halt("context done")
			return ctx.Err()

		case c := <-s.cmds:
			err := s.handle(ctx, c)
			c.reply <- err
			if isFatal(err) {
				s.halt("fatal: " + err.Error())
				return err
			}

		case <-tick:
			if err := s.advance(ctx); isFatal(err) {
				s.halt("fatal: " + err.Error())
				return err
			}
			if s.State() == Running {
				s.timer.Reset(s.interval())
			}
		}
		if s.State() == Stopped {
			s.log.Printf("engine: run %s stopped at epoch %d (%s)", s.meta.RunID, s.st.Epoch, s.stopCause)
			return nil
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, c command) error {
	switch c.kind {
	case cmdPause:
		if s.State() != Running {
			return ErrInvalidTransition
		}
		s.setState(Paused)
		s.log.Printf("engine: paused at epoch %d", s.st.Epoch)
		s.publish(nil)
		return nil

	case cmdResume:
		if s.State() != Paused {
			return ErrInvalidTransition
		}
		if err := s.retryPending(); err != nil {
			return err
		}
		if s.State() == Stopped {
			return nil
		}
		s.setState(Running)
		s.log.Printf("engine: resumed at epoch %d", s.st.Epoch)
		s.resetTimer()
		s.publish(nil)
		return nil

	case cmdStep:
		if s.State() != Paused {
			return ErrInvalidTransition
		}
		if s.pending != nil {
			if err := s.retryPending(); err != nil {
				return err
			}
			if s.State() == Stopped {
				return nil
			}
		}
		return s.advance(ctx)

	case cmdSetSpeed:
		s.speed = c.speed
		if s.State() == Running {
			s.resetTimer()
		}
		s.publish(nil)
		return nil

	case cmdStop:
		s.finalSnapshot()
		if s.pending != nil {
			s.log.Printf("engine: stop abandons unwritten epoch %d", s.st.Epoch)
			s.pending = nil
		}
		s.stopCause = "stop requested"
		s.setState(Stopped)
		s.publish(nil)
		return nil
	}
	return fmt.Errorf("engine: unknown command %d", c.kind)
}

// advance runs one epoch and handles its persistence outcome. A persistence
// failure pauses the run and is returned; it is not fatal.
func (s *Scheduler) advance(ctx context.Context) error {
	committed, err := s.runEpoch(ctx)
	if err != nil {
		return err
	}
	if !committed {
		return nil
	}
	if err := s.flushPending(); err != nil {
		s.lastErr = err
		s.setState(Paused)
		s.log.Printf("engine: persistence failed at epoch %d, pausing: %v", s.st.Epoch, err)
		s.publish(nil)
		return err
	}
	if s.finished() {
		s.setState(Stopped)
	}
	s.publish(nil)
	return nil
}

// retryPending writes the epoch left unwritten by an earlier failure.
func (s *Scheduler) retryPending() error {
	if s.pending == nil {
		return nil
	}
	if err := s.flushPending(); err != nil {
		s.lastErr = err
		s.log.Printf("engine: retry of epoch %d failed: %v", s.st.Epoch, err)
		s.publish(nil)
		return err
	}
	s.log.Printf("engine: epoch %d written after retry", s.st.Epoch)
	s.lastErr = nil
	if s.finished() {
		s.setState(Stopped)
	}
	s.publish(nil)
	return nil
}

func (s *Scheduler) halt(cause string) {
	s.stopCause = cause
	s.setState(Stopped)
	s.publish(nil)
}

// finished reports whether the run has reached its end condition and records
// why.
func (s *Scheduler) finished() bool {
	switch {
	case s.meta.MaxEpochs > 0 && s.st.Epoch >= uint64(s.meta.MaxEpochs):
		s.stopCause = fmt.Sprintf("reached max_epochs %d", s.meta.MaxEpochs)
		return true
	case s.st.Agents.LivingCount() == 0:
		s.stopCause = "no agents alive"
		return true
	}
	return false
}

func (s *Scheduler) resetTimer() {
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timer.Reset(s.interval())
}

var errPersist = errors.New("engine: persistence failed")

func isFatal(err error) bool {
	return err != nil && !errors.Is(err, errPersist) && !errors.Is(err, ErrInvalidTransition)
}
