package deliberation

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"terrarium.ai/internal/sim/action"
)

const DefaultTimeout = 10 * time.Second

// Gateway fans one epoch's requests out to a Decider and always returns one
// proposal per request.
type Gateway struct {
	d       Decider
	timeout time.Duration
	log     *log.Logger
}

type Option func(*Gateway)

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func NewGateway(d Decider, opts ...Option) *Gateway {
	g := &Gateway{d: d, timeout: DefaultTimeout}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) Timeout() time.Duration { return g.timeout }

// Deliberate runs every request concurrently and waits for all of them to
// finish or time out. proposals[i] answers reqs[i]. A failed, late, or
// unparseable reply becomes Wait with a note.
func (g *Gateway) Deliberate(ctx context.Context, reqs []Request) []action.Proposal {
	out := make([]action.Proposal, len(reqs))
	var wg sync.WaitGroup
	wg.Add(len(reqs))
	for i := range reqs {
		go func(i int) {
			defer wg.Done()
			out[i] = g.decideOne(ctx, reqs[i])
		}(i)
	}
	wg.Wait()
	return out
}

type reply struct {
	text string
	err  error
}

func (g *Gateway) decideOne(parent context.Context, req Request) action.Proposal {
	ctx, cancel := context.WithTimeout(parent, g.timeout)
	defer cancel()

	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: errors.New("decider panicked")}
			}
		}()
		text, err := g.d.Decide(ctx, req)
		ch <- reply{text: text, err: err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-ctx.Done():
		return g.fallback(req, &Failure{Reason: ReasonTimeout, Detail: g.timeout.String()})
	}
	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) {
			return g.fallback(req, &Failure{Reason: ReasonTimeout, Detail: r.err.Error()})
		}
		return g.fallback(req, &Failure{Reason: ReasonDeciderError, Detail: r.err.Error()})
	}
	act, f := Parse(r.text, req)
	if f != nil {
		return g.fallback(req, f)
	}
	return action.Proposal{Action: act}
}

func (g *Gateway) fallback(req Request, f *Failure) action.Proposal {
	if g.log != nil {
		g.log.Printf("deliberation: epoch=%d agent=%s fallback to wait: %v", req.Epoch, req.Agent, f)
	}
	return action.Proposal{Action: action.NewWait(req.Agent), Note: f.Note()}
}
