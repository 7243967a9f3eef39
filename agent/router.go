package agent

import (
	"log/slog"
	"sync"
	"time"
)

const drainTimeout = 30 * time.Second

// Router holds the runner of every connected bot.
type Router struct {
	mu      sync.Mutex
	runners map[string]*Runner
	order   []string
}

func NewRouter() *Router {
	return &Router{runners: make(map[string]*Runner)}
}

// Add registers a runner under its bot name, replacing any previous one.
func (r *Router) Add(run *Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runners[run.Name()]; !ok {
		r.order = append(r.order, run.Name())
	}
	r.runners[run.Name()] = run
}

// Runners returns the registered runners in registration order.
func (r *Router) Runners() []*Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Runner, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.runners[name])
	}
	return out
}

// Status returns a snapshot of all runners.
func (r *Router) Status() []Status {
	runners := r.Runners()
	statuses := make([]Status, 0, len(runners))
	for _, run := range runners {
		statuses = append(statuses, run.Status())
	}
	return statuses
}

// WaitForDrain waits for running generations to finish, up to 30 seconds.
func (r *Router) WaitForDrain() {
	done := make(chan struct{})
	go func() {
		for _, run := range r.Runners() {
			run.wg.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		slog.Warn("drain timeout: some replies did not finish within 30s")
	}
}
