package encoding

import (
	"log/slog"
	"sync"

	"tgstream/internal/metrics"
)

// Registry enumerates the live encoder processes so shutdown can stop every
// one of them. It observes, never owns: supervisors remain responsible for
// their encoders' lifecycle.
type Registry struct {
	mu    sync.Mutex
	procs map[*Process]struct{}
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[*Process]struct{})}
}

func (r *Registry) Add(p *Process) {
	r.mu.Lock()
	r.procs[p] = struct{}{}
	n := len(r.procs)
	r.mu.Unlock()
	metrics.EncoderProcesses.Set(float64(n))
}

func (r *Registry) Remove(p *Process) {
	r.mu.Lock()
	delete(r.procs, p)
	n := len(r.procs)
	r.mu.Unlock()
	metrics.EncoderProcesses.Set(float64(n))
}

// Len reports the number of registered processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// StopAll stops every registered process (stdin close, grace, kill) and
// empties the registry.
func (r *Registry) StopAll(log *slog.Logger) {
	r.mu.Lock()
	procs := make([]*Process, 0, len(r.procs))
	for p := range r.procs {
		procs = append(procs, p)
	}
	r.procs = make(map[*Process]struct{})
	r.mu.Unlock()

	if len(procs) > 0 {
		log.Info("stopping encoder processes", slog.Int("count", len(procs)))
	}
	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			p.Stop()
		}(p)
	}
	wg.Wait()
	metrics.EncoderProcesses.Set(0)
}
