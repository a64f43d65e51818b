// Package telegram holds the upstream client pool and the byte streamer that
// pulls media chunks out of channel messages. All upstream specifics are kept
// behind the ports interfaces; the gotd adapter is the only file that talks
// MTProto.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
	"tgstream/internal/metrics"
)

const connectBudget = 30 * time.Second

// Pool owns the control client and the numbered workers. Worker 0 is the
// helper; it also backs Choose when no numbered workers survived startup.
type Pool struct {
	log  *slog.Logger
	main ports.ChatClient

	mu        sync.Mutex
	workers   map[int]ports.ChatClient
	workLoads map[int]int
	rr        int
}

func NewPool(log *slog.Logger, main ports.ChatClient, workers []ports.ChatClient) *Pool {
	p := &Pool{
		log:       log,
		main:      main,
		workers:   make(map[int]ports.ChatClient, len(workers)),
		workLoads: make(map[int]int, len(workers)),
	}
	for _, w := range workers {
		p.workers[w.ID()] = w
	}
	return p
}

// Start connects the control client and every worker in parallel. A worker
// with an expired credential is logged and dropped; a flood wait sleeps
// wait+1s and retries that worker once. Only a control-client failure is
// fatal.
func (p *Pool) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if p.main == nil {
			return nil
		}
		if err := p.connect(ctx, p.main); err != nil {
			return fmt.Errorf("main client: %w", err)
		}
		return nil
	})

	p.mu.Lock()
	workers := make([]ports.ChatClient, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		w := w
		g.Go(func() error {
			if err := p.connect(ctx, w); err != nil {
				p.log.Warn("worker skipped", slog.Int("worker", w.ID()), slog.String("err", err.Error()))
				p.drop(w.ID())
				return nil
			}
			p.mu.Lock()
			p.workLoads[w.ID()] = 0
			p.mu.Unlock()
			metrics.WorkerLoad.WithLabelValues(workerLabel(w.ID())).Set(0)
			p.log.Info("worker connected", slog.Int("worker", w.ID()), slog.Int("dc", w.HomeDC()))
			return nil
		})
	}

	return g.Wait()
}

func (p *Pool) connect(ctx context.Context, c ports.ChatClient) error {
	cctx, cancel := context.WithTimeout(ctx, connectBudget)
	defer cancel()

	err := c.Connect(cctx)
	if err == nil {
		return nil
	}
	if fw, ok := domain.AsFloodWait(err); ok {
		p.log.Warn("flood wait on connect",
			slog.Int("worker", c.ID()), slog.Duration("wait", fw.Wait))
		select {
		case <-time.After(fw.Wait + time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		rctx, rcancel := context.WithTimeout(ctx, connectBudget)
		defer rcancel()
		return c.Connect(rctx)
	}
	return err
}

func (p *Pool) drop(id int) {
	p.mu.Lock()
	delete(p.workers, id)
	delete(p.workLoads, id)
	p.mu.Unlock()
}

// Choose returns the least-loaded worker ID. Ties go to a round-robin pointer
// so equally idle workers share the streams. With no workers left it falls
// back to the helper.
func (p *Pool) Choose() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workLoads) == 0 {
		return 0
	}

	ids := make([]int, 0, len(p.workLoads))
	min := -1
	for _, load := range p.workLoads {
		if min < 0 || load < min {
			min = load
		}
	}
	for id, load := range p.workLoads {
		if load == min {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	// First candidate at or past the pointer, wrapping.
	chosen := ids[0]
	for _, id := range ids {
		if id >= p.rr {
			chosen = id
			break
		}
	}
	p.rr = chosen + 1
	return chosen
}

// Client returns the worker for id, falling back to the helper and finally
// the control client so callers always get a live connection even when every
// worker was dropped at startup.
func (p *Pool) Client(id int) ports.ChatClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.workers[id]; ok {
		return c
	}
	if c, ok := p.workers[0]; ok {
		return c
	}
	return p.main
}

// Main returns the control client.
func (p *Pool) Main() ports.ChatClient {
	return p.main
}

func (p *Pool) Acquire(id int) {
	p.mu.Lock()
	p.workLoads[id]++
	load := p.workLoads[id]
	p.mu.Unlock()
	metrics.WorkerLoad.WithLabelValues(workerLabel(id)).Set(float64(load))
}

func (p *Pool) Release(id int) {
	p.mu.Lock()
	if p.workLoads[id] > 0 {
		p.workLoads[id]--
	}
	load := p.workLoads[id]
	p.mu.Unlock()
	metrics.WorkerLoad.WithLabelValues(workerLabel(id)).Set(float64(load))
}

// Loads returns a snapshot of the per-worker in-flight counters.
func (p *Pool) Loads() map[int]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]int, len(p.workLoads))
	for id, load := range p.workLoads {
		out[id] = load
	}
	return out
}

// Stop closes every client and waits for all of them.
func (p *Pool) Stop() {
	p.mu.Lock()
	clients := make([]ports.ChatClient, 0, len(p.workers)+1)
	for _, w := range p.workers {
		clients = append(clients, w)
	}
	p.mu.Unlock()
	if p.main != nil {
		clients = append(clients, p.main)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c ports.ChatClient) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				p.log.Warn("client close", slog.Int("worker", c.ID()), slog.String("err", err.Error()))
			}
		}(c)
	}
	wg.Wait()
}

func workerLabel(id int) string {
	return fmt.Sprintf("%d", id)
}
