package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Streamers hands out one ByteStreamer per pool worker so supervisors sharing
// a worker also share its descriptor and session caches.
type Streamers struct {
	log  *slog.Logger
	pool *Pool

	mu sync.Mutex
	m  map[int]*ByteStreamer
}

func NewStreamers(log *slog.Logger, pool *Pool) *Streamers {
	return &Streamers{log: log, pool: pool, m: make(map[int]*ByteStreamer)}
}

// For returns the streamer bound to worker id, creating it on first use.
func (s *Streamers) For(id int) *ByteStreamer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bs, ok := s.m[id]; ok {
		return bs
	}
	bs := NewByteStreamer(s.log, s.pool.Client(id))
	s.m[id] = bs
	return bs
}

// Run sweeps every streamer's descriptor cache on the sweep interval until
// ctx ends.
func (s *Streamers) Run(ctx context.Context) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			all := make([]*ByteStreamer, 0, len(s.m))
			for _, bs := range s.m {
				all = append(all, bs)
			}
			s.mu.Unlock()
			for _, bs := range all {
				bs.Sweep()
			}
		}
	}
}
