package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"tgstream/internal/domain"
	"tgstream/internal/metrics"
)

const (
	stuckTimeout  = 20 * time.Second
	restartDelay  = 5 * time.Second
	innerBackoff  = 3 * time.Second
	emptyPollWait = 5 * time.Second
	watchdogTick  = time.Second
)

// Picker selects and tracks upstream workers; *telegram.Pool satisfies it.
type Picker interface {
	Choose() int
	Acquire(id int)
	Release(id int)
}

// Playlist is the slice of playlist.Manager the supervisor drives.
type Playlist interface {
	NextVideo(currentID domain.MessageID) (domain.MessageID, bool)
	MarkStarted(ctx context.Context, id domain.MessageID) error
	MarkCompleted(ctx context.Context, id domain.MessageID) error
	RemoveVideo(ctx context.Context, id domain.MessageID) error
	Playlist() []domain.MessageID
	ChannelName() string
}

// Supervisor owns one channel's continuous stream.
type Supervisor struct {
	log      *slog.Logger
	name     string
	chatID   domain.ChatID
	hlsRoot  string
	pool     Picker
	playlist Playlist
	player   Player

	// Timing knobs, shrunk by tests.
	stuckTimeout time.Duration
	restartDelay time.Duration
	innerBackoff time.Duration
	emptyPoll    time.Duration
	watchTick    time.Duration

	mu           sync.Mutex
	currentID    domain.MessageID
	lastActivity time.Time
	restarts     int64
}

func NewSupervisor(log *slog.Logger, name string, chatID domain.ChatID, hlsRoot string, pool Picker, pl Playlist, player Player) *Supervisor {
	return &Supervisor{
		log:          log.With(slog.String("stream", name)),
		name:         name,
		chatID:       chatID,
		hlsRoot:      hlsRoot,
		pool:         pool,
		playlist:     pl,
		player:       player,
		stuckTimeout: stuckTimeout,
		restartDelay: restartDelay,
		innerBackoff: innerBackoff,
		emptyPoll:    emptyPollWait,
		watchTick:    watchdogTick,
	}
}

// Name returns the stream name (stream1..streamN).
func (s *Supervisor) Name() string { return s.name }

// HLSDir is where this stream's segments live.
func (s *Supervisor) HLSDir() string {
	return filepath.Join(s.hlsRoot, s.name)
}

// State snapshots the stream for diagnostics and the websocket hub.
func (s *Supervisor) State() domain.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.StreamState{
		StreamName:   s.name,
		ChatID:       s.chatID,
		ChannelName:  s.playlist.ChannelName(),
		CurrentID:    s.currentID,
		PlaylistSize: len(s.playlist.Playlist()),
		LastActivity: s.lastActivity,
		Restarts:     s.restarts,
	}
}

// Run loops until ctx is cancelled, restarting the inner playback loop with
// backoff on failure.
func (s *Supervisor) Run(ctx context.Context) {
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	for {
		err := s.playLoop(ctx)
		if ctx.Err() != nil {
			s.log.Info("supervisor stopped")
			return
		}

		delay := s.innerBackoff
		reason := "error"
		if errors.Is(err, domain.ErrStreamStuck) {
			delay = s.restartDelay
			reason = "stuck"
		}
		metrics.StreamRestartsTotal.WithLabelValues(reason).Inc()

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()

		s.log.Warn("stream restarting",
			slog.String("reason", reason),
			slog.Duration("delay", delay),
			slog.String("err", fmt.Sprint(err)))
		if err := sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (s *Supervisor) playLoop(ctx context.Context) error {
	current := domain.MessageID(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		id, ok := s.playlist.NextVideo(current)
		if !ok {
			if err := sleep(ctx, s.emptyPoll); err != nil {
				return err
			}
			continue
		}
		current = id

		err := s.playVideo(ctx, id)
		switch {
		case err == nil:
			if serr := s.playlist.MarkCompleted(ctx, id); serr != nil {
				s.log.Warn("mark completed", slog.String("err", serr.Error()))
			}
		case errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, domain.ErrNotFound):
			s.log.Info("video gone, dropping", slog.Int64("video", int64(id)))
			if serr := s.playlist.RemoveVideo(ctx, id); serr != nil {
				s.log.Warn("remove video", slog.String("err", serr.Error()))
			}
		default:
			return err
		}
	}
}

// playVideo plays one video under the watchdog. The worker acquired at entry
// is always released, even on panic-free early returns.
func (s *Supervisor) playVideo(ctx context.Context, id domain.MessageID) error {
	clientID := s.pool.Choose()
	s.pool.Acquire(clientID)
	defer s.pool.Release(clientID)

	s.setCurrent(id)
	s.touch()
	if err := s.playlist.MarkStarted(ctx, id); err != nil {
		s.log.Warn("mark started", slog.String("err", err.Error()))
	}
	s.log.Info("playing video",
		slog.Int64("video", int64(id)), slog.Int("worker", clientID))

	videoCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stuck := make(chan struct{})
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		ticker := time.NewTicker(s.watchTick)
		defer ticker.Stop()
		for {
			select {
			case <-videoCtx.Done():
				return
			case <-ticker.C:
				if time.Since(s.activity()) > s.stuckTimeout {
					close(stuck)
					cancel()
					return
				}
			}
		}
	}()

	err := s.player.Play(videoCtx, clientID, s.chatID, id, s.HLSDir(), s.name, s.touch)
	cancel()
	<-watchdogDone

	select {
	case <-stuck:
		return fmt.Errorf("%s video %d: %w", s.name, id, domain.ErrStreamStuck)
	default:
	}
	return err
}

func (s *Supervisor) setCurrent(id domain.MessageID) {
	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()
}

func (s *Supervisor) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) activity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
