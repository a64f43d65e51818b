// Package playlist maintains the per-channel video list: initial discovery,
// incremental update checks, playback ordering, and marker persistence.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
)

const (
	firstScanWindow   = 2000
	updateScanWindow  = 500
	scanBatch         = 100
	checkerStartDelay = 30 * time.Second
)

// Options configure one manager.
type Options struct {
	AutoChecker   bool
	CheckInterval time.Duration // default 120s
	Reverse       bool
	Preloaded     []domain.MessageID
}

// Manager owns the in-memory playlist of one channel and keeps the store in
// sync. All mutations take the manager mutex; upstream scans additionally
// take the process-wide scan gate so concurrent channels never hammer the
// upstream at the same time.
type Manager struct {
	log      *slog.Logger
	client   ports.ChatClient
	store    ports.PlaylistStore
	chatID   domain.ChatID
	scanGate *semaphore.Weighted
	opts     Options

	// Pacing between examined messages; tests shrink these.
	messagePause time.Duration
	batchPause   time.Duration

	mu          sync.Mutex
	playlist    []domain.MessageID
	latestID    domain.MessageID
	lastStarted domain.MessageID
	lastDone    domain.MessageID
	channelName string
	preloaded   bool

	checkerCancel context.CancelFunc
	checkerDone   chan struct{}
}

func NewManager(log *slog.Logger, client ports.ChatClient, store ports.PlaylistStore, chatID domain.ChatID, scanGate *semaphore.Weighted, opts Options) *Manager {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 120 * time.Second
	}
	return &Manager{
		log:          log.With(slog.Int64("chat", int64(chatID))),
		client:       client,
		store:        store,
		chatID:       chatID,
		scanGate:     scanGate,
		opts:         opts,
		messagePause: 20 * time.Millisecond,
		batchPause:   time.Second,
	}
}

// Build assembles the playlist: adopt the preloaded list, or resume from the
// store, or run the first full scan. The auto-checker is scheduled for the
// store paths when enabled.
func (m *Manager) Build(ctx context.Context) error {
	name, err := m.client.ChannelTitle(ctx, m.chatID)
	if err != nil {
		m.log.Warn("channel title lookup failed", slog.String("err", err.Error()))
	}

	if len(m.opts.Preloaded) > 0 {
		m.mu.Lock()
		m.playlist = append([]domain.MessageID(nil), m.opts.Preloaded...)
		m.latestID = maxID(m.playlist)
		m.channelName = name
		m.preloaded = true
		m.mu.Unlock()
		m.log.Info("playlist preloaded", slog.Int("size", len(m.opts.Preloaded)))
		return nil
	}

	rec, err := m.store.Load(ctx, m.chatID)
	switch {
	case err == nil:
		m.mu.Lock()
		m.playlist = append([]domain.MessageID(nil), rec.Playlist...)
		m.latestID = rec.LatestID
		m.lastStarted = rec.LastStartedID
		m.lastDone = rec.LastCompletedID
		m.channelName = rec.ChannelName
		if name != "" {
			m.channelName = name
		}
		m.mu.Unlock()
		m.log.Info("playlist resumed from store",
			slog.Int("size", len(rec.Playlist)), slog.Int64("latest", int64(rec.LatestID)))
	default:
		// An unreachable store must not keep the channel off the air. The
		// scan rebuilds the playlist in memory and persistence catches up
		// once the store recovers.
		if !errors.Is(err, domain.ErrNotFound) {
			m.log.Warn("store load failed, rebuilding from scan", slog.String("err", err.Error()))
		}
		if err := m.firstScan(ctx, name); err != nil {
			return fmt.Errorf("first scan: %w", err)
		}
	}

	if m.opts.AutoChecker {
		m.startAutoChecker()
	}
	return nil
}

func (m *Manager) firstScan(ctx context.Context, name string) error {
	latest, err := m.client.LatestMessageID(ctx, m.chatID)
	if err != nil {
		return err
	}
	from := latest - firstScanWindow + 1
	if from < 1 {
		from = 1
	}

	found, err := m.scan(ctx, from, latest)
	if err != nil {
		return err
	}
	m.log.Info("first scan complete",
		slog.Int64("latest", int64(latest)), slog.Int("videos", len(found)))

	m.mu.Lock()
	m.playlist = found
	m.latestID = maxID(found)
	if m.latestID < latest {
		m.latestID = latest
	}
	m.channelName = name
	m.mu.Unlock()

	if err := m.store.AppendNew(ctx, m.chatID, found, m.opts.Reverse, name); err != nil {
		m.log.Error("persist first scan", slog.String("err", err.Error()))
	}
	return nil
}

// CheckForUpdates scans the window after latest_id for fresh videos and
// appends them. Also serves as the manual update trigger.
func (m *Manager) CheckForUpdates(ctx context.Context) error {
	m.mu.Lock()
	if m.preloaded {
		m.mu.Unlock()
		return nil
	}
	from := m.latestID + 1
	m.mu.Unlock()

	found, err := m.scan(ctx, from, from+updateScanWindow-1)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}

	m.mu.Lock()
	present := make(map[domain.MessageID]struct{}, len(m.playlist))
	for _, id := range m.playlist {
		present[id] = struct{}{}
	}
	fresh := make([]domain.MessageID, 0, len(found))
	for _, id := range found {
		if _, ok := present[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	m.playlist = append(m.playlist, fresh...)
	if max := maxID(fresh); max > m.latestID {
		m.latestID = max
	}
	name := m.channelName
	m.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	m.log.Info("playlist updated", slog.Int("new", len(fresh)))
	return m.store.AppendNew(ctx, m.chatID, fresh, m.opts.Reverse, name)
}

// scan walks [from, to] in batches under the global scan gate and returns the
// video IDs in ascending order. A flood wait sleeps wait+1s and retries the
// same batch; any other error aborts the scan.
func (m *Manager) scan(ctx context.Context, from, to domain.MessageID) ([]domain.MessageID, error) {
	if to < from {
		return nil, nil
	}
	if err := m.scanGate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.scanGate.Release(1)

	var found []domain.MessageID
	examined := 0
	for batchFrom := from; batchFrom <= to; batchFrom += scanBatch {
		batchTo := batchFrom + scanBatch - 1
		if batchTo > to {
			batchTo = to
		}
		ids := make([]domain.MessageID, 0, batchTo-batchFrom+1)
		for id := batchFrom; id <= batchTo; id++ {
			ids = append(ids, id)
		}

		msgs, err := m.fetchBatch(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			if msg.IsVideo() {
				found = append(found, msg.ID)
			}
			examined++
			if examined%200 == 0 {
				if err := pause(ctx, m.batchPause); err != nil {
					return nil, err
				}
			} else if err := pause(ctx, m.messagePause); err != nil {
				return nil, err
			}
		}
	}
	return found, nil
}

func (m *Manager) fetchBatch(ctx context.Context, ids []domain.MessageID) ([]domain.Message, error) {
	for {
		msgs, err := m.client.Messages(ctx, m.chatID, ids)
		if err == nil {
			return msgs, nil
		}
		fw, ok := domain.AsFloodWait(err)
		if !ok {
			return nil, err
		}
		m.log.Warn("flood wait during scan", slog.Duration("wait", fw.Wait))
		if err := pause(ctx, fw.Wait+time.Second); err != nil {
			return nil, err
		}
	}
}

// NextVideo picks the ID to play after currentID. Zero currentID means a
// fresh start: resume the interrupted video if it is still listed, else the
// one after the last completed (wrapping), else the first.
func (m *Manager) NextVideo(currentID domain.MessageID) (domain.MessageID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := m.viewLocked()
	if len(view) == 0 {
		return 0, false
	}

	if currentID == 0 {
		if m.lastStarted != 0 {
			if _, ok := indexOf(view, m.lastStarted); ok {
				return m.lastStarted, true
			}
		}
		if m.lastDone != 0 {
			if i, ok := indexOf(view, m.lastDone); ok {
				return view[(i+1)%len(view)], true
			}
		}
		return view[0], true
	}

	if i, ok := indexOf(view, currentID); ok {
		return view[(i+1)%len(view)], true
	}
	return view[0], true
}

// RemoveVideo drops id from memory and the store, clearing matching markers.
func (m *Manager) RemoveVideo(ctx context.Context, id domain.MessageID) error {
	m.mu.Lock()
	if i, ok := indexOf(m.playlist, id); ok {
		m.playlist = append(m.playlist[:i], m.playlist[i+1:]...)
	}
	if m.lastStarted == id {
		m.lastStarted = 0
	}
	if m.lastDone == id {
		m.lastDone = 0
	}
	preloaded := m.preloaded
	m.mu.Unlock()

	m.log.Info("video removed", slog.Int64("id", int64(id)))
	if preloaded {
		return nil
	}
	return m.store.RemoveVideo(ctx, m.chatID, id)
}

// MarkStarted records the currently playing video.
func (m *Manager) MarkStarted(ctx context.Context, id domain.MessageID) error {
	m.mu.Lock()
	m.lastStarted = id
	preloaded := m.preloaded
	m.mu.Unlock()
	if preloaded {
		return nil
	}
	return m.store.SetLastStarted(ctx, m.chatID, id)
}

// MarkCompleted records a video that played to the end.
func (m *Manager) MarkCompleted(ctx context.Context, id domain.MessageID) error {
	m.mu.Lock()
	m.lastDone = id
	preloaded := m.preloaded
	m.mu.Unlock()
	if preloaded {
		return nil
	}
	return m.store.SetLastCompleted(ctx, m.chatID, id)
}

// Playlist returns the playback view.
func (m *Manager) Playlist() []domain.MessageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// ChannelName returns the resolved display name, may be empty.
func (m *Manager) ChannelName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channelName
}

// Stop cancels the auto-checker and waits for it to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.checkerCancel
	done := m.checkerDone
	m.checkerCancel = nil
	m.checkerDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Manager) startAutoChecker() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.checkerCancel = cancel
	m.checkerDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		if err := pause(ctx, checkerStartDelay); err != nil {
			return
		}
		ticker := time.NewTicker(m.opts.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.CheckForUpdates(ctx); err != nil && !errors.Is(err, context.Canceled) {
					m.log.Warn("update check failed", slog.String("err", err.Error()))
				}
			}
		}
	}()
}

func (m *Manager) viewLocked() []domain.MessageID {
	out := make([]domain.MessageID, len(m.playlist))
	if m.opts.Reverse {
		for i, id := range m.playlist {
			out[len(out)-1-i] = id
		}
		return out
	}
	copy(out, m.playlist)
	return out
}

func indexOf(ids []domain.MessageID, id domain.MessageID) (int, bool) {
	for i, v := range ids {
		if v == id {
			return i, true
		}
	}
	return 0, false
}

func maxID(ids []domain.MessageID) domain.MessageID {
	var max domain.MessageID
	for _, id := range ids {
		if id > max {
			max = id
		}
	}
	return max
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
