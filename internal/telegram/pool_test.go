package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
)

type fakeSession struct {
	chunks [][]byte
	calls  int
	err    error
}

func (f *fakeSession) FetchChunk(ctx context.Context, desc domain.FileDesc, offset int64, limit int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.chunks) {
		return nil, nil
	}
	buf := f.chunks[f.calls]
	f.calls++
	return buf, nil
}

type fakeClient struct {
	id         int
	homeDC     int
	primary    ports.MediaSession
	exported   map[int]ports.MediaSession
	exports    int
	connectErr error
	closed     bool
	messages   []domain.Message
	msgErr     error
}

func (f *fakeClient) ID() int { return f.id }

func (f *fakeClient) Connect(ctx context.Context) error {
	err := f.connectErr
	f.connectErr = nil
	return err
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func (f *fakeClient) ChannelTitle(ctx context.Context, chat domain.ChatID) (string, error) {
	return "test channel", nil
}

func (f *fakeClient) Messages(ctx context.Context, chat domain.ChatID, ids []domain.MessageID) ([]domain.Message, error) {
	return f.messages, f.msgErr
}

func (f *fakeClient) LatestMessageID(ctx context.Context, chat domain.ChatID) (domain.MessageID, error) {
	var max domain.MessageID
	for _, m := range f.messages {
		if m.ID > max {
			max = m.ID
		}
	}
	if max == 0 {
		return 0, domain.ErrNotFound
	}
	return max, nil
}

func (f *fakeClient) HomeDC() int { return f.homeDC }

func (f *fakeClient) PrimarySession() ports.MediaSession { return f.primary }

func (f *fakeClient) ExportSession(ctx context.Context, dcID int) (ports.MediaSession, error) {
	f.exports++
	if sess, ok := f.exported[dcID]; ok {
		return sess, nil
	}
	return nil, errors.New("no session for dc")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStartedPool(t *testing.T, workers ...*fakeClient) *Pool {
	t.Helper()
	clients := make([]ports.ChatClient, 0, len(workers))
	for _, w := range workers {
		clients = append(clients, w)
	}
	pool := NewPool(discard(), &fakeClient{id: -1}, clients)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return pool
}

func TestChoosePicksLeastLoaded(t *testing.T) {
	pool := newStartedPool(t, &fakeClient{id: 0}, &fakeClient{id: 1}, &fakeClient{id: 2})

	pool.Acquire(0)
	pool.Acquire(0)
	pool.Acquire(1)

	if got := pool.Choose(); got != 2 {
		t.Errorf("Choose: got %d, want 2", got)
	}
}

func TestChooseBreaksTiesRoundRobin(t *testing.T) {
	pool := newStartedPool(t, &fakeClient{id: 0}, &fakeClient{id: 1}, &fakeClient{id: 2})

	seen := []int{pool.Choose(), pool.Choose(), pool.Choose(), pool.Choose()}
	want := []int{0, 1, 2, 0}
	for i, id := range want {
		if seen[i] != id {
			t.Errorf("pick %d: got %d, want %d (all %v)", i, seen[i], id, seen)
		}
	}
}

func TestChooseEmptyPoolFallsBackToHelper(t *testing.T) {
	pool := NewPool(discard(), &fakeClient{id: -1}, nil)
	if got := pool.Choose(); got != 0 {
		t.Errorf("Choose on empty pool: got %d, want 0", got)
	}
}

func TestClientFallsBackToMainWhenAllWorkersDropped(t *testing.T) {
	main := &fakeClient{id: -1}
	bad := &fakeClient{id: 0, connectErr: domain.ErrCredentialExpired}
	pool := NewPool(discard(), main, []ports.ChatClient{bad})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := pool.Client(pool.Choose())
	if got == nil {
		t.Fatal("Client returned nil with no surviving workers")
	}
	if got.ID() != -1 {
		t.Errorf("Client: got worker %d, want the control client", got.ID())
	}
}

func TestStartSkipsExpiredWorker(t *testing.T) {
	bad := &fakeClient{id: 1, connectErr: domain.ErrCredentialExpired}
	pool := newStartedPool(t, &fakeClient{id: 0}, bad, &fakeClient{id: 2})

	loads := pool.Loads()
	if _, ok := loads[1]; ok {
		t.Error("expired worker still in pool")
	}
	if len(loads) != 2 {
		t.Errorf("loads: %v", loads)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	pool := newStartedPool(t, &fakeClient{id: 0})

	pool.Release(0)
	pool.Release(0)
	pool.Acquire(0)

	if got := pool.Loads()[0]; got != 1 {
		t.Errorf("load: got %d, want 1", got)
	}
}

func TestStopClosesAllClients(t *testing.T) {
	main := &fakeClient{id: -1}
	w0 := &fakeClient{id: 0}
	w1 := &fakeClient{id: 1}
	pool := NewPool(discard(), main, []ports.ChatClient{w0, w1})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pool.Stop()

	for _, c := range []*fakeClient{main, w0, w1} {
		if !c.closed {
			t.Errorf("client %d not closed", c.id)
		}
	}
}
