package jsonfile

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"tgstream/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playlists.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, path
}

func TestAppendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	store, path := newTestStore(t)

	if err := store.AppendNew(ctx, -100123, []domain.MessageID{11, 12, 13}, false, "movies"); err != nil {
		t.Fatalf("AppendNew: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec, err := reopened.Load(ctx, -100123)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(rec.Playlist, []domain.MessageID{11, 12, 13}) {
		t.Errorf("playlist: got %v", rec.Playlist)
	}
	if rec.LatestID != 13 {
		t.Errorf("latest_id: got %d, want 13", rec.LatestID)
	}
	if rec.ChannelName != "movies" {
		t.Errorf("channel_name: got %q", rec.ChannelName)
	}
}

func TestAppendOverlapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.AppendNew(ctx, -1, []domain.MessageID{1, 2, 3}, false, ""); err != nil {
		t.Fatalf("AppendNew: %v", err)
	}
	if err := store.AppendNew(ctx, -1, []domain.MessageID{3, 2, 5, 4}, false, ""); err != nil {
		t.Fatalf("AppendNew overlap: %v", err)
	}

	rec, err := store.Load(ctx, -1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []domain.MessageID{1, 2, 3, 4, 5}
	if !reflect.DeepEqual(rec.Playlist, want) {
		t.Errorf("playlist: got %v, want %v", rec.Playlist, want)
	}
	if rec.LatestID != 5 {
		t.Errorf("latest_id: got %d, want 5", rec.LatestID)
	}
}

func TestGetPlaylistHonorsReverseFlag(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.AppendNew(ctx, -1, []domain.MessageID{1, 2, 3}, true, ""); err != nil {
		t.Fatalf("AppendNew: %v", err)
	}

	view, err := store.GetPlaylist(ctx, -1)
	if err != nil {
		t.Fatalf("GetPlaylist: %v", err)
	}
	if !reflect.DeepEqual(view, []domain.MessageID{3, 2, 1}) {
		t.Errorf("view: got %v", view)
	}

	rec, err := store.Load(ctx, -1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(rec.Playlist, []domain.MessageID{1, 2, 3}) {
		t.Errorf("storage order changed: %v", rec.Playlist)
	}
}

func TestRemoveVideoClearsMarkers(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.AppendNew(ctx, -1, []domain.MessageID{10, 20, 30}, false, ""); err != nil {
		t.Fatalf("AppendNew: %v", err)
	}
	if err := store.SetLastStarted(ctx, -1, 20); err != nil {
		t.Fatalf("SetLastStarted: %v", err)
	}
	if err := store.SetLastCompleted(ctx, -1, 20); err != nil {
		t.Fatalf("SetLastCompleted: %v", err)
	}
	if err := store.RemoveVideo(ctx, -1, 20); err != nil {
		t.Fatalf("RemoveVideo: %v", err)
	}

	rec, err := store.Load(ctx, -1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(rec.Playlist, []domain.MessageID{10, 30}) {
		t.Errorf("playlist: got %v", rec.Playlist)
	}
	if rec.LastStartedID != 0 || rec.LastCompletedID != 0 {
		t.Errorf("markers survived removal: started=%d completed=%d", rec.LastStartedID, rec.LastCompletedID)
	}
}

func TestLoadUnknownChannel(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Load(context.Background(), -999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Load: got %v, want ErrNotFound", err)
	}

	view, err := store.GetPlaylist(context.Background(), -999)
	if err != nil {
		t.Fatalf("GetPlaylist: %v", err)
	}
	if len(view) != 0 {
		t.Errorf("view of unknown channel: %v", view)
	}
}

func TestTwoChannelsShareOneFile(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.AppendNew(ctx, -1, []domain.MessageID{1}, false, "a"); err != nil {
		t.Fatalf("AppendNew: %v", err)
	}
	if err := store.AppendNew(ctx, -2, []domain.MessageID{2}, false, "b"); err != nil {
		t.Fatalf("AppendNew: %v", err)
	}

	a, err := store.Load(ctx, -1)
	if err != nil {
		t.Fatalf("Load -1: %v", err)
	}
	b, err := store.Load(ctx, -2)
	if err != nil {
		t.Fatalf("Load -2: %v", err)
	}
	if a.ChannelName != "a" || b.ChannelName != "b" {
		t.Errorf("records crossed: %+v %+v", a, b)
	}
}
