package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"tgstream/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "playlists.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AppendNew(ctx, -100555, []domain.MessageID{7, 9, 8}, false, "clips"); err != nil {
		t.Fatalf("AppendNew: %v", err)
	}

	rec, err := store.Load(ctx, -100555)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(rec.Playlist, []domain.MessageID{7, 8, 9}) {
		t.Errorf("playlist: got %v", rec.Playlist)
	}
	if rec.LatestID != 9 || rec.ChannelName != "clips" {
		t.Errorf("record: %+v", rec)
	}
}

func TestAppendOverlapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AppendNew(ctx, -1, []domain.MessageID{1, 2, 3}, false, ""); err != nil {
		t.Fatalf("AppendNew: %v", err)
	}
	if err := store.AppendNew(ctx, -1, []domain.MessageID{2, 3, 4}, false, ""); err != nil {
		t.Fatalf("AppendNew overlap: %v", err)
	}

	rec, err := store.Load(ctx, -1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(rec.Playlist, []domain.MessageID{1, 2, 3, 4}) {
		t.Errorf("playlist: got %v", rec.Playlist)
	}
}

func TestRemoveVideoAndMarkers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AppendNew(ctx, -1, []domain.MessageID{10, 20}, false, ""); err != nil {
		t.Fatalf("AppendNew: %v", err)
	}
	if err := store.SetLastStarted(ctx, -1, 10); err != nil {
		t.Fatalf("SetLastStarted: %v", err)
	}
	if err := store.RemoveVideo(ctx, -1, 10); err != nil {
		t.Fatalf("RemoveVideo: %v", err)
	}

	rec, err := store.Load(ctx, -1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(rec.Playlist, []domain.MessageID{20}) {
		t.Errorf("playlist: got %v", rec.Playlist)
	}
	if rec.LastStartedID != 0 {
		t.Errorf("last_started_id survived removal: %d", rec.LastStartedID)
	}
}

func TestReverseAffectsViewOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

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
}

func TestMarkerOnUnknownChannelCreatesRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SetLastStarted(ctx, -404, 7); err != nil {
		t.Fatalf("SetLastStarted: %v", err)
	}
	if err := store.SetLastCompleted(ctx, -404, 5); err != nil {
		t.Fatalf("SetLastCompleted: %v", err)
	}

	rec, err := store.Load(ctx, -404)
	if err != nil {
		t.Fatalf("Load after marker writes: %v", err)
	}
	if rec.LastStartedID != 7 || rec.LastCompletedID != 5 {
		t.Errorf("markers: started=%d completed=%d", rec.LastStartedID, rec.LastCompletedID)
	}
	if len(rec.Playlist) != 0 {
		t.Errorf("fresh record grew a playlist: %v", rec.Playlist)
	}
}

func TestRemoveVideoOnUnknownChannelCreatesRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.RemoveVideo(ctx, -405, 9); err != nil {
		t.Fatalf("RemoveVideo: %v", err)
	}
	rec, err := store.Load(ctx, -405)
	if err != nil {
		t.Fatalf("Load after removal: %v", err)
	}
	if len(rec.Playlist) != 0 || rec.LastStartedID != 0 {
		t.Errorf("record: %+v", rec)
	}
}

func TestListEncoding(t *testing.T) {
	ids := []domain.MessageID{100, 200, 300}
	decoded, err := decodeList(encodeList(ids))
	if err != nil {
		t.Fatalf("decodeList: %v", err)
	}
	if !reflect.DeepEqual(decoded, ids) {
		t.Errorf("round trip: got %v", decoded)
	}

	if encodeList(nil) != "" {
		t.Error("empty list should encode to empty string")
	}
	if _, err := decodeList("1,x"); err == nil {
		t.Error("expected error for junk column")
	}
}
