package domain

import (
	"reflect"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestMergeAppendsOnlyAbsentIDsInAscendingOrder(t *testing.T) {
	r := PlaylistRecord{ChatID: 42, Playlist: []MessageID{1, 2, 3}, LatestID: 3}

	changed := r.Merge([]MessageID{5, 2, 4, 3}, false, "", now)

	if !changed {
		t.Fatal("expected merge to report a change")
	}
	want := []MessageID{1, 2, 3, 4, 5}
	if !reflect.DeepEqual(r.Playlist, want) {
		t.Errorf("playlist: got %v, want %v", r.Playlist, want)
	}
	if r.LatestID != 5 {
		t.Errorf("latest_id: got %d, want 5", r.LatestID)
	}
	if r.UpdatedAt != now.Unix() {
		t.Errorf("updated_at: got %d, want %d", r.UpdatedAt, now.Unix())
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	a := PlaylistRecord{ChatID: 42}
	a.Merge([]MessageID{10, 20, 30}, false, "chan", now)

	b := a
	b.Playlist = append([]MessageID(nil), a.Playlist...)
	b.Merge([]MessageID{10, 20, 30}, false, "chan", now)

	if !reflect.DeepEqual(a.Playlist, b.Playlist) || a.LatestID != b.LatestID {
		t.Errorf("double merge diverged: %+v vs %+v", a, b)
	}
}

func TestMergeNeverLowersLatestID(t *testing.T) {
	r := PlaylistRecord{LatestID: 100, Playlist: []MessageID{100}}
	r.Merge([]MessageID{50}, false, "", now)
	if r.LatestID != 100 {
		t.Errorf("latest_id lowered to %d", r.LatestID)
	}
	want := []MessageID{100, 50}
	if !reflect.DeepEqual(r.Playlist, want) {
		t.Errorf("playlist: got %v, want %v", r.Playlist, want)
	}
}

func TestRemoveClearsMarkers(t *testing.T) {
	r := PlaylistRecord{
		Playlist:        []MessageID{10, 20, 30},
		LatestID:        30,
		LastStartedID:   20,
		LastCompletedID: 20,
	}

	if !r.Remove(20, now) {
		t.Fatal("expected remove to report presence")
	}
	want := []MessageID{10, 30}
	if !reflect.DeepEqual(r.Playlist, want) {
		t.Errorf("playlist: got %v, want %v", r.Playlist, want)
	}
	if r.LastStartedID != 0 || r.LastCompletedID != 0 {
		t.Errorf("markers not cleared: started=%d completed=%d", r.LastStartedID, r.LastCompletedID)
	}
}

func TestRemoveAbsentIDStillTouchesUpdatedAt(t *testing.T) {
	r := PlaylistRecord{Playlist: []MessageID{1}}
	if r.Remove(99, now) {
		t.Fatal("remove of absent id reported presence")
	}
	if r.UpdatedAt != now.Unix() {
		t.Error("updated_at not set")
	}
}

func TestViewRespectsReverseWithoutMutatingStorage(t *testing.T) {
	r := PlaylistRecord{Playlist: []MessageID{10, 20, 30}, Reverse: true}

	got := r.View()
	want := []MessageID{30, 20, 10}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("view: got %v, want %v", got, want)
	}
	if !reflect.DeepEqual(r.Playlist, []MessageID{10, 20, 30}) {
		t.Errorf("storage mutated: %v", r.Playlist)
	}

	r.Reverse = false
	if !reflect.DeepEqual(r.View(), r.Playlist) {
		t.Error("non-reversed view differs from storage order")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		record  PlaylistRecord
		wantErr bool
	}{
		{"ok", PlaylistRecord{Playlist: []MessageID{1, 2}, LatestID: 2}, false},
		{"duplicate", PlaylistRecord{Playlist: []MessageID{1, 1}, LatestID: 1}, true},
		{"latest behind", PlaylistRecord{Playlist: []MessageID{5}, LatestID: 3}, true},
		{"non-positive", PlaylistRecord{Playlist: []MessageID{0}}, true},
		{"empty", PlaylistRecord{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.record.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestIsVideo(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want bool
	}{
		{"native video", Message{Kind: MediaVideo}, true},
		{"video document", Message{Kind: MediaDocument, File: &FileDesc{MimeType: "video/x-matroska"}}, true},
		{"audio document", Message{Kind: MediaDocument, File: &FileDesc{MimeType: "audio/mpeg"}}, false},
		{"document without descriptor", Message{Kind: MediaDocument}, false},
		{"photo", Message{Kind: MediaOther}, false},
		{"empty", Message{Kind: MediaNone}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.IsVideo(); got != tc.want {
				t.Errorf("IsVideo() = %v, want %v", got, tc.want)
			}
		})
	}
}
