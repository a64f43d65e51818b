package domain

import (
	"errors"
	"time"
)

// ChatID identifies one source channel.
type ChatID int64

// MessageID identifies one video message inside a channel. IDs are positive;
// zero means "unset" for the started/completed markers.
type MessageID int64

// PlaylistRecord is the durable per-channel state. The playlist is stored
// oldest-first and never reordered; Reverse only flips the playback view.
type PlaylistRecord struct {
	ChatID          ChatID      `json:"chat_id"`
	Playlist        []MessageID `json:"playlist"`
	LatestID        MessageID   `json:"latest_id"`
	LastStartedID   MessageID   `json:"last_started_id"`
	LastCompletedID MessageID   `json:"last_completed_id"`
	Reverse         bool        `json:"reverse"`
	ChannelName     string      `json:"channel_name"`
	UpdatedAt       int64       `json:"updated_at"`
}

// Validate checks the record invariants: unique playlist entries and
// latest_id covering the playlist maximum.
func (r PlaylistRecord) Validate() error {
	seen := make(map[MessageID]struct{}, len(r.Playlist))
	for _, id := range r.Playlist {
		if id <= 0 {
			return errors.New("playlist ids must be positive")
		}
		if _, dup := seen[id]; dup {
			return errors.New("playlist contains duplicate ids")
		}
		seen[id] = struct{}{}
		if id > r.LatestID {
			return errors.New("latest_id is behind the playlist")
		}
	}
	return nil
}

// Merge union-merges ids into the record: existing order is preserved and
// only previously absent IDs are appended, in ascending order. LatestID is
// raised to the largest observed ID. Reverse is always taken; channelName
// only when non-empty. Returns true when anything changed.
func (r *PlaylistRecord) Merge(ids []MessageID, reverse bool, channelName string, now time.Time) bool {
	present := make(map[MessageID]struct{}, len(r.Playlist))
	for _, id := range r.Playlist {
		present[id] = struct{}{}
	}

	fresh := make([]MessageID, 0, len(ids))
	for _, id := range ids {
		if _, ok := present[id]; ok {
			continue
		}
		present[id] = struct{}{}
		fresh = append(fresh, id)
	}
	sortMessageIDs(fresh)

	changed := len(fresh) > 0
	r.Playlist = append(r.Playlist, fresh...)
	for _, id := range fresh {
		if id > r.LatestID {
			r.LatestID = id
		}
	}
	if r.Reverse != reverse {
		r.Reverse = reverse
		changed = true
	}
	if channelName != "" && r.ChannelName != channelName {
		r.ChannelName = channelName
		changed = true
	}
	r.UpdatedAt = now.Unix()
	return changed
}

// Remove drops id from the playlist and clears any marker equal to it.
func (r *PlaylistRecord) Remove(id MessageID, now time.Time) bool {
	idx := -1
	for i, v := range r.Playlist {
		if v == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		r.Playlist = append(r.Playlist[:idx], r.Playlist[idx+1:]...)
	}
	if r.LastStartedID == id {
		r.LastStartedID = 0
	}
	if r.LastCompletedID == id {
		r.LastCompletedID = 0
	}
	r.UpdatedAt = now.Unix()
	return idx >= 0
}

// View returns the playback-order playlist: storage order, reversed when the
// reverse flag is set. The returned slice is always a copy.
func (r PlaylistRecord) View() []MessageID {
	out := make([]MessageID, len(r.Playlist))
	if r.Reverse {
		for i, id := range r.Playlist {
			out[len(out)-1-i] = id
		}
		return out
	}
	copy(out, r.Playlist)
	return out
}

func sortMessageIDs(ids []MessageID) {
	// Insertion sort: discovery windows are small and near-sorted.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
