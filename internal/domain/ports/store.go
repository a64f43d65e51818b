package ports

import (
	"context"

	"tgstream/internal/domain"
)

// PlaylistStore is the durable per-channel playlist state. All four backends
// (json file, mongo, postgres, sqlite) exhibit the same observable behavior:
// storage order is oldest-first and append-only, reverse affects only the
// GetPlaylist view, and removing an ID clears any marker equal to it.
type PlaylistStore interface {
	// Load returns the record for chatID, or domain.ErrNotFound.
	Load(ctx context.Context, chatID domain.ChatID) (domain.PlaylistRecord, error)

	// AppendNew union-merges ids: existing order is preserved, only absent
	// IDs are appended in ascending order, latest_id is raised to the max.
	// The record is created when absent. channelName is set when non-empty.
	AppendNew(ctx context.Context, chatID domain.ChatID, ids []domain.MessageID, reverse bool, channelName string) error

	// RemoveVideo drops id from the stored sequence and nulls matching markers.
	RemoveVideo(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error

	SetLastStarted(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error
	SetLastCompleted(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error

	// GetPlaylist returns the playback view: storage order, reversed iff the
	// stored reverse flag is set.
	GetPlaylist(ctx context.Context, chatID domain.ChatID) ([]domain.MessageID, error)
}
