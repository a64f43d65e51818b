package ports

import (
	"context"

	"tgstream/internal/domain"
)

// MediaSession fetches file chunks from one upstream datacenter.
type MediaSession interface {
	// FetchChunk requests up to limit bytes of the file at offset. A short or
	// empty slice means the upstream has no more data at that offset.
	FetchChunk(ctx context.Context, desc domain.FileDesc, offset int64, limit int) ([]byte, error)
}

// ChatClient is one authenticated upstream connection. The byte streamer
// keys media sessions by datacenter on top of this interface.
type ChatClient interface {
	// ID is the worker index (0 = helper).
	ID() int

	Connect(ctx context.Context) error
	Close() error

	// ChannelTitle resolves a display name for the channel, best-effort.
	ChannelTitle(ctx context.Context, chat domain.ChatID) (string, error)

	// Messages fetches the given message IDs. Missing messages come back
	// with Kind == MediaNone; the slice order follows ids.
	Messages(ctx context.Context, chat domain.ChatID, ids []domain.MessageID) ([]domain.Message, error)

	// LatestMessageID returns the newest message ID in the channel, or
	// domain.ErrNotFound for an empty channel.
	LatestMessageID(ctx context.Context, chat domain.ChatID) (domain.MessageID, error)

	// HomeDC is the datacenter the primary session is bound to.
	HomeDC() int

	// PrimarySession returns the already-open home-datacenter session.
	PrimarySession() MediaSession

	// ExportSession opens a fresh session bound to dcID by exporting an
	// authorization from the home session and importing it there.
	ExportSession(ctx context.Context, dcID int) (MediaSession, error)
}
