package domain

import "strings"

// FileDesc is the volatile per-message descriptor needed to pull media bytes
// from the upstream. Cached per client with a periodic full sweep.
type FileDesc struct {
	MediaID       int64
	AccessHash    int64
	FileReference []byte
	ThumbSize     string
	DCID          int
	FileSize      int64
	MimeType      string
	FileName      string
	UniqueID      string
}

// MediaKind classifies the attachment of a channel message.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaVideo
	MediaDocument
	MediaOther
)

// Message is the slice of an upstream chat message the pipeline cares about.
type Message struct {
	ID   MessageID
	Kind MediaKind
	File *FileDesc
}

// IsVideo reports whether the message should enter a playlist: a native
// video, or a document whose MIME type starts with video/. Other media kinds
// are ignored even when present.
func (m Message) IsVideo() bool {
	switch m.Kind {
	case MediaVideo:
		return true
	case MediaDocument:
		return m.File != nil && strings.HasPrefix(m.File.MimeType, "video/")
	default:
		return false
	}
}
