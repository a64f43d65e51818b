package domain

import "time"

// StreamState is a volatile snapshot of one running stream, pushed to
// websocket subscribers and exposed for diagnostics.
type StreamState struct {
	StreamName   string    `json:"streamName"`
	ChatID       ChatID    `json:"chatId"`
	ChannelName  string    `json:"channelName"`
	CurrentID    MessageID `json:"currentId"`
	PlaylistSize int       `json:"playlistSize"`
	LastActivity time.Time `json:"lastActivity"`
	Restarts     int64     `json:"restarts"`
}
