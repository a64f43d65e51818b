// Package stream runs one supervisor per configured channel: it walks the
// playlist forever, pipes each video through the cleaner into the segmenter,
// and restarts itself with backoff when the pipeline stalls or fails.
package stream

import (
	"context"
	"errors"
	"log/slog"

	"tgstream/internal/domain"
	"tgstream/internal/encoding"
	"tgstream/internal/telegram"
)

// Player turns one video into HLS segments on disk. The production
// implementation spawns the two ffmpeg stages; tests substitute a fake.
type Player interface {
	Play(ctx context.Context, clientID int, chat domain.ChatID, video domain.MessageID, hlsDir, streamName string, onWrite func()) error
}

// FFmpegPlayer is the real pipeline: byte streamer feeding the cleaner
// feeding the segmenter.
type FFmpegPlayer struct {
	Log        *slog.Logger
	Streamers  *telegram.Streamers
	Registry   *encoding.Registry
	FFmpegPath string
}

func (p *FFmpegPlayer) Play(ctx context.Context, clientID int, chat domain.ChatID, video domain.MessageID, hlsDir, streamName string, onWrite func()) error {
	streamer := p.Streamers.For(clientID)

	desc, err := streamer.FileProperties(ctx, chat, video)
	if err != nil {
		return err
	}

	fs, err := streamer.StreamFile(ctx, desc, 0, 0,
		telegram.LastCut(desc.FileSize), telegram.PartCount(desc.FileSize))
	if err != nil {
		return err
	}

	cleaner, err := encoding.StartCleaner(ctx, p.Log, p.Registry, p.FFmpegPath, fs, streamName)
	if err != nil {
		return err
	}
	defer cleaner.Stop()

	start := encoding.NextSegmentNumber(hlsDir)
	err = encoding.RunSegmenter(ctx, p.Log, p.Registry, p.FFmpegPath, cleaner, hlsDir, streamName, start, onWrite)
	if err != nil && errors.Is(err, domain.ErrPipeClosed) {
		// The segmenter went away mid-video; treat the video as finished and
		// let the supervisor move on.
		p.Log.Warn("segmenter pipe closed mid-video",
			slog.String("stream", streamName), slog.Int64("video", int64(video)))
		return nil
	}
	return err
}
