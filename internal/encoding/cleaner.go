package encoding

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// tsReadSize keeps stdout reads aligned to whole TS packets (188 * 256).
const tsReadSize = 188 * 256

// ByteSource is a pull iterator over byte buffers; Next returns io.EOF when
// the source is exhausted. *telegram.FileStream satisfies it, and so does
// *Cleaner, which lets the segmenter read the cleaner directly.
type ByteSource interface {
	Next(ctx context.Context) ([]byte, error)
}

func cleanerArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-fflags", "+genpts",
		"-avoid_negative_ts", "make_zero",
		"-i", "pipe:0",
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
		"-f", "mpegts",
		"pipe:1",
	}
}

// Cleaner normalizes one video into MPEG-TS. A pump goroutine feeds the
// source into ffmpeg stdin; Next reads the TS output. Backpressure is the
// pipes themselves: the pump's blocking write stalls the upstream pull.
type Cleaner struct {
	proc     *Process
	registry *Registry
	cancel   context.CancelFunc
	pumpDone chan struct{}
}

// StartCleaner spawns the cleaner for one video and starts the pump.
func StartCleaner(ctx context.Context, log *slog.Logger, registry *Registry, ffmpegPath string, src ByteSource, streamName string) (*Cleaner, error) {
	proc, err := startProcess(log, streamName+"/cleaner", ffmpegPath, cleanerArgs(), true)
	if err != nil {
		return nil, err
	}
	registry.Add(proc)

	pumpCtx, cancel := context.WithCancel(ctx)
	c := &Cleaner{
		proc:     proc,
		registry: registry,
		cancel:   cancel,
		pumpDone: make(chan struct{}),
	}
	go c.pump(pumpCtx, log, src)
	return c, nil
}

func (c *Cleaner) pump(ctx context.Context, log *slog.Logger, src ByteSource) {
	defer close(c.pumpDone)
	defer c.proc.CloseStdin()

	for {
		buf, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				log.Warn("cleaner source", slog.String("err", err.Error()))
			}
			return
		}
		if len(buf) == 0 {
			continue
		}
		if err := c.proc.Write(buf); err != nil {
			// Broken pipe: the encoder is gone, stop pulling.
			log.Debug("cleaner pump stopped", slog.String("err", err.Error()))
			return
		}
	}
}

// Next reads the next TS slice from the cleaner, up to tsReadSize bytes.
// io.EOF means the encoder finished the whole video.
func (c *Cleaner) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, tsReadSize)
	n, err := c.proc.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Stop cancels the pump, stops the encoder and deregisters it.
func (c *Cleaner) Stop() {
	c.cancel()
	c.proc.Stop()
	<-c.pumpDone
	c.registry.Remove(c.proc)
}
