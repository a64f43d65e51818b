package encoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tgstream/internal/metrics"
)

// NextSegmentNumber returns the start number for a fresh segmenter: one past
// the highest numeric .ts stem already in dir, or 1 for an empty directory.
// Keeping the counter monotonic across restarts stops players from seeing the
// sequence reset.
func NextSegmentNumber(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	max := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".ts") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".ts"))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1
}

func segmenterArgs(dir string, startNumber int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-re",
		"-threads", "1",
		"-fflags", "+genpts+igndts",
		"-analyzeduration", "100M",
		"-probesize", "100M",
		"-f", "mpegts",
		"-i", "pipe:0",
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "baseline",
		"-level", "3.1",
		"-pix_fmt", "yuv420p",
		"-g", "48",
		"-keyint_min", "48",
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "10",
		"-hls_flags", "delete_segments+append_list+omit_endlist+independent_segments",
		"-start_number", strconv.Itoa(startNumber),
		"-hls_segment_filename", filepath.Join(dir, "%d.ts"),
		filepath.Join(dir, "live.m3u8"),
	}
}

// RunSegmenter spawns the HLS segmenter starting at startNumber and feeds it
// from ts until EOF. onWrite fires after every accepted stdin write so the
// watchdog can see the stream is alive. Returns nil on a fully played video.
func RunSegmenter(ctx context.Context, log *slog.Logger, registry *Registry, ffmpegPath string, ts ByteSource, dir, streamName string, startNumber int, onWrite func()) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("segmenter dir: %w", err)
	}

	proc, err := startProcess(log, streamName+"/segmenter", ffmpegPath, segmenterArgs(dir, startNumber), false)
	if err != nil {
		return err
	}
	metrics.SegmenterSpawnsTotal.Inc()
	registry.Add(proc)
	defer registry.Remove(proc)

	for {
		select {
		case <-ctx.Done():
			proc.Stop()
			return ctx.Err()
		default:
		}

		buf, err := ts.Next(ctx)
		if errors.Is(err, io.EOF) {
			// Video finished; the encoder gets the stop grace to flush the
			// tail segments, then Stop kills a wedged one.
			proc.Stop()
			return nil
		}
		if err != nil {
			proc.Stop()
			return err
		}
		if len(buf) == 0 {
			continue
		}
		if err := proc.Write(buf); err != nil {
			proc.Stop()
			return err
		}
		if onWrite != nil {
			onWrite()
		}
	}
}
