package encoding

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNextSegmentNumber(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		if got := NextSegmentNumber(t.TempDir()); got != 1 {
			t.Errorf("got %d, want 1", got)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		if got := NextSegmentNumber(filepath.Join(t.TempDir(), "nope")); got != 1 {
			t.Errorf("got %d, want 1", got)
		}
	})

	t.Run("continues after existing segments", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "7.ts")
		touch(t, dir, "8.ts")
		touch(t, dir, "live.m3u8")
		if got := NextSegmentNumber(dir); got != 9 {
			t.Errorf("got %d, want 9", got)
		}
	})

	t.Run("ignores non-numeric stems", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "3.ts")
		touch(t, dir, "old.ts")
		touch(t, dir, "12.ts.tmp")
		if got := NextSegmentNumber(dir); got != 4 {
			t.Errorf("got %d, want 4", got)
		}
	})

	t.Run("monotonic across restarts", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "9.ts")
		first := NextSegmentNumber(dir)
		touch(t, dir, "10.ts")
		touch(t, dir, "11.ts")
		second := NextSegmentNumber(dir)
		if first != 10 || second != 12 {
			t.Errorf("got %d then %d, want 10 then 12", first, second)
		}
	})
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s missing in %v", flag, args)
	return ""
}

func TestSegmenterArgs(t *testing.T) {
	args := segmenterArgs("hls/stream1", 9)

	if got := argValue(t, args, "-start_number"); got != "9" {
		t.Errorf("start_number: %s", got)
	}
	if got := argValue(t, args, "-hls_time"); got != "4" {
		t.Errorf("hls_time: %s", got)
	}
	if got := argValue(t, args, "-hls_list_size"); got != "10" {
		t.Errorf("hls_list_size: %s", got)
	}
	flags := argValue(t, args, "-hls_flags")
	for _, want := range []string{"delete_segments", "append_list", "omit_endlist", "independent_segments"} {
		if !strings.Contains(flags, want) {
			t.Errorf("hls_flags missing %s: %s", want, flags)
		}
	}
	if got := args[len(args)-1]; got != filepath.Join("hls/stream1", "live.m3u8") {
		t.Errorf("manifest path: %s", got)
	}
}

func TestCleanerArgs(t *testing.T) {
	args := cleanerArgs()

	if got := argValue(t, args, "-c:v"); got != "copy" {
		t.Errorf("video codec: %s", got)
	}
	if got := argValue(t, args, "-c:a"); got != "aac" {
		t.Errorf("audio codec: %s", got)
	}
	if got := argValue(t, args, "-f"); got != "mpegts" {
		t.Errorf("container: %s", got)
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("output: %s", args[len(args)-1])
	}
}

func TestTSReadSizeIsPacketAligned(t *testing.T) {
	if tsReadSize%188 != 0 {
		t.Errorf("read size %d is not a multiple of the TS packet size", tsReadSize)
	}
}
