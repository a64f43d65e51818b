package app

import (
	"os"
	"testing"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func clearEnvs(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnvs(t,
		"HELPER_BOT_TOKEN", "MULTI_TOKEN1", "BASE_URL", "PORT",
		"DATABASE_URL", "POSTGRES_URL", "SQLITE_PATH", "PLAYLIST_FILE",
		"STREAM_DB_IDS", "OWNER_ID", "DEBUG_MODE", "LOG_FORMAT",
		"FFMPEG_PATH", "HLS_DIR", "SESSION_DIR",
	)
	setEnvs(t, map[string]string{
		"API_ID":    "12345",
		"API_HASH":  "abcdef",
		"BOT_TOKEN": "123:token",
	})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"APIID", cfg.APIID, 12345},
		{"APIHash", cfg.APIHash, "abcdef"},
		{"BotToken", cfg.BotToken, "123:token"},
		{"HTTPPort", cfg.HTTPPort, 8000},
		{"PlaylistFile", cfg.PlaylistFile, "playlists.json"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"DebugMode", cfg.DebugMode, false},
		{"FFmpegPath", cfg.FFmpegPath, "ffmpeg"},
		{"HLSDir", cfg.HLSDir, "hls"},
		{"SessionDir", cfg.SessionDir, "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}
	if len(cfg.MultiTokens) != 0 {
		t.Errorf("MultiTokens: got %v, want empty", cfg.MultiTokens)
	}
	if len(cfg.StreamChannelIDs) != 0 {
		t.Errorf("StreamChannelIDs: got %v, want empty", cfg.StreamChannelIDs)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnvs(t, "MULTI_TOKEN3")
	setEnvs(t, map[string]string{
		"API_ID":           "777",
		"API_HASH":         "hash",
		"BOT_TOKEN":        "1:a",
		"HELPER_BOT_TOKEN": "2:b",
		"MULTI_TOKEN1":     "3:c",
		"MULTI_TOKEN2":     "4:d",
		"BASE_URL":         "stream.example.org",
		"PORT":             "9000",
		"DATABASE_URL":     "mongodb://remote:27017",
		"STREAM_DB_IDS":    "-1001234567890, -1009876543210",
		"OWNER_ID":         "42",
		"DEBUG_MODE":       "true",
		"LOG_FORMAT":       "JSON",
		"FFMPEG_PATH":      "/usr/bin/ffmpeg",
		"HLS_DIR":          "/tmp/hls",
	})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HTTPPort != 9000 {
		t.Errorf("HTTPPort: %d", cfg.HTTPPort)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: %q", cfg.LogFormat)
	}
	if !cfg.DebugMode {
		t.Error("DebugMode should be true")
	}
	if len(cfg.MultiTokens) != 2 || cfg.MultiTokens[0] != "3:c" || cfg.MultiTokens[1] != "4:d" {
		t.Errorf("MultiTokens: %v", cfg.MultiTokens)
	}
	if len(cfg.StreamChannelIDs) != 2 ||
		cfg.StreamChannelIDs[0] != -1001234567890 ||
		cfg.StreamChannelIDs[1] != -1009876543210 {
		t.Errorf("StreamChannelIDs: %v", cfg.StreamChannelIDs)
	}
	if cfg.OwnerID != 42 {
		t.Errorf("OwnerID: %d", cfg.OwnerID)
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	clearEnvs(t, "API_ID", "API_HASH", "BOT_TOKEN", "STREAM_DB_IDS")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without API_ID/API_HASH")
	}

	setEnvs(t, map[string]string{"API_ID": "1", "API_HASH": "h"})
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without BOT_TOKEN")
	}
}

func TestLoadConfigBadChannelID(t *testing.T) {
	setEnvs(t, map[string]string{
		"API_ID":        "1",
		"API_HASH":      "h",
		"BOT_TOKEN":     "1:a",
		"STREAM_DB_IDS": "-100123,oops",
	})
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for non-numeric channel id")
	}
}

func TestCollectMultiTokensStopsAtGap(t *testing.T) {
	clearEnvs(t, "MULTI_TOKEN1", "MULTI_TOKEN2", "MULTI_TOKEN3")
	setEnvs(t, map[string]string{
		"MULTI_TOKEN1": "a",
		"MULTI_TOKEN3": "c", // unreachable past the gap at 2
	})
	tokens := collectMultiTokens()
	if len(tokens) != 1 || tokens[0] != "a" {
		t.Errorf("tokens: %v", tokens)
	}
}
