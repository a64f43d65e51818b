// Package app holds process-level wiring: configuration and logging.
package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	APIID          int
	APIHash        string
	BotToken       string
	HelperBotToken string
	MultiTokens    []string // MULTI_TOKEN1..N, in order

	BaseURL  string
	HTTPPort int

	MongoURI     string // DATABASE_URL
	PostgresURL  string
	SQLitePath   string
	PlaylistFile string

	StreamChannelIDs []int64 // STREAM_DB_IDS
	OwnerID          int64

	DebugMode bool
	LogFormat string

	FFmpegPath string
	HLSDir     string
	SessionDir string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		APIID:          int(getEnvInt64("API_ID", 0)),
		APIHash:        getEnv("API_HASH", ""),
		BotToken:       getEnv("BOT_TOKEN", ""),
		HelperBotToken: getEnv("HELPER_BOT_TOKEN", ""),
		MultiTokens:    collectMultiTokens(),

		BaseURL:  getEnv("BASE_URL", ""),
		HTTPPort: int(getEnvInt64("PORT", 8000)),

		MongoURI:     getEnv("DATABASE_URL", ""),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		SQLitePath:   getEnv("SQLITE_PATH", ""),
		PlaylistFile: getEnv("PLAYLIST_FILE", "playlists.json"),

		OwnerID: getEnvInt64("OWNER_ID", 0),

		DebugMode: getEnvBool("DEBUG_MODE", false),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
		HLSDir:     getEnv("HLS_DIR", "hls"),
		SessionDir: getEnv("SESSION_DIR", "."),
	}

	ids, err := parseChannelIDs(os.Getenv("STREAM_DB_IDS"))
	if err != nil {
		return Config{}, err
	}
	cfg.StreamChannelIDs = ids

	if cfg.APIID == 0 || cfg.APIHash == "" {
		return Config{}, fmt.Errorf("API_ID and API_HASH are required")
	}
	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("BOT_TOKEN is required")
	}
	return cfg, nil
}

// collectMultiTokens reads MULTI_TOKEN1, MULTI_TOKEN2, ... until the first
// missing index.
func collectMultiTokens() []string {
	var tokens []string
	for i := 1; ; i++ {
		token := strings.TrimSpace(os.Getenv(fmt.Sprintf("MULTI_TOKEN%d", i)))
		if token == "" {
			return tokens
		}
		tokens = append(tokens, token)
	}
}

func parseChannelIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("STREAM_DB_IDS: bad channel id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
