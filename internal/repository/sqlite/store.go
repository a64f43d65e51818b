// Package sqlite persists channel playlists in an embedded SQLite database,
// one row per channel. The playlist is a comma-joined TEXT column; append and
// remove go through a read-modify-write under a single connection.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS playlists (
	chat_id           INTEGER PRIMARY KEY,
	playlist          TEXT NOT NULL DEFAULT '',
	latest_id         INTEGER NOT NULL DEFAULT 0,
	last_started_id   INTEGER NOT NULL DEFAULT 0,
	last_completed_id INTEGER NOT NULL DEFAULT 0,
	reverse           INTEGER NOT NULL DEFAULT 0,
	channel_name      TEXT NOT NULL DEFAULT '',
	updated_at        INTEGER NOT NULL DEFAULT 0
)`

type Store struct {
	db *sql.DB
}

var _ ports.PlaylistStore = (*Store)(nil)

// Open creates the database file when missing and applies the WAL pragmas
// every connection needs. MaxOpenConns is 1: this store is write-heavy and
// single-process.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, chatID domain.ChatID) (domain.PlaylistRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT playlist, latest_id, last_started_id, last_completed_id, reverse, channel_name, updated_at
		FROM playlists WHERE chat_id = ?`, int64(chatID))

	var (
		encoded   string
		rec       domain.PlaylistRecord
		latest    int64
		started   int64
		completed int64
	)
	err := row.Scan(&encoded, &latest, &started, &completed, &rec.Reverse, &rec.ChannelName, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PlaylistRecord{}, domain.ErrNotFound
		}
		return domain.PlaylistRecord{}, err
	}

	playlist, err := decodeList(encoded)
	if err != nil {
		return domain.PlaylistRecord{}, fmt.Errorf("sqlite: playlist column for chat %d: %w", chatID, err)
	}
	rec.ChatID = chatID
	rec.Playlist = playlist
	rec.LatestID = domain.MessageID(latest)
	rec.LastStartedID = domain.MessageID(started)
	rec.LastCompletedID = domain.MessageID(completed)
	return rec, nil
}

func (s *Store) AppendNew(ctx context.Context, chatID domain.ChatID, ids []domain.MessageID, reverse bool, channelName string) error {
	return s.mutate(ctx, chatID, func(rec *domain.PlaylistRecord) {
		rec.Merge(ids, reverse, channelName, time.Now().UTC())
	})
}

func (s *Store) RemoveVideo(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error {
	return s.mutate(ctx, chatID, func(rec *domain.PlaylistRecord) {
		rec.Remove(id, time.Now().UTC())
	})
}

func (s *Store) SetLastStarted(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error {
	return s.setMarker(ctx, chatID, "last_started_id", id)
}

func (s *Store) SetLastCompleted(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error {
	return s.setMarker(ctx, chatID, "last_completed_id", id)
}

// setMarker upserts so a marker write never depends on the playlist row
// already existing.
func (s *Store) setMarker(ctx context.Context, chatID domain.ChatID, column string, id domain.MessageID) error {
	// column is one of two compile-time constants, never user input.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playlists (chat_id, `+column+`, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET `+column+` = excluded.`+column+`, updated_at = excluded.updated_at`,
		int64(chatID), int64(id), time.Now().UTC().Unix())
	return err
}

func (s *Store) GetPlaylist(ctx context.Context, chatID domain.ChatID) ([]domain.MessageID, error) {
	rec, err := s.Load(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec.View(), nil
}

func (s *Store) mutate(ctx context.Context, chatID domain.ChatID, apply func(*domain.PlaylistRecord)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec := domain.PlaylistRecord{ChatID: chatID}
	row := tx.QueryRowContext(ctx, `
		SELECT playlist, latest_id, last_started_id, last_completed_id, reverse, channel_name, updated_at
		FROM playlists WHERE chat_id = ?`, int64(chatID))

	var (
		encoded   string
		latest    int64
		started   int64
		completed int64
	)
	err = row.Scan(&encoded, &latest, &started, &completed, &rec.Reverse, &rec.ChannelName, &rec.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// fresh record
	case err != nil:
		return err
	default:
		rec.Playlist, err = decodeList(encoded)
		if err != nil {
			return err
		}
		rec.LatestID = domain.MessageID(latest)
		rec.LastStartedID = domain.MessageID(started)
		rec.LastCompletedID = domain.MessageID(completed)
	}

	apply(&rec)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO playlists (chat_id, playlist, latest_id, last_started_id, last_completed_id, reverse, channel_name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			playlist = excluded.playlist,
			latest_id = excluded.latest_id,
			last_started_id = excluded.last_started_id,
			last_completed_id = excluded.last_completed_id,
			reverse = excluded.reverse,
			channel_name = excluded.channel_name,
			updated_at = excluded.updated_at`,
		int64(chatID), encodeList(rec.Playlist), int64(rec.LatestID),
		int64(rec.LastStartedID), int64(rec.LastCompletedID),
		rec.Reverse, rec.ChannelName, rec.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func encodeList(ids []domain.MessageID) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(int64(id), 10))
	}
	return strings.Join(parts, ",")
}

func decodeList(encoded string) ([]domain.MessageID, error) {
	if encoded == "" {
		return nil, nil
	}
	parts := strings.Split(encoded, ",")
	ids := make([]domain.MessageID, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, domain.MessageID(v))
	}
	return ids, nil
}
