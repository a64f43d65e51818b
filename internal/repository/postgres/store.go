// Package postgres persists channel playlists in a single table, one row per
// channel with the playlist as a BIGINT array. Every mutation is one
// statement, so concurrent appenders and marker writers never lose updates.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS playlists (
	chat_id           BIGINT PRIMARY KEY,
	playlist          BIGINT[] NOT NULL DEFAULT '{}',
	latest_id         BIGINT NOT NULL DEFAULT 0,
	last_started_id   BIGINT NOT NULL DEFAULT 0,
	last_completed_id BIGINT NOT NULL DEFAULT 0,
	reverse           BOOLEAN NOT NULL DEFAULT FALSE,
	channel_name      TEXT NOT NULL DEFAULT '',
	updated_at        BIGINT NOT NULL DEFAULT 0
)`

type Store struct {
	pool *pgxpool.Pool
}

var _ ports.PlaylistStore = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func Connect(ctx context.Context, uri string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the playlists table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) Load(ctx context.Context, chatID domain.ChatID) (domain.PlaylistRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT playlist, latest_id, last_started_id, last_completed_id, reverse, channel_name, updated_at
		FROM playlists WHERE chat_id = $1`, int64(chatID))

	var (
		playlist  []int64
		rec       domain.PlaylistRecord
		latest    int64
		started   int64
		completed int64
	)
	err := row.Scan(&playlist, &latest, &started, &completed, &rec.Reverse, &rec.ChannelName, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PlaylistRecord{}, domain.ErrNotFound
		}
		return domain.PlaylistRecord{}, err
	}

	rec.ChatID = chatID
	rec.LatestID = domain.MessageID(latest)
	rec.LastStartedID = domain.MessageID(started)
	rec.LastCompletedID = domain.MessageID(completed)
	rec.Playlist = make([]domain.MessageID, 0, len(playlist))
	for _, id := range playlist {
		rec.Playlist = append(rec.Playlist, domain.MessageID(id))
	}
	return rec, nil
}

// AppendNew appends only the IDs absent from the stored array, ascending, and
// raises latest_id, all inside one upsert. Repeating a window is a no-op.
func (s *Store) AppendNew(ctx context.Context, chatID domain.ChatID, ids []domain.MessageID, reverse bool, channelName string) error {
	incoming := make([]int64, 0, len(ids))
	maxID := int64(0)
	for _, id := range ids {
		incoming = append(incoming, int64(id))
		if int64(id) > maxID {
			maxID = int64(id)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO playlists (chat_id, playlist, latest_id, reverse, channel_name, updated_at)
		VALUES (
			$1,
			(SELECT COALESCE(array_agg(x ORDER BY x), '{}') FROM unnest($2::BIGINT[]) AS x),
			$3, $4, $5, $6
		)
		ON CONFLICT (chat_id) DO UPDATE SET
			playlist = playlists.playlist || (
				SELECT COALESCE(array_agg(x ORDER BY x), '{}')
				FROM unnest($2::BIGINT[]) AS x
				WHERE NOT x = ANY(playlists.playlist)
			),
			latest_id    = GREATEST(playlists.latest_id, $3),
			reverse      = $4,
			channel_name = CASE WHEN $5 <> '' THEN $5 ELSE playlists.channel_name END,
			updated_at   = $6`,
		int64(chatID), incoming, maxID, reverse, channelName, time.Now().UTC().Unix())
	return err
}

func (s *Store) RemoveVideo(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO playlists (chat_id, updated_at) VALUES ($1, $3)
		ON CONFLICT (chat_id) DO UPDATE SET
			playlist          = array_remove(playlists.playlist, $2),
			last_started_id   = CASE WHEN playlists.last_started_id = $2 THEN 0 ELSE playlists.last_started_id END,
			last_completed_id = CASE WHEN playlists.last_completed_id = $2 THEN 0 ELSE playlists.last_completed_id END,
			updated_at        = $3`,
		int64(chatID), int64(id), time.Now().UTC().Unix())
	return err
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO playlists (chat_id, `+column+`, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE SET `+column+` = $2, updated_at = $3`,
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
