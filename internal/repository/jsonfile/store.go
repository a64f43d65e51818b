// Package jsonfile keeps every channel playlist in a single JSON document on
// disk. It is the zero-dependency fallback store: writes are whole-file,
// serialized by one mutex, and land via temp-file-then-rename so a crash never
// leaves a half-written playlist behind.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
)

// Store implements ports.PlaylistStore on top of one JSON file. The document
// is a map keyed "channel_<chat_id>" so a file is shareable across streams.
type Store struct {
	mu   sync.Mutex
	path string
}

var _ ports.PlaylistStore = (*Store)(nil)

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("jsonfile: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("jsonfile: create dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

func (s *Store) Load(ctx context.Context, chatID domain.ChatID) (domain.PlaylistRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return domain.PlaylistRecord{}, err
	}
	rec, ok := doc[recordKey(chatID)]
	if !ok {
		return domain.PlaylistRecord{}, domain.ErrNotFound
	}
	rec.ChatID = chatID
	return rec, nil
}

func (s *Store) AppendNew(ctx context.Context, chatID domain.ChatID, ids []domain.MessageID, reverse bool, channelName string) error {
	return s.mutate(chatID, func(rec *domain.PlaylistRecord) {
		rec.Merge(ids, reverse, channelName, time.Now().UTC())
	})
}

func (s *Store) RemoveVideo(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error {
	return s.mutate(chatID, func(rec *domain.PlaylistRecord) {
		rec.Remove(id, time.Now().UTC())
	})
}

func (s *Store) SetLastStarted(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error {
	return s.mutate(chatID, func(rec *domain.PlaylistRecord) {
		rec.LastStartedID = id
		rec.UpdatedAt = time.Now().UTC().Unix()
	})
}

func (s *Store) SetLastCompleted(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error {
	return s.mutate(chatID, func(rec *domain.PlaylistRecord) {
		rec.LastCompletedID = id
		rec.UpdatedAt = time.Now().UTC().Unix()
	})
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

func (s *Store) mutate(chatID domain.ChatID, apply func(*domain.PlaylistRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	rec := doc[recordKey(chatID)]
	rec.ChatID = chatID
	apply(&rec)
	doc[recordKey(chatID)] = rec
	return s.write(doc)
}

func (s *Store) read() (map[string]domain.PlaylistRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]domain.PlaylistRecord{}, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if len(data) == 0 {
		return map[string]domain.PlaylistRecord{}, nil
	}
	var doc map[string]domain.PlaylistRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jsonfile: decode %s: %w", s.path, err)
	}
	if doc == nil {
		doc = map[string]domain.PlaylistRecord{}
	}
	return doc, nil
}

func (s *Store) write(doc map[string]domain.PlaylistRecord) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".playlists-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func recordKey(chatID domain.ChatID) string {
	return fmt.Sprintf("channel_%d", chatID)
}
