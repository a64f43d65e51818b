// Package mongo persists channel playlists in a MongoDB collection, one
// document per channel keyed by chat id. Mutations are single atomic updates
// so concurrent appenders never clobber each other.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
)

type Store struct {
	collection *mongo.Collection
}

var _ ports.PlaylistStore = (*Store)(nil)

type playlistDoc struct {
	ChatID          int64   `bson:"_id"`
	Playlist        []int64 `bson:"playlist"`
	LatestID        int64   `bson:"latest_id"`
	LastStartedID   int64   `bson:"last_started_id"`
	LastCompletedID int64   `bson:"last_completed_id"`
	Reverse         bool    `bson:"reverse"`
	ChannelName     string  `bson:"channel_name,omitempty"`
	UpdatedAt       int64   `bson:"updated_at"`
}

func NewStore(client *mongo.Client, dbName, collectionName string) *Store {
	return &Store{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (s *Store) Load(ctx context.Context, chatID domain.ChatID) (domain.PlaylistRecord, error) {
	var doc playlistDoc
	if err := s.collection.FindOne(ctx, bson.M{"_id": int64(chatID)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.PlaylistRecord{}, domain.ErrNotFound
		}
		return domain.PlaylistRecord{}, err
	}
	return fromDoc(doc), nil
}

// AppendNew pushes only the IDs missing from the stored playlist, in ascending
// order, and raises latest_id. The read-then-push pair is safe to repeat: a
// second call with the same window finds nothing left to push.
func (s *Store) AppendNew(ctx context.Context, chatID domain.ChatID, ids []domain.MessageID, reverse bool, channelName string) error {
	rec, err := s.Load(ctx, chatID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	before := len(rec.Playlist)
	rec.Merge(ids, reverse, channelName, time.Now().UTC())
	fresh := rec.Playlist[before:]

	update := bson.M{
		"$set": bson.M{
			"reverse":    reverse,
			"updated_at": rec.UpdatedAt,
		},
	}
	if channelName != "" {
		update["$set"].(bson.M)["channel_name"] = channelName
	}
	if len(fresh) > 0 {
		update["$push"] = bson.M{"playlist": bson.M{"$each": toInt64s(fresh)}}
		update["$max"] = bson.M{"latest_id": int64(rec.LatestID)}
	}

	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": int64(chatID)}, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) RemoveVideo(ctx context.Context, chatID domain.ChatID, id domain.MessageID) error {
	rec, err := s.Load(ctx, chatID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	set := bson.M{"updated_at": time.Now().UTC().Unix()}
	if rec.LastStartedID == id {
		set["last_started_id"] = int64(0)
	}
	if rec.LastCompletedID == id {
		set["last_completed_id"] = int64(0)
	}

	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": int64(chatID)}, bson.M{
		"$pull": bson.M{"playlist": int64(id)},
		"$set":  set,
	}, options.Update().SetUpsert(true))
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
func (s *Store) setMarker(ctx context.Context, chatID domain.ChatID, field string, id domain.MessageID) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": int64(chatID)}, bson.M{
		"$set": bson.M{
			field:        int64(id),
			"updated_at": time.Now().UTC().Unix(),
		},
	}, options.Update().SetUpsert(true))
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

func fromDoc(doc playlistDoc) domain.PlaylistRecord {
	playlist := make([]domain.MessageID, 0, len(doc.Playlist))
	for _, id := range doc.Playlist {
		playlist = append(playlist, domain.MessageID(id))
	}
	return domain.PlaylistRecord{
		ChatID:          domain.ChatID(doc.ChatID),
		Playlist:        playlist,
		LatestID:        domain.MessageID(doc.LatestID),
		LastStartedID:   domain.MessageID(doc.LastStartedID),
		LastCompletedID: domain.MessageID(doc.LastCompletedID),
		Reverse:         doc.Reverse,
		ChannelName:     doc.ChannelName,
		UpdatedAt:       doc.UpdatedAt,
	}
}

func toInt64s(ids []domain.MessageID) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		out = append(out, int64(id))
	}
	return out
}
