package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
)

// Credentials is what one bot client needs to authenticate.
type Credentials struct {
	APIID   int
	APIHash string
	Token   string
}

// GotdClient implements ports.ChatClient over an MTProto connection. One
// instance per pool slot; the session file keeps the auth key across runs.
type GotdClient struct {
	id    int
	log   *slog.Logger
	creds Credentials
	dir   string

	client *telegram.Client
	api    *tg.Client
	homeDC int

	cancel context.CancelFunc
	done   chan error

	mu       sync.Mutex
	channels map[int64]*tg.InputChannel
	titles   map[int64]string
}

var _ ports.ChatClient = (*GotdClient)(nil)

// NewGotdClient builds an unconnected client. id -1 marks the control client,
// 0 the helper, 1..K the numbered workers; the id also names the session file.
func NewGotdClient(log *slog.Logger, id int, creds Credentials, sessionDir string) *GotdClient {
	return &GotdClient{
		id:       id,
		log:      log,
		creds:    creds,
		dir:      sessionDir,
		channels: make(map[int64]*tg.InputChannel),
		titles:   make(map[int64]string),
	}
}

func (c *GotdClient) ID() int { return c.id }

// Connect dials, authenticates the bot token when the stored session is not
// yet authorized, and leaves the connection running in the background until
// Close.
func (c *GotdClient) Connect(ctx context.Context) error {
	storage := &session.FileStorage{
		Path: filepath.Join(c.dir, fmt.Sprintf("client%d.session", c.id)),
	}
	c.client = telegram.NewClient(c.creds.APIID, c.creds.APIHash, telegram.Options{
		SessionStorage: storage,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan error, 1)
	ready := make(chan struct{})

	go func() {
		c.done <- c.client.Run(runCtx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return err
			}
			if !status.Authorized {
				if _, err := c.client.Auth().Bot(ctx, c.creds.Token); err != nil {
					return err
				}
			}
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		c.api = c.client.API()
		cfg := c.client.Config()
		c.homeDC = cfg.ThisDC
		return nil
	case err := <-c.done:
		cancel()
		return mapRPCError(err)
	case <-ctx.Done():
		cancel()
		<-c.done
		return ctx.Err()
	}
}

func (c *GotdClient) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	err := <-c.done
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *GotdClient) HomeDC() int { return c.homeDC }

func (c *GotdClient) ChannelTitle(ctx context.Context, chat domain.ChatID) (string, error) {
	if _, err := c.resolveChannel(ctx, chat); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.titles[bareChannelID(chat)], nil
}

func (c *GotdClient) Messages(ctx context.Context, chat domain.ChatID, ids []domain.MessageID) ([]domain.Message, error) {
	input, err := c.resolveChannel(ctx, chat)
	if err != nil {
		return nil, err
	}

	req := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		req = append(req, &tg.InputMessageID{ID: int(id)})
	}

	res, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: input,
		ID:      req,
	})
	if err != nil {
		return nil, mapRPCError(err)
	}

	byID := make(map[domain.MessageID]domain.Message)
	if msgs, ok := res.(*tg.MessagesChannelMessages); ok {
		for _, raw := range msgs.Messages {
			m := mapMessage(raw)
			if m.ID != 0 {
				byID[m.ID] = m
			}
		}
	}

	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, domain.Message{ID: id, Kind: domain.MediaNone})
	}
	return out, nil
}

func (c *GotdClient) LatestMessageID(ctx context.Context, chat domain.ChatID) (domain.MessageID, error) {
	input, err := c.resolveChannel(ctx, chat)
	if err != nil {
		return 0, err
	}

	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: input.ChannelID, AccessHash: input.AccessHash},
		Limit: 1,
	})
	if err != nil {
		return 0, mapRPCError(err)
	}
	msgs, ok := res.(*tg.MessagesChannelMessages)
	if !ok || len(msgs.Messages) == 0 {
		return 0, fmt.Errorf("channel %d history: %w", chat, domain.ErrNotFound)
	}
	return domain.MessageID(msgs.Messages[0].GetID()), nil
}

func (c *GotdClient) PrimarySession() ports.MediaSession {
	return &mediaSession{api: c.api}
}

// ExportSession opens a dedicated connection to dcID and moves the bot's
// authorization onto it.
func (c *GotdClient) ExportSession(ctx context.Context, dcID int) (ports.MediaSession, error) {
	exported, err := c.api.AuthExportAuthorization(ctx, dcID)
	if err != nil {
		return nil, mapRPCError(err)
	}

	invoker, err := c.client.DC(ctx, dcID, 1)
	if err != nil {
		return nil, err
	}
	api := tg.NewClient(invoker)

	if _, err := api.AuthImportAuthorization(ctx, &tg.AuthImportAuthorizationRequest{
		ID:    exported.ID,
		Bytes: exported.Bytes,
	}); err != nil {
		_ = invoker.Close()
		return nil, mapRPCError(err)
	}

	c.log.Debug("media session exported",
		slog.Int("worker", c.id), slog.Int("dc", dcID))
	return &mediaSession{api: api}, nil
}

func (c *GotdClient) resolveChannel(ctx context.Context, chat domain.ChatID) (*tg.InputChannel, error) {
	id := bareChannelID(chat)

	c.mu.Lock()
	if input, ok := c.channels[id]; ok {
		c.mu.Unlock()
		return input, nil
	}
	c.mu.Unlock()

	// Bots can look up channels they belong to with a zero access hash.
	res, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: id},
	})
	if err != nil {
		return nil, mapRPCError(err)
	}

	for _, raw := range res.GetChats() {
		ch, ok := raw.(*tg.Channel)
		if !ok || ch.ID != id {
			continue
		}
		input := &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
		c.mu.Lock()
		c.channels[id] = input
		c.titles[id] = ch.Title
		c.mu.Unlock()
		return input, nil
	}
	return nil, fmt.Errorf("channel %d: %w", chat, domain.ErrNotFound)
}

// mediaSession wraps one invoker. Exported cross-DC sessions live until the
// owning client closes; the upstream tears them down with the connection.
type mediaSession struct {
	api *tg.Client
}

func (s *mediaSession) FetchChunk(ctx context.Context, desc domain.FileDesc, offset int64, limit int) ([]byte, error) {
	res, err := s.api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Precise: true,
		Location: &tg.InputDocumentFileLocation{
			ID:            desc.MediaID,
			AccessHash:    desc.AccessHash,
			FileReference: desc.FileReference,
			ThumbSize:     desc.ThumbSize,
		},
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return nil, mapRPCError(err)
	}
	file, ok := res.(*tg.UploadFile)
	if !ok {
		return nil, fmt.Errorf("unexpected upload response %T", res)
	}
	return file.Bytes, nil
}

func mapMessage(raw tg.MessageClass) domain.Message {
	msg, ok := raw.(*tg.Message)
	if !ok {
		return domain.Message{}
	}
	out := domain.Message{ID: domain.MessageID(msg.ID), Kind: domain.MediaNone}

	media, ok := msg.GetMedia()
	if !ok {
		return out
	}
	docMedia, ok := media.(*tg.MessageMediaDocument)
	if !ok {
		out.Kind = domain.MediaOther
		return out
	}
	docClass, ok := docMedia.GetDocument()
	if !ok {
		return out
	}
	doc, ok := docClass.AsNotEmpty()
	if !ok {
		return out
	}

	desc := domain.FileDesc{
		MediaID:       doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
		DCID:          doc.DCID,
		FileSize:      doc.Size,
		MimeType:      doc.MimeType,
		UniqueID:      fmt.Sprintf("%d_%d", doc.DCID, doc.ID),
	}
	out.Kind = domain.MediaDocument
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			out.Kind = domain.MediaVideo
		case *tg.DocumentAttributeFilename:
			desc.FileName = a.FileName
		}
	}
	out.File = &desc
	return out
}

// bareChannelID strips the -100 prefix chat-style channel IDs carry.
func bareChannelID(chat domain.ChatID) int64 {
	return -int64(chat) - 1_000_000_000_000
}

func mapRPCError(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &domain.FloodWaitError{Wait: wait}
	}
	if tgerr.Is(err, "ACCESS_TOKEN_EXPIRED", "ACCESS_TOKEN_INVALID", "AUTH_KEY_UNREGISTERED") {
		return fmt.Errorf("%w: %v", domain.ErrCredentialExpired, err)
	}
	if tgerr.Is(err, "FILE_REFERENCE_EXPIRED", "MESSAGE_ID_INVALID", "CHANNEL_INVALID") {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return err
}
