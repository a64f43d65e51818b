package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
	"tgstream/internal/metrics"
)

// ChunkSize is the fixed upstream request size.
const ChunkSize = 512 * 1024

const cacheSweepInterval = 30 * time.Minute

// PartCount is ceil(size/ChunkSize), at least 1 so empty files still produce
// one (cut-down) buffer.
func PartCount(size int64) int64 {
	n := (size + ChunkSize - 1) / ChunkSize
	if n < 1 {
		n = 1
	}
	return n
}

// LastCut is the length of the final part: size mod ChunkSize, or a full
// chunk when the file divides evenly.
func LastCut(size int64) int64 {
	if c := size % ChunkSize; c != 0 {
		return c
	}
	return ChunkSize
}

type propsKey struct {
	chat domain.ChatID
	msg  domain.MessageID
}

// ByteStreamer pulls file bytes through one pool client. File descriptors are
// cached until the periodic sweep; media sessions are cached per datacenter
// for the life of the client.
type ByteStreamer struct {
	log    *slog.Logger
	client ports.ChatClient

	mu       sync.Mutex
	props    map[propsKey]domain.FileDesc
	sessions map[int]ports.MediaSession
}

func NewByteStreamer(log *slog.Logger, client ports.ChatClient) *ByteStreamer {
	return &ByteStreamer{
		log:      log,
		client:   client,
		props:    make(map[propsKey]domain.FileDesc),
		sessions: make(map[int]ports.MediaSession),
	}
}

// Sweep empties the descriptor cache. File references go stale upstream, so
// the cache must not outlive them; Streamers calls this on a 30 minute tick.
func (s *ByteStreamer) Sweep() {
	s.mu.Lock()
	n := len(s.props)
	s.props = make(map[propsKey]domain.FileDesc)
	s.mu.Unlock()
	if n > 0 {
		s.log.Debug("file descriptor cache swept", slog.Int("dropped", n))
	}
}

// FileProperties fetches the message and decodes its file descriptor. A
// missing message or a non-video payload is domain.ErrNotFound.
func (s *ByteStreamer) FileProperties(ctx context.Context, chat domain.ChatID, id domain.MessageID) (domain.FileDesc, error) {
	key := propsKey{chat: chat, msg: id}
	s.mu.Lock()
	if desc, ok := s.props[key]; ok {
		s.mu.Unlock()
		return desc, nil
	}
	s.mu.Unlock()

	msgs, err := s.client.Messages(ctx, chat, []domain.MessageID{id})
	if err != nil {
		return domain.FileDesc{}, err
	}
	if len(msgs) == 0 || !msgs[0].IsVideo() || msgs[0].File == nil {
		return domain.FileDesc{}, fmt.Errorf("message %d in chat %d: %w", id, chat, domain.ErrNotFound)
	}
	desc := *msgs[0].File

	s.mu.Lock()
	s.props[key] = desc
	s.mu.Unlock()
	return desc, nil
}

// Forget drops one cached descriptor, used after the upstream revokes a file
// reference mid-stream.
func (s *ByteStreamer) Forget(chat domain.ChatID, id domain.MessageID) {
	s.mu.Lock()
	delete(s.props, propsKey{chat: chat, msg: id})
	s.mu.Unlock()
}

func (s *ByteStreamer) session(ctx context.Context, dcID int) (ports.MediaSession, error) {
	if dcID == s.client.HomeDC() {
		return s.client.PrimarySession(), nil
	}

	s.mu.Lock()
	if sess, ok := s.sessions[dcID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	sess, err := s.client.ExportSession(ctx, dcID)
	if err != nil {
		return nil, fmt.Errorf("export session to dc %d: %w", dcID, err)
	}

	s.mu.Lock()
	// Another stream may have raced us here; the duplicate is harmless and
	// the later one wins the cache slot.
	s.sessions[dcID] = sess
	s.mu.Unlock()
	return sess, nil
}

// FileStream is a pull iterator over the sliced parts of one file. Next
// returns io.EOF after the final part.
type FileStream struct {
	streamer *ByteStreamer
	session  ports.MediaSession
	desc     domain.FileDesc

	offset    int64
	firstCut  int64
	lastCut   int64
	partCount int64
	part      int64
}

// StreamFile opens a lazy byte sequence over desc. The session for the
// descriptor's datacenter is resolved (and cached) up front; chunk fetching
// happens inside Next.
func (s *ByteStreamer) StreamFile(ctx context.Context, desc domain.FileDesc, offset, firstCut, lastCut, partCount int64) (*FileStream, error) {
	sess, err := s.session(ctx, desc.DCID)
	if err != nil {
		return nil, err
	}
	return &FileStream{
		streamer:  s,
		session:   sess,
		desc:      desc,
		offset:    offset,
		firstCut:  firstCut,
		lastCut:   lastCut,
		partCount: partCount,
	}, nil
}

// Next fetches and slices the next part. Transient timeouts end the stream
// cleanly with io.EOF; the supervisor restarts from a fresh descriptor.
func (f *FileStream) Next(ctx context.Context) ([]byte, error) {
	if f.part >= f.partCount {
		return nil, io.EOF
	}

	buf, err := f.session.FetchChunk(ctx, f.desc, f.offset, ChunkSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTransient(err) {
			f.streamer.log.Warn("upstream read timed out, ending stream",
				slog.Int64("part", f.part), slog.String("err", err.Error()))
			return nil, io.EOF
		}
		return nil, err
	}
	if len(buf) == 0 {
		return nil, io.EOF
	}
	metrics.UpstreamBytesTotal.Add(float64(len(buf)))

	cut := f.slice(buf)
	f.offset += ChunkSize
	f.part++
	return cut, nil
}

func (f *FileStream) slice(buf []byte) []byte {
	switch {
	case f.partCount == 1:
		return buf[clamp(f.firstCut, buf):clamp(f.lastCut, buf)]
	case f.part == 0:
		return buf[clamp(f.firstCut, buf):]
	case f.part == f.partCount-1:
		return buf[:clamp(f.lastCut, buf)]
	default:
		return buf
	}
}

func clamp(cut int64, buf []byte) int64 {
	if cut > int64(len(buf)) {
		return int64(len(buf))
	}
	if cut < 0 {
		return 0
	}
	return cut
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
