// Package apihttp is the HTTP surface: HLS delivery, the IPTV master list,
// the file explorer, the SSE log tail, metrics and the stream-state
// websocket.
package apihttp

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tgstream/internal/domain"
)

// StateSource supplies the current per-stream snapshots; the orchestrator
// wires the supervisors in.
type StateSource func() []domain.StreamState

type Server struct {
	logger      *slog.Logger
	hlsRoot     string
	logPath     string
	exploreRoot string
	baseURL     string
	streamNames []string
	states      StateSource

	handler http.Handler
	wsHub   *wsHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func WithHLSRoot(dir string) ServerOption {
	return func(s *Server) { s.hlsRoot = dir }
}

func WithLogPath(path string) ServerOption {
	return func(s *Server) { s.logPath = path }
}

func WithExploreRoot(dir string) ServerOption {
	return func(s *Server) { s.exploreRoot = dir }
}

// WithBaseURL overrides the host used in playlist.m3u links; empty falls back
// to the request Host header.
func WithBaseURL(base string) ServerOption {
	return func(s *Server) { s.baseURL = strings.TrimSuffix(base, "/") }
}

func WithStreamNames(names []string) ServerOption {
	return func(s *Server) { s.streamNames = names }
}

func WithStateSource(src StateSource) ServerOption {
	return func(s *Server) { s.states = src }
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		hlsRoot:     "hls",
		logPath:     "log.txt",
		exploreRoot: ".",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/hls/", s.handleHLS)
	mux.HandleFunc("/playlist.m3u", s.handlePlaylistM3U)
	mux.HandleFunc("/explorer", s.handleExplorer)
	mux.HandleFunc("/live-logs", s.handleLiveLogs)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "tgstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && !strings.HasPrefix(r.URL.Path, "/hls/")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// RunStateBroadcaster pushes the stream snapshots to websocket clients every
// interval until stop closes.
func (s *Server) RunStateBroadcaster(stop <-chan struct{}, interval time.Duration) {
	if s.states == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.wsHub.BroadcastStates(s.states())
		}
	}
}

// Close disconnects all websocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
