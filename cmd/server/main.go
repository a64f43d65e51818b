package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	apihttp "tgstream/internal/api/http"
	"tgstream/internal/app"
	"tgstream/internal/domain"
	"tgstream/internal/domain/ports"
	"tgstream/internal/encoding"
	"tgstream/internal/metrics"
	"tgstream/internal/playlist"
	jsonrepo "tgstream/internal/repository/jsonfile"
	mongorepo "tgstream/internal/repository/mongo"
	pgrepo "tgstream/internal/repository/postgres"
	sqliterepo "tgstream/internal/repository/sqlite"
	"tgstream/internal/stream"
	"tgstream/internal/telegram"
	"tgstream/internal/telemetry"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, logFile, err := app.NewLogger(cfg.DebugMode, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Setup(context.Background(), "tgstream")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "tgstream"),
		slog.Int("port", cfg.HTTPPort),
		slog.Int("channels", len(cfg.StreamChannelIDs)),
		slog.Int("workers", len(cfg.MultiTokens)),
		slog.Int64("owner", cfg.OwnerID),
		slog.Bool("debug", cfg.DebugMode),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("hlsDir", cfg.HLSDir),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, initCancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer initCancel()

	store, closeStore, err := openStore(initCtx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	// Fresh HLS tree each run; segments from a previous run confuse players.
	if err := os.RemoveAll(cfg.HLSDir); err != nil {
		logger.Warn("hls cleanup failed", slog.String("error", err.Error()))
	}
	if err := os.MkdirAll(cfg.HLSDir, 0o755); err != nil {
		logger.Error("hls dir create failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	creds := telegram.Credentials{APIID: cfg.APIID, APIHash: cfg.APIHash}

	mainCreds := creds
	mainCreds.Token = cfg.BotToken
	mainClient := telegram.NewGotdClient(logger, -1, mainCreds, cfg.SessionDir)

	var workers []ports.ChatClient
	helperToken := cfg.HelperBotToken
	if helperToken == "" {
		// No dedicated helper; the control token also serves media.
		helperToken = cfg.BotToken
	}
	helperCreds := creds
	helperCreds.Token = helperToken
	workers = append(workers, telegram.NewGotdClient(logger, 0, helperCreds, cfg.SessionDir))
	for i, token := range cfg.MultiTokens {
		wc := creds
		wc.Token = token
		workers = append(workers, telegram.NewGotdClient(logger, i+1, wc, cfg.SessionDir))
	}

	pool := telegram.NewPool(logger, mainClient, workers)
	if err := pool.Start(rootCtx); err != nil {
		logger.Error("client pool start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	streamCtx, cancelStreams := context.WithCancel(rootCtx)
	defer cancelStreams()

	streamers := telegram.NewStreamers(logger, pool)
	go streamers.Run(streamCtx)

	registry := encoding.NewRegistry()
	player := &stream.FFmpegPlayer{
		Log:        logger,
		Streamers:  streamers,
		Registry:   registry,
		FFmpegPath: cfg.FFmpegPath,
	}

	// One playlist scan at a time across all channels.
	scanGate := semaphore.NewWeighted(1)

	var (
		managers    []*playlist.Manager
		supervisors []*stream.Supervisor
		streamNames []string
		wg          sync.WaitGroup
	)
	for i, chatID := range cfg.StreamChannelIDs {
		name := fmt.Sprintf("stream%d", i+1)
		mgr := playlist.NewManager(logger, pool.Main(), store, domain.ChatID(chatID), scanGate,
			playlist.Options{AutoChecker: true})
		if err := mgr.Build(rootCtx); err != nil {
			logger.Error("playlist build failed",
				slog.String("stream", name),
				slog.Int64("chat", chatID),
				slog.String("error", err.Error()))
			continue
		}
		managers = append(managers, mgr)

		sup := stream.NewSupervisor(logger, name, domain.ChatID(chatID), cfg.HLSDir, pool, mgr, player)
		supervisors = append(supervisors, sup)
		streamNames = append(streamNames, name)

		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Run(streamCtx)
		}()
	}
	if len(supervisors) == 0 {
		logger.Warn("no streams running; serving HTTP only")
	}

	handler := apihttp.NewServer(
		apihttp.WithLogger(logger),
		apihttp.WithHLSRoot(cfg.HLSDir),
		apihttp.WithLogPath(app.LogFilePath),
		apihttp.WithBaseURL(cfg.BaseURL),
		apihttp.WithStreamNames(streamNames),
		apihttp.WithStateSource(func() []domain.StreamState {
			states := make([]domain.StreamState, 0, len(supervisors))
			for _, sup := range supervisors {
				states = append(states, sup.State())
			}
			return states
		}),
	)

	stopBroadcast := make(chan struct{})
	go handler.RunStateBroadcaster(stopBroadcast, 5*time.Second)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started",
		slog.Int("port", cfg.HTTPPort), slog.Int("streams", len(supervisors)))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Shutdown order: supervisors, managers, encoder processes, HTTP, pool.
	close(stopBroadcast)
	cancelStreams()

	supDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(supDone)
	}()
	select {
	case <-supDone:
	case <-time.After(15 * time.Second):
		logger.Warn("supervisors did not stop in time")
	}

	for _, mgr := range managers {
		mgr.Stop()
	}
	registry.StopAll(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}

	pool.Stop()

	if err := os.RemoveAll(cfg.HLSDir); err != nil {
		logger.Warn("hls cleanup failed", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// openStore picks the playlist backend: mongo when DATABASE_URL is set, then
// postgres, then sqlite, defaulting to the json file.
func openStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (ports.PlaylistStore, func(), error) {
	switch {
	case cfg.MongoURI != "":
		client, err := mongorepo.Connect(ctx, cfg.MongoURI,
			options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo ping: %w", err)
		}
		logger.Info("playlist store: mongo")
		closer := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
			}
		}
		return mongorepo.NewStore(client, "tgstream", "playlists"), closer, nil

	case cfg.PostgresURL != "":
		dbpool, err := pgrepo.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		store := pgrepo.NewStore(dbpool)
		if err := store.EnsureSchema(ctx); err != nil {
			dbpool.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		logger.Info("playlist store: postgres")
		return store, dbpool.Close, nil

	case cfg.SQLitePath != "":
		store, err := sqliterepo.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open: %w", err)
		}
		logger.Info("playlist store: sqlite", slog.String("path", cfg.SQLitePath))
		closer := func() {
			if err := store.Close(); err != nil {
				logger.Warn("sqlite close error", slog.String("error", err.Error()))
			}
		}
		return store, closer, nil

	default:
		store, err := jsonrepo.NewStore(cfg.PlaylistFile)
		if err != nil {
			return nil, nil, fmt.Errorf("json store: %w", err)
		}
		logger.Info("playlist store: json file", slog.String("path", cfg.PlaylistFile))
		return store, func() {}, nil
	}
}
