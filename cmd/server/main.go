package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/makt28/uptrack/internal/config"
	"github.com/makt28/uptrack/internal/events"
	"github.com/makt28/uptrack/internal/monitor"
	"github.com/makt28/uptrack/internal/notify"
	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage"
	"github.com/makt28/uptrack/internal/storage/postgres"
	"github.com/makt28/uptrack/internal/storage/sqlite"
	"github.com/makt28/uptrack/internal/web"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of an API key for auth.api_key_hash and exit")
	flag.Parse()

	if *hashKey != "" {
		h, err := config.HashAPIKey(*hashKey)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	// --- 1. Load Config ---
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}
	cfgMgr, err := config.NewManager(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	// --- 2. Setup Logger ---
	setupLogger(cfg.System.LogLevel)
	slog.Info("starting uptrack", "bind", cfg.System.BindAddress, "monitors", len(cfg.Monitors), "region", cfg.System.Region)

	// --- 3. Open Storage ---
	ctx := context.Background()
	store, err := openStore(ctx, cfg.System.DatabaseURL)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.SyncChannels(ctx, cfg.ChannelRecords(), cfg.ChannelLinks()); err != nil {
		slog.Error("failed to sync notification channels", "error", err)
		os.Exit(1)
	}

	// --- 4. Init Dispatcher ---
	sink := events.New(cfg.System.KafkaBrokers, cfg.System.KafkaTopic)
	defer sink.Close()

	dispatcher := notify.NewDispatcher(store, store, notify.DefaultRegistry(nil),
		notify.WithConcurrency(cfg.System.DispatchConcurrency),
		notify.WithTimeout(cfg.DispatchTimeoutDuration()),
		notify.WithSink(sink),
		notify.WithRegion(cfg.System.Region),
	)

	// --- 5. Init Tracker ---
	blacklist := status.DefaultBlacklist
	if cfg.System.BlacklistFile != "" {
		extra, err := status.LoadBlacklist(cfg.System.BlacklistFile)
		if err != nil {
			slog.Error("failed to load blacklist", "path", cfg.System.BlacklistFile, "error", err)
			os.Exit(1)
		}
		blacklist = blacklist.Merge(extra)
	}
	tracker := status.NewTracker(status.WithBlacklist(blacklist), status.WithLocation(cfg.Location()))

	// --- 6. Init Analyzer & Scheduler ---
	live := monitor.NewLiveHistory()
	analyzer := monitor.NewAnalyzer(store, dispatcher, live, cfg.Location())
	scheduler := monitor.NewScheduler(cfgMgr, analyzer)
	scheduler.Start()

	stopCh := make(chan struct{})
	go syncChannelsOnChange(cfgMgr, store, stopCh)

	// --- 7. HTTP Server ---
	router := web.NewRouter(web.Deps{
		Config:     cfgMgr,
		Store:      store,
		Dispatcher: dispatcher,
		Live:       live,
		Tracker:    tracker,
	})
	srv := &http.Server{
		Addr:              cfg.System.BindAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("uptrack is running", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// --- 8. Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("received shutdown signal", "signal", sig)

	close(stopCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	scheduler.Stop()

	slog.Info("uptrack stopped gracefully")
}

func openStore(ctx context.Context, dsn string) (storage.Store, error) {
	if storage.IsPostgresDSN(dsn) {
		slog.Info("using postgres storage")
		return postgres.Connect(ctx, dsn)
	}
	slog.Info("using sqlite storage", "path", dsn)
	return sqlite.Open(ctx, dsn)
}

// syncChannelsOnChange mirrors notification channels into storage whenever
// the config is saved, so the dispatcher resolves the current set.
func syncChannelsOnChange(cfgMgr *config.Manager, store storage.Store, stopCh <-chan struct{}) {
	changed := cfgMgr.Subscribe()
	for {
		select {
		case <-stopCh:
			return
		case <-changed:
			cfg := cfgMgr.Get()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := store.SyncChannels(ctx, cfg.ChannelRecords(), cfg.ChannelLinks()); err != nil {
				slog.Error("channel sync failed", "error", err)
			} else {
				slog.Info("notification channels synced", "channels", len(cfg.Notifications))
			}
			cancel()
		}
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
