package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/674019130/zhuqueAI-plugin/internal/api"
	"github.com/674019130/zhuqueAI-plugin/internal/browser"
	"github.com/674019130/zhuqueAI-plugin/internal/capture"
	"github.com/674019130/zhuqueAI-plugin/internal/cdp"
	"github.com/674019130/zhuqueAI-plugin/internal/config"
	"github.com/674019130/zhuqueAI-plugin/internal/coordinator"
	"github.com/674019130/zhuqueAI-plugin/internal/extract"
	"github.com/674019130/zhuqueAI-plugin/internal/netutil"
	"github.com/674019130/zhuqueAI-plugin/internal/notify"
	"github.com/674019130/zhuqueAI-plugin/internal/panel"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
	"github.com/674019130/zhuqueAI-plugin/internal/recorder"
	"github.com/674019130/zhuqueAI-plugin/internal/storage"
	"github.com/674019130/zhuqueAI-plugin/internal/store"
	"github.com/674019130/zhuqueAI-plugin/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("zhuque recorder config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"bind_addr", cfg.BindAddr,
		"tab_url_filter", cfg.TabURLFilter,
		"data_dir", cfg.DataDir,
		"dedup_window_ms", cfg.DedupWindowMS,
		"archive_enabled", cfg.ArchiveEnabled,
		"log_level", cfg.LogLevel,
	)

	vocab := extract.Default()
	if cfg.VocabularyFile != "" {
		vocab, err = extract.LoadVocabulary(cfg.VocabularyFile)
		if err != nil {
			slog.Error("failed to load vocabulary file", "path", cfg.VocabularyFile, "error", err)
			os.Exit(1)
		}
		slog.Info("vocabulary overrides loaded", "path", cfg.VocabularyFile)
	}
	extractor := extract.New(vocab)

	st, err := store.New(cfg.DataDir, cfg.DedupWindow())
	if err != nil {
		slog.Error("failed to open record store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	broker := panel.NewBroker()

	coord := coordinator.New(st, nil, coordinator.WithBackfillDelay(cfg.BackfillDelay()))
	coord.AddListener(func(rec *record.DetectionRecord) {
		broker.PublishRecord(panel.EventRecordAdded, rec)
	})
	coord.AddListener(notify.Listener(nil, cfg.NotifyEndpoint))

	archive := storage.NewArchive(
		filepath.Join(cfg.DataDir, "archive"),
		cfg.ArchiveBufferSize,
		cfg.ArchiveMaxFileSizeMB,
		cfg.ArchiveMaxPayloadBytes,
		cfg.ArchiveEnabled,
	)
	defer func() {
		if err := archive.Close(); err != nil {
			slog.Warn("archive close failed", "error", err)
		}
	}()

	networkCap := capture.NewNetworkCapture(extractor, coord, archive)
	defer networkCap.Close()
	socketCap := capture.NewSocketCapture(extractor, coord, archive)

	trigger := watch.NewTriggerDetector(coord)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: filepath.Join(cfg.DataDir, "profile"),
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	cdpClient := cdp.NewClient(cfg, networkCap, socketCap, trigger, extractor)
	coord.SetPageReader(cdpClient)

	watcher := watch.New(extractor, cdpClient, coord,
		watch.WithInterval(cfg.PollInterval()),
		watch.WithMaxAttempts(cfg.PollMaxAttempts),
	)
	coord.SetPoller(watcher)

	if err := cdpClient.Connect(ctx); err != nil {
		slog.Error("failed to attach to detection tab", "error", err)
		slog.Info("Make sure Chromium is running with remote debugging enabled and the detection page is open")
		os.Exit(1)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	svc := recorder.New(st, coord,
		recorder.WithCounters(networkCap, socketCap),
		recorder.WithBroker(broker),
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, []string{"127.0.0.1:8196", "127.0.0.1:8197", "127.0.0.1:8198"}, true)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, broker)}

	go func() {
		slog.Info("recorder listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs", "tab", cdpClient.TabURL())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("recorder server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("recorder shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
