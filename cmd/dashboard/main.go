package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
	"github.com/dj-oyu/road-hazard-dashboard/internal/webmonitor"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := webmonitor.DefaultConfig()
	cfg.ApplyEnv()

	var (
		logLevel    string
		logColor    bool
		pollMs      int
		stunServers string
	)

	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "Detection backend base URL")
	flag.StringVar(&cfg.APIBase, "api-base", cfg.APIBase, "API prefix used by the browser")
	flag.IntVar(&pollMs, "poll-ms", int(cfg.PollInterval/time.Millisecond), "Stats poll interval in milliseconds")
	flag.StringVar(&cfg.ArchivePath, "archive", cfg.ArchivePath, "Hazard archive SQLite path (empty disables)")
	flag.StringVar(&cfg.RecordingPath, "record-path", cfg.RecordingPath, "Session recording output path")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Directory of optional assets served under /assets/")
	flag.IntVar(&cfg.TrendWindow, "trend-window", cfg.TrendWindow, "Number of snapshots in the trend window")
	flag.StringVar(&stunServers, "stun", strings.Join(cfg.STUNServers, ","), "STUN server URLs (comma-separated)")
	flag.IntVar(&cfg.MaxWebRTCClients, "max-clients", cfg.MaxWebRTCClients, "Maximum WebRTC clients")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	cfg.PollInterval = time.Duration(pollMs) * time.Millisecond
	cfg.STUNServers = webmonitor.SplitList(stunServers)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)
	defer logger.Sync()

	server, err := webmonitor.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create dashboard: %v", err)
	}
	server.Start()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Main", "Road hazard dashboard listening on %s", cfg.Addr)
	logger.Info("Main", "Backend: %s (poll every %v)", cfg.BackendURL, cfg.PollInterval)
	logger.Info("Main", "Log level: %s", level)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Main", "Shutting down...")

	// Close first so streaming handlers see their channels end
	if err := server.Close(); err != nil {
		logger.Warn("Main", "Dashboard close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}
	logger.Info("Main", "Stopped")
}
