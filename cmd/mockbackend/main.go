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
	"github.com/dj-oyu/road-hazard-dashboard/internal/mockbackend"
)

func main() {
	_ = godotenv.Load()

	cfg := mockbackend.DefaultConfig()

	var (
		addr     string
		fps      int
		classes  string
		logLevel string
		logColor bool
	)

	flag.StringVar(&addr, "http", ":5000", "HTTP server address")
	flag.StringVar(&cfg.ModelName, "model", cfg.ModelName, "Model name reported by /api/stats")
	flag.StringVar(&classes, "classes", strings.Join(cfg.ClassNames, ","), "Detector class names (comma-separated)")
	flag.IntVar(&fps, "fps", 5, "Synthetic frames per second")
	flag.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	flag.IntVar(&cfg.MaxDetections, "max-detections", cfg.MaxDetections, "Maximum detections per frame")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	if fps > 0 {
		cfg.FrameInterval = time.Second / time.Duration(fps)
	}
	cfg.ClassNames = nil
	for _, c := range strings.Split(classes, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cfg.ClassNames = append(cfg.ClassNames, c)
		}
	}

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)
	defer logger.Sync()

	backend := mockbackend.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go backend.Run(ctx)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(cancel)

	logger.Info("Main", "Mock backend listening on %s (model %s, %d fps)", addr, cfg.ModelName, fps)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Main", "Shutting down...")

	// MJPEG handlers only return when their request context ends
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
		_ = httpServer.Close()
	}
}
