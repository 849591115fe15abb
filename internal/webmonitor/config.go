package webmonitor

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines the runtime configuration for the dashboard server.
type Config struct {
	Addr string
	// BackendURL is where the server polls stats and forwards actions.
	BackendURL string
	// APIBase prefixes the media and action URLs used by the rendered page.
	// Empty means same origin.
	APIBase           string
	PollInterval      time.Duration
	BackendTimeout    time.Duration
	MJPEGInterval     time.Duration
	KeepaliveInterval time.Duration
	MaxUploadBytes    int64
	ArchivePath       string
	RecordingPath     string
	// AssetsDir holds optional files served under /assets/. Empty disables it.
	AssetsDir        string
	TrendWindow      int
	STUNServers      []string
	MaxWebRTCClients int
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		BackendURL:        "http://localhost:5000",
		APIBase:           "",
		PollInterval:      500 * time.Millisecond,
		BackendTimeout:    5 * time.Second,
		MJPEGInterval:     time.Second,
		KeepaliveInterval: 30 * time.Second,
		MaxUploadBytes:    16 << 20,
		ArchivePath:       "./hazards.db",
		RecordingPath:     "./recordings",
		TrendWindow:       120,
		STUNServers:       []string{"stun:stun.l.google.com:19302"},
		MaxWebRTCClients:  10,
	}
}

// ApplyEnv overrides cfg with any of the supported environment variables.
func (cfg *Config) ApplyEnv() {
	cfg.Addr = getEnv("ADDR", cfg.Addr)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	if v, ok := os.LookupEnv("API_BASE"); ok {
		cfg.APIBase = v
	}
	if ms := getEnvAsInt("POLL_INTERVAL_MS", 0); ms > 0 {
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}
	// An empty ARCHIVE_PATH disables the archive
	if v, ok := os.LookupEnv("ARCHIVE_PATH"); ok {
		cfg.ArchivePath = v
	}
	cfg.RecordingPath = getEnv("RECORDING_PATH", cfg.RecordingPath)
	cfg.AssetsDir = getEnv("ASSETS_DIR", cfg.AssetsDir)
	cfg.TrendWindow = getEnvAsInt("TREND_WINDOW", cfg.TrendWindow)
	if v := getEnv("STUN_SERVERS", ""); v != "" {
		cfg.STUNServers = SplitList(v)
	}
}

// SplitList splits a comma-separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (cfg Config) normalized() Config {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = def.BackendTimeout
	}
	if cfg.MJPEGInterval <= 0 {
		cfg.MJPEGInterval = def.MJPEGInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = def.TrendWindow
	}
	if cfg.MaxWebRTCClients <= 0 {
		cfg.MaxWebRTCClients = def.MaxWebRTCClients
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
