// Package mockbackend is a synthetic detection backend. It serves the same
// endpoints as the real inference service so the dashboard can be run and
// tested without a camera or a model.
package mockbackend

import (
	"context"
	"image"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/frame"
	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
)

const (
	// MaxLogs is how many hazard events the backend keeps, newest first.
	MaxLogs = 20
	// NotificationCooldown is the minimum gap between two logged events of the same label.
	NotificationCooldown = 10 * time.Second

	maxSpeed  = 120.0
	speedStep = 2.0
)

// DefaultClassNames are the labels the synthetic detector emits.
var DefaultClassNames = []string{"car", "manhole", "pedestrian", "person", "speedbump", "wheel"}

// Config tunes the synthetic backend.
type Config struct {
	ModelName     string
	ClassNames    []string
	FrameInterval time.Duration
	Seed          uint64
	// MaxDetections caps the detections per synthetic frame.
	MaxDetections int
}

// DefaultConfig returns the settings used by cmd/mockbackend.
func DefaultConfig() Config {
	return Config{
		ModelName:     "mock-yolov8n.pt",
		ClassNames:    DefaultClassNames,
		FrameInterval: 200 * time.Millisecond,
		Seed:          uint64(time.Now().UnixNano()),
		MaxDetections: 4,
	}
}

// Backend holds the synthetic detector state.
type Backend struct {
	cfg Config
	now func() time.Time

	mu           sync.Mutex
	rng          *rand.Rand
	stats        backend.Stats
	settings     map[string]bool
	lastNotified map[string]time.Time
	frameJPEG    []byte
	frameNum     uint64
}

// New creates a backend. Zero config fields take their defaults.
func New(cfg Config) *Backend {
	def := DefaultConfig()
	if cfg.ModelName == "" {
		cfg.ModelName = def.ModelName
	}
	if len(cfg.ClassNames) == 0 {
		cfg.ClassNames = def.ClassNames
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.MaxDetections <= 0 {
		cfg.MaxDetections = def.MaxDetections
	}

	return &Backend{
		cfg: cfg,
		now: time.Now,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		stats: backend.Stats{
			Logs: []backend.HazardEvent{},
		},
		settings: map[string]bool{
			"telegram_enabled": true,
			"audio_enabled":    false,
		},
		lastNotified: make(map[string]time.Time),
	}
}

// StatsResponse returns the current counters as served by /api/stats.
func (b *Backend) StatsResponse() backend.StatsResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	return backend.StatsResponse{Stats: b.stats.Clone(), ModelName: b.cfg.ModelName}
}

// Setting returns a backend setting and whether it exists.
func (b *Backend) Setting(name string) (bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.settings[name]
	return v, ok
}

// SetSetting updates an existing setting. Unknown names are rejected.
func (b *Backend) SetSetting(name string, value bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.settings[name]; !ok {
		return false
	}
	b.settings[name] = value
	logger.Info("MockBackend", "Setting %s = %v", name, value)
	return true
}

// Process replaces the per-frame counters with the detections of one frame,
// logs hazards outside their cooldown and advances the speed random walk.
func (b *Backend) Process(detections []backend.Detection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var vehicles, hazards, pedestrians int
	now := b.now()

	for _, d := range detections {
		switch d.Category {
		case backend.CategoryVehicle:
			vehicles++
		case backend.CategoryHazard:
			hazards++
			b.logHazardLocked(d, now)
		case backend.CategoryPerson:
			pedestrians++
		}
	}

	b.stats.Vehicles = vehicles
	b.stats.Hazards = hazards
	b.stats.Pedestrians = pedestrians
	b.stats.Speed = min(maxSpeed, max(0, b.stats.Speed+(b.rng.Float64()*2-1)*speedStep))
}

func (b *Backend) logHazardLocked(d backend.Detection, now time.Time) {
	if last, ok := b.lastNotified[d.Label]; ok && now.Sub(last) <= NotificationCooldown {
		return
	}
	b.lastNotified[d.Label] = now

	if b.settings["telegram_enabled"] {
		logger.Info("Notify", "HAZARD DETECTED: %s (%.1f%%)", d.Label, d.Confidence*100)
	}

	event := backend.HazardEvent{
		ID:         uuid.NewString(),
		Type:       d.Label,
		Confidence: d.Confidence,
		Time:       now.Format("15:04:05"),
	}
	b.stats.Logs = append([]backend.HazardEvent{event}, b.stats.Logs...)
	if len(b.stats.Logs) > MaxLogs {
		b.stats.Logs = b.stats.Logs[:MaxLogs]
	}
}

// Detect returns a synthetic set of detections inside bounds.
func (b *Backend) Detect(bounds image.Rectangle) []backend.Detection {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bounds.Dx() < 8 || bounds.Dy() < 8 {
		return nil
	}

	n := b.rng.IntN(b.cfg.MaxDetections + 1)
	out := make([]backend.Detection, 0, n)
	ts := float64(b.now().UnixNano()) / 1e9
	for range n {
		label := b.cfg.ClassNames[b.rng.IntN(len(b.cfg.ClassNames))]
		w := max(4, b.rng.IntN(bounds.Dx()/3+1))
		h := max(4, b.rng.IntN(bounds.Dy()/3+1))
		x := bounds.Min.X + b.rng.IntN(bounds.Dx()-w+1)
		y := bounds.Min.Y + b.rng.IntN(bounds.Dy()-h+1)
		out = append(out, backend.Detection{
			ID:         uuid.NewString(),
			Label:      label,
			Category:   backend.Classify(label),
			Confidence: 0.5 + b.rng.Float64()*0.5,
			Timestamp:  ts,
			Box:        backend.BoundingBox{X: x, Y: y, W: w, H: h},
		})
	}
	return out
}

// Analyze runs the synthetic detector on img, updates the counters and
// returns the annotated image.
func (b *Backend) Analyze(img image.Image) image.Image {
	detections := b.Detect(img.Bounds())
	b.Process(detections)
	return frame.Annotate(img, detections)
}

// Run produces synthetic frames until ctx is done.
func (b *Backend) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FrameInterval)
	defer ticker.Stop()

	base := roadScene()
	for {
		annotated := b.Analyze(base)
		if data, err := frame.Encode(annotated); err == nil {
			b.mu.Lock()
			b.frameJPEG = data
			b.frameNum++
			b.mu.Unlock()
		} else {
			logger.Warn("MockBackend", "Failed to encode frame: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LatestFrame returns the most recent synthetic frame.
func (b *Backend) LatestFrame() ([]byte, uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frameJPEG, b.frameNum, b.frameJPEG != nil
}

func roadScene() image.Image {
	return frame.Card("Camera Unavailable (Server Mode)", "Synthetic detections")
}
