// Package trend keeps rolling figures over the most recent stats snapshots.
package trend

import (
	"context"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
)

// DefaultWindow covers one minute of snapshots at the 500ms poll period.
const DefaultWindow = 120

// Summary describes the snapshots currently in the window.
type Summary struct {
	Samples         int     `json:"samples"`
	Window          int     `json:"window"`
	MeanSpeed       float64 `json:"mean_speed"`
	StdDevSpeed     float64 `json:"stddev_speed"`
	MaxSpeed        float64 `json:"max_speed"`
	MeanVehicles    float64 `json:"mean_vehicles"`
	PeakVehicles    int     `json:"peak_vehicles"`
	PeakPedestrians int     `json:"peak_pedestrians"`
	HazardRatio     float64 `json:"hazard_ratio"`
}

// Tracker is a fixed-size window of snapshots.
type Tracker struct {
	mu          sync.Mutex
	window      int
	speeds      []float64
	vehicles    []float64
	pedestrians []float64
	hazards     []float64
}

// NewTracker returns a tracker keeping the last window snapshots.
func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{window: window}
}

// Add pushes a snapshot, evicting the oldest once the window is full.
func (t *Tracker) Add(s backend.Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hazard := 0.0
	if s.HasHazard() {
		hazard = 1
	}
	t.speeds = push(t.speeds, s.Speed, t.window)
	t.vehicles = push(t.vehicles, float64(s.Vehicles), t.window)
	t.pedestrians = push(t.pedestrians, float64(s.Pedestrians), t.window)
	t.hazards = push(t.hazards, hazard, t.window)
}

// Reset empties the window.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speeds, t.vehicles, t.pedestrians, t.hazards = nil, nil, nil, nil
}

// Summary computes the figures for the current window.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := Summary{Samples: len(t.speeds), Window: t.window}
	if out.Samples == 0 {
		return out
	}

	out.MeanSpeed, out.StdDevSpeed = stat.MeanStdDev(t.speeds, nil)
	if out.Samples < 2 {
		out.StdDevSpeed = 0
	}
	out.MaxSpeed = floats.Max(t.speeds)
	out.MeanVehicles = stat.Mean(t.vehicles, nil)
	out.PeakVehicles = int(floats.Max(t.vehicles))
	out.PeakPedestrians = int(floats.Max(t.pedestrians))
	out.HazardRatio = stat.Mean(t.hazards, nil)
	return out
}

// Run feeds the tracker from store changes until ctx is done or changes closes.
// A camera activation starts a new window.
func (t *Tracker) Run(ctx context.Context, changes <-chan dashboard.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			switch change.Kind {
			case dashboard.ChangeSnapshot:
				t.Add(change.State.Stats)
			case dashboard.ChangeCamera:
				if change.State.CameraActive {
					t.Reset()
				}
			}
		}
	}
}

func push(xs []float64, v float64, limit int) []float64 {
	xs = append(xs, v)
	if len(xs) > limit {
		xs = xs[len(xs)-limit:]
	}
	return xs
}
