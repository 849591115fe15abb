package dashboard

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
	"github.com/dj-oyu/road-hazard-dashboard/internal/metrics"
	"github.com/dj-oyu/road-hazard-dashboard/internal/poller"
)

// DefaultPollInterval is the stats polling period while the camera is active.
const DefaultPollInterval = 500 * time.Millisecond

// Backend is the part of the detection backend the controller drives.
type Backend interface {
	Stats(ctx context.Context) (backend.StatsResponse, error)
	UploadImage(ctx context.Context, filename string, image io.Reader) (string, error)
	ToggleSetting(ctx context.Context, setting string, value bool) error
}

// Controller applies user actions to the store and keeps it fed from the backend.
type Controller struct {
	ctx      context.Context
	store    *Store
	backend  Backend
	metrics  *metrics.Metrics
	interval time.Duration

	mu     sync.Mutex
	poller *poller.Poller
}

// NewController wires a controller. ctx bounds the lifetime of every poll.
func NewController(ctx context.Context, store *Store, b Backend, m *metrics.Metrics, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if m == nil {
		m = metrics.New()
	}
	return &Controller{
		ctx:      ctx,
		store:    store,
		backend:  b,
		metrics:  m,
		interval: interval,
	}
}

// Store returns the state container the controller mutates.
func (c *Controller) Store() *Store {
	return c.store
}

// ToggleCamera flips the camera flag and starts or stops the stats poll.
func (c *Controller) ToggleCamera() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.store.ToggleCamera()
	metrics.SetBool(&c.metrics.CameraActive, st.CameraActive)

	if st.CameraActive {
		if c.poller != nil {
			c.poller.Stop()
		}
		c.poller = poller.New(c.interval, c.pollTask(st.Generation))
		c.poller.Start(c.ctx)
		logger.Info("Controller", "Camera live, polling stats every %v (generation %d)", c.interval, st.Generation)
		return st
	}

	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
	logger.Info("Controller", "Camera standby, polling stopped")
	return st
}

// Polling reports whether a stats poll cycle is running.
func (c *Controller) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poller != nil && c.poller.Running()
}

// UploadImage sends an image to the backend and shows the annotated result.
// On failure the viewport is left untouched.
func (c *Controller) UploadImage(ctx context.Context, filename string, image io.Reader) (State, error) {
	encoded, err := c.backend.UploadImage(ctx, filename, image)
	if err != nil {
		c.metrics.UploadsFailed.Add(1)
		logger.Warn("Controller", "Upload of %q failed: %v", filename, err)
		return c.store.Snapshot(), fmt.Errorf("upload image: %w", err)
	}

	c.metrics.UploadsSucceeded.Add(1)
	logger.Info("Controller", "Upload of %q analysed (%d bytes base64)", filename, len(encoded))
	return c.store.SetUpload(encoded), nil
}

// ClearUpload returns the viewport to live or standby.
func (c *Controller) ClearUpload() State {
	return c.store.ClearUpload()
}

// ToggleSetting flips a setting locally and forwards it to the backend.
// Forwarding is best effort: a backend failure is logged and the local value kept.
func (c *Controller) ToggleSetting(ctx context.Context, name SettingName) (State, error) {
	st, value, err := c.store.ToggleSetting(name)
	if err != nil {
		return State{}, err
	}

	if err := c.backend.ToggleSetting(ctx, name.BackendKey(), value); err != nil {
		c.metrics.SettingForwardsFailed.Add(1)
		logger.Warn("Controller", "Forwarding %s=%v to backend failed: %v", name, value, err)
	}
	return st, nil
}

// Close stops polling.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
}

func (c *Controller) pollTask(generation uint64) poller.Task {
	return func(ctx context.Context, seq uint64) {
		c.metrics.PollsIssued.Add(1)

		resp, err := c.backend.Stats(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("Controller", "Poll #%d cancelled", seq)
				return
			}
			c.metrics.PollsFailed.Add(1)
			logger.Warn("Controller", "Failed to fetch backend stats (poll #%d): %v", seq, err)
			return
		}

		st, err := c.store.ApplySnapshot(generation, seq, resp)
		if err != nil {
			c.metrics.PollsStale.Add(1)
			logger.Debug("Controller", "Discarded poll #%d: %v", seq, err)
			return
		}

		c.metrics.SnapshotsApplied.Add(1)
		metrics.SetBool(&c.metrics.HazardActive, st.HazardActive)
	}
}
