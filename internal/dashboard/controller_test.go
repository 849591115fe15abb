package dashboard

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/metrics"
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	statsFn  func(ctx context.Context, call int) (backend.StatsResponse, error)
	image    string
	imageErr error

	settingErr error
	settings   []backend.SettingRequest
}

func (f *fakeBackend) Stats(ctx context.Context) (backend.StatsResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.statsFn
	f.mu.Unlock()

	if fn == nil {
		return statsResponse(0, 0, 0), nil
	}
	return fn(ctx, call)
}

func (f *fakeBackend) UploadImage(ctx context.Context, filename string, image io.Reader) (string, error) {
	if f.imageErr != nil {
		return "", f.imageErr
	}
	return f.image, nil
}

func (f *fakeBackend) ToggleSetting(ctx context.Context, setting string, value bool) error {
	f.mu.Lock()
	f.settings = append(f.settings, backend.SettingRequest{Setting: setting, Value: value})
	f.mu.Unlock()
	return f.settingErr
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func newTestController(t *testing.T, fb *fakeBackend) (*Controller, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	c := NewController(context.Background(), NewStore(), fb, m, 5*time.Millisecond)
	t.Cleanup(c.Close)
	return c, m
}

func TestControllerDefaultInterval(t *testing.T) {
	c := NewController(context.Background(), NewStore(), &fakeBackend{}, nil, 0)
	if c.interval != 500*time.Millisecond {
		t.Fatalf("interval = %v", c.interval)
	}
}

func TestControllerToggleStartsAndStopsPolling(t *testing.T) {
	fb := &fakeBackend{statsFn: func(ctx context.Context, call int) (backend.StatsResponse, error) {
		return statsResponse(call, 1, 0), nil
	}}
	c, m := newTestController(t, fb)

	if c.Polling() {
		t.Fatal("should not poll in standby")
	}

	st := c.ToggleCamera()
	if !st.CameraActive || !c.Polling() {
		t.Fatal("toggle on should start polling")
	}
	waitUntil(t, time.Second, func() bool {
		return c.Store().Snapshot().AppliedSeq >= 2 && m.HazardActive.Load() == 1
	})
	if !c.Store().Snapshot().HazardActive {
		t.Fatal("hazard indicator should follow the snapshot")
	}
	if m.CameraActive.Load() != 1 {
		t.Fatal("camera gauge not updated")
	}

	c.ToggleCamera()
	if c.Polling() {
		t.Fatal("toggle off should stop polling")
	}
	calls := fb.callCount()
	time.Sleep(30 * time.Millisecond)
	if fb.callCount() != calls {
		t.Fatalf("backend polled after stop: %d -> %d", calls, fb.callCount())
	}
}

func TestControllerRapidToggleKeepsOneCycle(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})
	for i := 0; i < 7; i++ {
		c.ToggleCamera()
	}
	if !c.Polling() {
		t.Fatal("odd number of toggles should leave polling on")
	}
	if gen := c.Store().Snapshot().Generation; gen != 4 {
		t.Fatalf("generation = %d, want 4", gen)
	}
}

func TestControllerFailedPollKeepsSnapshot(t *testing.T) {
	fb := &fakeBackend{statsFn: func(ctx context.Context, call int) (backend.StatsResponse, error) {
		if call == 1 {
			return statsResponse(7, 2, 3), nil
		}
		return backend.StatsResponse{}, &backend.StatusError{Path: backend.StatsPath, Code: 500}
	}}
	c, m := newTestController(t, fb)

	c.ToggleCamera()
	waitUntil(t, time.Second, func() bool { return fb.callCount() >= 4 })

	st := c.Store().Snapshot()
	if st.Stats.Vehicles != 7 || st.Stats.Hazards != 2 || st.Stats.Pedestrians != 3 {
		t.Fatalf("failed poll changed the snapshot: %+v", st.Stats)
	}
	if m.PollsFailed.Load() == 0 {
		t.Fatal("failures not counted")
	}
}

func TestControllerDiscardsOutOfOrderResponse(t *testing.T) {
	release := make(chan struct{})
	fb := &fakeBackend{statsFn: func(ctx context.Context, call int) (backend.StatsResponse, error) {
		if call == 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return backend.StatsResponse{}, ctx.Err()
			}
			return statsResponse(0, 0, 0), nil
		}
		return statsResponse(0, 5, 0), nil
	}}
	c, m := newTestController(t, fb)

	c.ToggleCamera()
	waitUntil(t, time.Second, func() bool { return c.Store().Snapshot().Stats.Hazards == 5 })

	close(release)
	waitUntil(t, time.Second, func() bool { return m.PollsStale.Load() >= 1 })

	if st := c.Store().Snapshot(); st.Stats.Hazards != 5 || !st.HazardActive {
		t.Fatalf("slow first response overwrote a newer snapshot: %+v", st.Stats)
	}
}

func TestControllerStopCancelsInflightPoll(t *testing.T) {
	entered := make(chan struct{}, 1)
	fb := &fakeBackend{statsFn: func(ctx context.Context, call int) (backend.StatsResponse, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return backend.StatsResponse{}, ctx.Err()
	}}
	c, m := newTestController(t, fb)

	c.ToggleCamera()
	<-entered
	c.ToggleCamera()

	if m.PollsFailed.Load() != 0 {
		t.Fatalf("cancelled polls counted as failures: %d", m.PollsFailed.Load())
	}
	if c.Store().Snapshot().AppliedSeq != 0 {
		t.Fatal("cancelled poll applied a snapshot")
	}
}

func TestControllerUpload(t *testing.T) {
	fb := &fakeBackend{image: "YW5ub3RhdGVk"}
	c, m := newTestController(t, fb)
	c.ToggleCamera()

	st, err := c.UploadImage(context.Background(), "road.jpg", strings.NewReader("raw"))
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if st.Viewport != ViewportStatic || st.UploadedImage != "YW5ub3RhdGVk" || st.LiveIndicator() {
		t.Fatalf("unexpected state after upload: %+v", st)
	}
	if m.UploadsSucceeded.Load() != 1 {
		t.Fatal("upload not counted")
	}

	if st = c.ClearUpload(); st.Viewport != ViewportLive {
		t.Fatalf("clear should restore live, got %s", st.Viewport)
	}
}

func TestControllerUploadFailureKeepsViewport(t *testing.T) {
	fb := &fakeBackend{imageErr: errors.New("connection refused")}
	c, m := newTestController(t, fb)
	c.Store().SetUpload("b2xk")

	st, err := c.UploadImage(context.Background(), "road.jpg", strings.NewReader("raw"))
	if err == nil {
		t.Fatal("expected error")
	}
	if st.Viewport != ViewportStatic || st.UploadedImage != "b2xk" {
		t.Fatalf("failed upload changed viewport: %+v", st)
	}
	if m.UploadsFailed.Load() != 1 {
		t.Fatal("failure not counted")
	}
}

func TestControllerToggleSettingForwards(t *testing.T) {
	fb := &fakeBackend{}
	c, _ := newTestController(t, fb)

	st, err := c.ToggleSetting(context.Background(), SettingCloudRelay)
	if err != nil {
		t.Fatalf("ToggleSetting: %v", err)
	}
	if st.Settings.CloudRelay {
		t.Fatal("cloud relay should be off after one toggle")
	}
	if len(fb.settings) != 1 || fb.settings[0] != (backend.SettingRequest{Setting: "telegram_enabled", Value: false}) {
		t.Fatalf("unexpected forwarded settings %+v", fb.settings)
	}
}

func TestControllerToggleSettingBackendFailure(t *testing.T) {
	fb := &fakeBackend{settingErr: errors.New("timeout")}
	c, m := newTestController(t, fb)

	st, err := c.ToggleSetting(context.Background(), SettingAudioCues)
	if err != nil {
		t.Fatalf("backend failure should be ignored, got %v", err)
	}
	if !st.Settings.AudioCues {
		t.Fatal("local setting should still flip")
	}
	if m.SettingForwardsFailed.Load() != 1 {
		t.Fatal("forward failure not counted")
	}

	if _, err := c.ToggleSetting(context.Background(), "bogus"); !errors.Is(err, ErrUnknownSetting) {
		t.Fatalf("expected ErrUnknownSetting, got %v", err)
	}
}
