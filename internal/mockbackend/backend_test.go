package mockbackend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
)

func hazard(label string, conf float64) backend.Detection {
	return backend.Detection{Label: label, Category: backend.Classify(label), Confidence: conf}
}

func TestProcessCountsCategories(t *testing.T) {
	b := New(Config{Seed: 1})
	b.Process([]backend.Detection{
		hazard("car", 0.9),
		hazard("wheel", 0.8),
		hazard("pedestrian", 0.7),
		hazard("manhole", 0.95),
	})

	resp := b.StatsResponse()
	if resp.Stats.Vehicles != 2 || resp.Stats.Pedestrians != 1 || resp.Stats.Hazards != 1 {
		t.Fatalf("unexpected counters: %+v", resp.Stats)
	}
	if len(resp.Stats.Logs) != 1 || resp.Stats.Logs[0].Type != "manhole" {
		t.Fatalf("unexpected logs: %+v", resp.Stats.Logs)
	}
	if resp.ModelName != DefaultConfig().ModelName {
		t.Fatalf("model = %q", resp.ModelName)
	}
}

func TestHazardCooldown(t *testing.T) {
	b := New(Config{Seed: 1})
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Process([]backend.Detection{hazard("manhole", 0.9)})
	now = now.Add(5 * time.Second)
	b.Process([]backend.Detection{hazard("manhole", 0.9), hazard("speedbump", 0.6)})
	now = now.Add(6 * time.Second)
	b.Process([]backend.Detection{hazard("manhole", 0.9)})

	logs := b.StatsResponse().Stats.Logs
	if len(logs) != 3 {
		t.Fatalf("expected 3 logged events, got %d: %+v", len(logs), logs)
	}
	if logs[0].Type != "manhole" || logs[0].Time != "10:00:11" {
		t.Fatalf("newest event = %+v", logs[0])
	}
	if logs[1].Type != "speedbump" || logs[2].Time != "10:00:00" {
		t.Fatalf("unexpected order: %+v", logs)
	}
}

func TestHazardLogCap(t *testing.T) {
	b := New(Config{Seed: 1})
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	for range MaxLogs + 5 {
		now = now.Add(NotificationCooldown + time.Second)
		b.Process([]backend.Detection{hazard("manhole", 0.9)})
	}
	if got := len(b.StatsResponse().Stats.Logs); got != MaxLogs {
		t.Fatalf("log length = %d, want %d", got, MaxLogs)
	}
}

func TestSpeedStaysInRange(t *testing.T) {
	b := New(Config{Seed: 7})
	for range 5000 {
		b.Process(nil)
		speed := b.StatsResponse().Stats.Speed
		if speed < 0 || speed > maxSpeed {
			t.Fatalf("speed out of range: %v", speed)
		}
	}
}

func TestDetectStaysInBounds(t *testing.T) {
	b := New(Config{Seed: 3, MaxDetections: 8})
	bounds := image.Rect(0, 0, 320, 240)
	for range 200 {
		for _, d := range b.Detect(bounds) {
			r := image.Rect(d.Box.X, d.Box.Y, d.Box.X+d.Box.W, d.Box.Y+d.Box.H)
			if !r.In(bounds) {
				t.Fatalf("box %v outside %v", r, bounds)
			}
			if d.Confidence < 0.5 || d.Confidence > 1 {
				t.Fatalf("confidence = %v", d.Confidence)
			}
		}
	}
	if got := b.Detect(image.Rect(0, 0, 4, 4)); got != nil {
		t.Fatalf("tiny image should yield no detections, got %d", len(got))
	}
}

func TestSettings(t *testing.T) {
	b := New(Config{Seed: 1})
	if v, ok := b.Setting("telegram_enabled"); !ok || !v {
		t.Fatal("telegram_enabled should default to true")
	}
	if v, ok := b.Setting("audio_enabled"); !ok || v {
		t.Fatal("audio_enabled should default to false")
	}
	if b.SetSetting("bogus", true) {
		t.Fatal("unknown setting accepted")
	}
	if !b.SetSetting("audio_enabled", true) {
		t.Fatal("known setting rejected")
	}
	if v, _ := b.Setting("audio_enabled"); !v {
		t.Fatal("audio_enabled not updated")
	}
}

func TestRunProducesFrames(t *testing.T) {
	b := New(Config{Seed: 1, FrameInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if data, num, ok := b.LatestFrame(); ok && num >= 2 {
			if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
				t.Fatal("frame is not a JPEG")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no frames produced")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func pngUpload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestClientAgainstMock(t *testing.T) {
	b := New(Config{Seed: 11})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	c := backend.NewClient(srv.URL, 2*time.Second)
	ctx := context.Background()

	b.Process([]backend.Detection{hazard("speedbump", 0.85)})
	resp, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !resp.Stats.HasHazard() || len(resp.Stats.Logs) != 1 {
		t.Fatalf("unexpected stats: %+v", resp.Stats)
	}

	encoded, err := c.UploadImage(ctx, "road.png", bytes.NewReader(pngUpload(t)))
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil || format != "jpeg" {
		t.Fatalf("upload result format=%q err=%v", format, err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Fatalf("annotated size = %v", img.Bounds())
	}

	if err := c.ToggleSetting(ctx, "audio_enabled", true); err != nil {
		t.Fatalf("ToggleSetting: %v", err)
	}
	if v, _ := b.Setting("audio_enabled"); !v {
		t.Fatal("setting not forwarded")
	}

	err = c.ToggleSetting(ctx, "bogus", true)
	var statusErr *backend.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest || statusErr.Message != "Invalid setting" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	b := New(Config{Seed: 1})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	post := func(field, filename string, payload []byte) (int, backend.UploadResponse) {
		t.Helper()
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		if field != "" {
			part, err := mw.CreateFormFile(field, filename)
			if err != nil {
				t.Fatal(err)
			}
			_, _ = part.Write(payload)
		}
		_ = mw.Close()

		resp, err := http.Post(srv.URL+backend.UploadPath, mw.FormDataContentType(), &body)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out backend.UploadResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	if code, out := post("", "", nil); code != http.StatusBadRequest || out.Error != "No file uploaded" {
		t.Fatalf("missing file: %d %+v", code, out)
	}
	if code, out := post("other", "x.png", []byte("x")); code != http.StatusBadRequest || out.Error != "No file uploaded" {
		t.Fatalf("wrong field: %d %+v", code, out)
	}
	if code, out := post(backend.UploadField, "notes.txt", []byte("not an image")); code != http.StatusInternalServerError || out.Error != "Failed to process image" {
		t.Fatalf("bad image: %d %+v", code, out)
	}
}

func TestVideoFeedStreamsFrames(t *testing.T) {
	b := New(Config{Seed: 1, FrameInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+backend.VideoPath, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content type = %q", ct)
	}
	buf := make([]byte, len("--frame"))
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "--frame" {
		t.Fatalf("unexpected stream start %q", buf)
	}
}
