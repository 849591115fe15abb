package mockbackend

import (
	"encoding/base64"
	"encoding/json"
	"image"
	_ "image/jpeg" // image formats accepted by /upload_image
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/frame"
	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
)

const maxUploadBytes = 16 << 20

// Handler exposes the backend endpoints.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/stats", b.handleStats)
	r.Post("/api/toggle_settings", b.handleToggleSettings)
	r.Post("/upload_image", b.handleUploadImage)
	r.Get("/video_feed", b.handleVideoFeed)
	return r
}

func (b *Backend) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONWithStatus(w, b.StatsResponse(), http.StatusOK)
}

func (b *Backend) handleToggleSettings(w http.ResponseWriter, r *http.Request) {
	var req backend.SettingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeJSONWithStatus(w, backend.SettingResponse{Status: "error", Message: "Invalid request"}, http.StatusBadRequest)
		return
	}
	if !b.SetSetting(req.Setting, req.Value) {
		writeJSONWithStatus(w, backend.SettingResponse{Status: "error", Message: "Invalid setting"}, http.StatusBadRequest)
		return
	}
	writeJSONWithStatus(w, backend.SettingResponse{Status: "success", NewValue: req.Value}, http.StatusOK)
}

func (b *Backend) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile(backend.UploadField)
	if err != nil {
		writeJSONWithStatus(w, backend.UploadResponse{Error: "No file uploaded"}, http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeJSONWithStatus(w, backend.UploadResponse{Error: "No file selected"}, http.StatusBadRequest)
		return
	}

	img, format, err := image.Decode(file)
	if err != nil {
		logger.Warn("MockBackend", "Failed to decode upload %q: %v", header.Filename, err)
		writeJSONWithStatus(w, backend.UploadResponse{Error: "Failed to process image"}, http.StatusInternalServerError)
		return
	}

	data, err := frame.Encode(b.Analyze(img))
	if err != nil {
		writeJSONWithStatus(w, backend.UploadResponse{Error: "Failed to process image"}, http.StatusInternalServerError)
		return
	}

	logger.Info("MockBackend", "Analysed upload %q (%s, %v)", header.Filename, format, img.Bounds().Size())
	writeJSONWithStatus(w, backend.UploadResponse{Image: base64.StdEncoding.EncodeToString(data)}, http.StatusOK)
}

func (b *Backend) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(b.cfg.FrameInterval)
	defer ticker.Stop()

	var lastSent uint64
	for {
		if data, num, ok := b.LatestFrame(); ok && num != lastSent {
			lastSent = num
			if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
