package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/dj-oyu/road-hazard-dashboard/internal/archive"
	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
	"github.com/dj-oyu/road-hazard-dashboard/internal/frame"
	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
	"github.com/dj-oyu/road-hazard-dashboard/internal/metrics"
	"github.com/dj-oyu/road-hazard-dashboard/internal/recorder"
	"github.com/dj-oyu/road-hazard-dashboard/internal/trend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/webrtc"
)

const (
	maxHistoryLimit = 500
	maxOfferBytes   = 64 << 10

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the dashboard page, its action endpoints and state feeds.
type Server struct {
	cfg         Config
	metrics     *metrics.Metrics
	backend     *backend.Client
	store       *dashboard.Store
	controller  *dashboard.Controller
	broadcaster *StateBroadcaster
	trend       *trend.Tracker
	archive     *archive.Archive
	recorder    *recorder.Recorder
	webrtc      *webrtc.Server
	assets      *assetHandler

	standbyFrame     []byte
	unavailableFrame []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	feedSubs []int
}

// NewServer returns a configured dashboard server. Call Start to begin
// feeding the state subscribers and Close to release everything.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.normalized()

	standby, err := frame.Standby("SYSTEM STANDBY", "Press ENGAGE_LIVE to start monitoring")
	if err != nil {
		return nil, fmt.Errorf("failed to render standby frame: %w", err)
	}
	unavailable, err := frame.Standby("LIVE FEED UNAVAILABLE", "Backend video feed could not be reached")
	if err != nil {
		return nil, fmt.Errorf("failed to render unavailable frame: %w", err)
	}

	var arch *archive.Archive
	if cfg.ArchivePath != "" {
		if arch, err = archive.Open(cfg.ArchivePath); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()
	client := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	store := dashboard.NewStore()

	return &Server{
		cfg:              cfg,
		metrics:          m,
		backend:          client,
		store:            store,
		controller:       dashboard.NewController(ctx, store, client, m, cfg.PollInterval),
		broadcaster:      NewStateBroadcaster(store),
		trend:            trend.NewTracker(cfg.TrendWindow),
		archive:          arch,
		recorder:         recorder.NewRecorder(cfg.RecordingPath, m),
		webrtc:           webrtc.NewServer(cfg.STUNServers, cfg.MaxWebRTCClients, m),
		assets:           newAssetHandler(cfg.AssetsDir),
		standbyFrame:     standby,
		unavailableFrame: unavailable,
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// Controller exposes the dashboard controller.
func (s *Server) Controller() *dashboard.Controller {
	return s.controller
}

// Metrics exposes the server metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Start launches the state broadcaster and the store subscribers.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.broadcaster.Start()

	s.feed(func(changes <-chan dashboard.Change) { s.trend.Run(s.ctx, changes) })
	s.feed(func(changes <-chan dashboard.Change) { s.recorder.Run(s.ctx, changes) })
	s.feed(func(changes <-chan dashboard.Change) { s.webrtc.Run(changes) })
	if s.archive != nil {
		s.feed(func(changes <-chan dashboard.Change) { s.archive.Run(s.ctx, changes, s.metrics) })
	}

	logger.Info("Server", "Dashboard started (backend %s, poll every %v)", s.cfg.BackendURL, s.cfg.PollInterval)
}

func (s *Server) feed(run func(<-chan dashboard.Change)) {
	id, changes := s.store.Subscribe(32)
	s.feedSubs = append(s.feedSubs, id)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run(changes)
	}()
}

// Close stops polling, every subscriber and releases the archive and recorder.
func (s *Server) Close() error {
	s.controller.Close()
	s.broadcaster.Stop()

	s.mu.Lock()
	subs := s.feedSubs
	s.feedSubs = nil
	s.mu.Unlock()

	s.cancel()
	for _, id := range subs {
		s.store.Unsubscribe(id)
	}
	s.wg.Wait()

	var errs []error
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: %w", err))
	}
	if err := s.webrtc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("webrtc: %w", err))
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(allowCrossOrigin)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/video_feed", s.handleVideoFeed)
	r.Get("/ws", s.handleWebSocket)
	if s.assets != nil {
		r.Method(http.MethodGet, "/assets/*", s.assets)
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/state", s.handleState)
		api.Get("/state/stream", s.handleStateStream)
		api.Post("/camera/toggle", s.handleCameraToggle)
		api.Post("/upload", s.handleUpload)
		api.Post("/upload/clear", s.handleUploadClear)
		api.Post("/settings/{name}/toggle", s.handleSettingToggle)
		api.Get("/trend", s.handleTrend)
		api.Get("/hazards/history", s.handleHistory)
		api.Post("/recording/start", s.handleRecordingStart)
		api.Post("/recording/stop", s.handleRecordingStop)
		api.Get("/recording/status", s.handleRecordingStatus)
		api.Post("/webrtc/offer", s.handleWebRTCOffer)
	})

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := newPageData(s.store.Snapshot(), s.cfg.APIBase, s.trend.Summary())
	if s.assets.has(themeFile) {
		data.ThemeURL = s.cfg.APIBase + "/assets/" + themeFile
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderPage(w, data); err != nil {
		logger.Error("HTTP", "Failed to render page: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.store.Snapshot()
	writeJSON(w, HealthResponse{
		Status:       "ok",
		CameraActive: st.CameraActive,
		Polling:      s.controller.Polling(),
		Backend:      s.backend.BaseURL(),
		Version:      st.Version,
		Timestamp:    float64(time.Now().UnixNano()) / 1e9,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeState(w, s.store.Snapshot())
}

func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	s.metrics.SSEClients.Add(1)
	defer s.metrics.SSEClients.Add(-1)

	streamStateEvents(r.Context(), w, eventCh, wantsProtobuf(r), s.cfg.KeepaliveInterval)
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket", "Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	s.metrics.WebSocketClients.Add(1)
	defer s.metrics.WebSocketClients.Add(-1)
	logger.Debug("WebSocket", "Viewer connected from %s", r.RemoteAddr)

	// Viewers only send control frames; reading detects the close.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logger.Debug("WebSocket", "Viewer disconnected: %v", err)
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-eventCh:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, event.JSONData); err != nil {
				logger.Debug("WebSocket", "Write failed: %v", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleCameraToggle(w http.ResponseWriter, r *http.Request) {
	writeState(w, s.controller.ToggleCamera())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(backend.UploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()

	st, err := s.controller.UploadImage(r.Context(), header.Filename, file)
	if err != nil {
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) && statusErr.Message != "" {
			writeError(w, http.StatusBadGateway, statusErr.Message)
			return
		}
		writeError(w, http.StatusBadGateway, "Image analysis failed")
		return
	}
	writeState(w, st)
}

func (s *Server) handleUploadClear(w http.ResponseWriter, r *http.Request) {
	writeState(w, s.controller.ClearUpload())
}

func (s *Server) handleSettingToggle(w http.ResponseWriter, r *http.Request) {
	name := dashboard.SettingName(chi.URLParam(r, "name"))
	st, err := s.controller.ToggleSetting(r.Context(), name)
	if errors.Is(err, dashboard.ErrUnknownSetting) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown setting %q", name))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeState(w, st)
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	ctx, mode, cancel := s.viewportContext(r.Context())
	defer cancel()

	if mode == dashboard.ViewportLive {
		resp, err := s.backend.OpenVideoFeed(ctx)
		if err == nil {
			defer resp.Body.Close()
			proxyStream(w, resp)
			return
		}
		logger.Warn("MJPEG", "Backend video feed unavailable: %v", err)
		streamStandby(ctx, w, s.cfg.MJPEGInterval, s.unavailableFrame)
		return
	}

	streamStandby(ctx, w, s.cfg.MJPEGInterval, s.standbyFrame)
}

// viewportContext returns a context that is cancelled once the viewport
// leaves the mode it had when the stream started, so the client reconnects
// to the right source.
func (s *Server) viewportContext(parent context.Context) (context.Context, dashboard.ViewportMode, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	id, changes := s.store.Subscribe(4)
	mode := s.store.Snapshot().Viewport

	go func() {
		defer s.store.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					cancel()
					return
				}
				if change.State.Viewport != mode {
					logger.Debug("MJPEG", "Viewport changed %s -> %s, ending stream", mode, change.State.Viewport)
					cancel()
					return
				}
			}
		}
	}()
	return ctx, mode, cancel
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.trend.Summary())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "Hazard archive is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		logger.Error("HTTP", "History query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "History query failed")
		return
	}
	total, err := s.archive.Count(r.Context())
	if err != nil {
		logger.Error("HTTP", "History count failed: %v", err)
		writeError(w, http.StatusInternalServerError, "History query failed")
		return
	}
	writeJSON(w, HistoryResponse{Events: events, Total: total})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	filename, err := s.recorder.Start()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, RecordingResponse{
		Status: "recording",
		File:   filename,
		At:     float64(time.Now().UnixNano()) / 1e9,
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	status, err := s.recorder.Stop()
	if errors.Is(err, recorder.ErrNotRecording) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, RecordingResponse{
		Status: "stopped",
		File:   status.Filename,
		Stats:  &status,
		At:     float64(time.Now().UnixNano()) / 1e9,
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.GetStatus())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offer data")
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	switch {
	case errors.Is(err, webrtc.ErrInvalidOffer):
		writeError(w, http.StatusBadRequest, "Invalid offer data")
		return
	case errors.Is(err, webrtc.ErrMaxClients):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		logger.Error("WebRTC", "Offer failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create answer")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeState(w http.ResponseWriter, st dashboard.State) {
	writeJSON(w, cleanState(st))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONWithStatus(w, ErrorResponse{Error: message}, status)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP", "%s %s -> %d (%d bytes, %v) [%s]",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

// allowCrossOrigin lets a page served from another origin (API_BASE) call the API.
func allowCrossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
