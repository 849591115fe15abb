package dashboard

import (
	"fmt"
	"sync"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
)

// Store is the single dashboard state container.
// All transitions go through its methods; readers only ever get copies.
type Store struct {
	mu sync.Mutex

	cameraActive  bool
	stats         backend.Stats
	modelName     string
	settings      Settings
	uploadedImage string

	generation     uint64
	appliedSeq     uint64
	version        uint64
	lastSnapshotAt float64
	updatedAt      float64

	subscribers map[int]chan Change
	nextID      int
}

// NewStore returns a store in standby with an empty snapshot.
func NewStore() *Store {
	return &Store{
		stats:       backend.Stats{Logs: []backend.HazardEvent{}},
		settings:    DefaultSettings(),
		updatedAt:   unixNow(),
		subscribers: make(map[int]chan Change),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// ToggleCamera flips the camera flag. Switching on opens a new generation.
func (s *Store) ToggleCamera() State {
	s.mu.Lock()
	s.cameraActive = !s.cameraActive
	if s.cameraActive {
		s.generation++
		s.appliedSeq = 0
	}
	st := s.commitLocked(ChangeCamera)
	s.mu.Unlock()
	return st
}

// ApplySnapshot replaces the stats with resp if it belongs to the current
// generation and is newer than the snapshot already shown.
func (s *Store) ApplySnapshot(generation, seq uint64, resp backend.StatsResponse) (State, error) {
	s.mu.Lock()
	switch {
	case !s.cameraActive:
		s.mu.Unlock()
		return State{}, ErrInactive
	case generation != s.generation:
		s.mu.Unlock()
		return State{}, fmt.Errorf("%w: got %d, current %d", ErrStaleGeneration, generation, s.generation)
	case seq <= s.appliedSeq:
		s.mu.Unlock()
		return State{}, fmt.Errorf("%w: got %d, applied %d", ErrStaleSequence, seq, s.appliedSeq)
	}

	s.stats = resp.Stats.Clone()
	if s.stats.Logs == nil {
		s.stats.Logs = []backend.HazardEvent{}
	}
	if resp.ModelName != "" {
		s.modelName = resp.ModelName
	}
	s.appliedSeq = seq
	s.lastSnapshotAt = unixNow()
	st := s.commitLocked(ChangeSnapshot)
	s.mu.Unlock()
	return st, nil
}

// SetUpload switches the viewport to static-image mode.
func (s *Store) SetUpload(image string) State {
	s.mu.Lock()
	s.uploadedImage = image
	st := s.commitLocked(ChangeUpload)
	s.mu.Unlock()
	return st
}

// ClearUpload drops the uploaded image; the viewport returns to live or standby.
func (s *Store) ClearUpload() State {
	s.mu.Lock()
	s.uploadedImage = ""
	st := s.commitLocked(ChangeUpload)
	s.mu.Unlock()
	return st
}

// ToggleSetting flips a setting and returns its new value.
func (s *Store) ToggleSetting(name SettingName) (State, bool, error) {
	s.mu.Lock()
	var value bool
	switch name {
	case SettingCloudRelay:
		s.settings.CloudRelay = !s.settings.CloudRelay
		value = s.settings.CloudRelay
	case SettingAudioCues:
		s.settings.AudioCues = !s.settings.AudioCues
		value = s.settings.AudioCues
	default:
		s.mu.Unlock()
		return State{}, false, fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
	st := s.commitLocked(ChangeSettings)
	s.mu.Unlock()
	return st, value, nil
}

// Subscribe registers a listener. Changes are dropped for a listener whose
// buffer is full.
func (s *Store) Subscribe(buffer int) (int, <-chan Change) {
	if buffer < 1 {
		buffer = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Change, buffer)
	s.subscribers[id] = ch

	logger.Debug("Store", "Subscriber #%d added (total: %d)", id, len(s.subscribers))
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
		logger.Debug("Store", "Subscriber #%d removed (remaining: %d)", id, len(s.subscribers))
	}
}

// publishLocked runs under s.mu so subscribers see versions in order.
func (s *Store) publishLocked(change Change) {
	for id, ch := range s.subscribers {
		select {
		case ch <- change:
		default:
			logger.Debug("Store", "Subscriber #%d is slow, dropped %s change v%d", id, change.Kind, change.State.Version)
		}
	}
}

func (s *Store) commitLocked(kind ChangeKind) State {
	s.version++
	s.updatedAt = unixNow()
	st := s.stateLocked()
	s.publishLocked(Change{Kind: kind, State: st})
	return st
}

func (s *Store) stateLocked() State {
	return State{
		CameraActive:   s.cameraActive,
		Viewport:       s.viewportLocked(),
		HazardActive:   s.stats.HasHazard(),
		Stats:          s.stats.Clone(),
		ModelName:      s.modelName,
		Settings:       s.settings,
		UploadedImage:  s.uploadedImage,
		Generation:     s.generation,
		AppliedSeq:     s.appliedSeq,
		Version:        s.version,
		LastSnapshotAt: s.lastSnapshotAt,
		UpdatedAt:      s.updatedAt,
	}
}

func (s *Store) viewportLocked() ViewportMode {
	switch {
	case s.uploadedImage != "":
		return ViewportStatic
	case s.cameraActive:
		return ViewportLive
	default:
		return ViewportStandby
	}
}
