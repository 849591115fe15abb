package dashboard

import (
	"errors"
	"time"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
)

// ViewportMode is what the video viewport currently shows.
type ViewportMode string

const (
	ViewportStandby ViewportMode = "standby"
	ViewportLive    ViewportMode = "live"
	ViewportStatic  ViewportMode = "static"
)

// SettingName identifies a toggle in the settings panel.
type SettingName string

const (
	SettingCloudRelay SettingName = "cloud_relay"
	SettingAudioCues  SettingName = "audio_cues"
)

// BackendKey is the key the detection backend uses for the setting.
func (n SettingName) BackendKey() string {
	switch n {
	case SettingCloudRelay:
		return "telegram_enabled"
	case SettingAudioCues:
		return "audio_enabled"
	default:
		return ""
	}
}

// Settings are the dashboard toggles.
type Settings struct {
	CloudRelay bool `json:"cloud_relay"`
	AudioCues  bool `json:"audio_cues"`
}

// DefaultSettings mirrors the initial panel: relay on, audio off.
func DefaultSettings() Settings {
	return Settings{CloudRelay: true, AudioCues: false}
}

// State is a value copy of the dashboard state.
type State struct {
	CameraActive  bool          `json:"camera_active"`
	Viewport      ViewportMode  `json:"viewport"`
	HazardActive  bool          `json:"hazard_active"`
	Stats         backend.Stats `json:"stats"`
	ModelName     string        `json:"model_name,omitempty"`
	Settings      Settings      `json:"settings"`
	UploadedImage string        `json:"uploaded_image,omitempty"`

	// Generation increments each time the camera is switched on.
	Generation uint64 `json:"generation"`
	// AppliedSeq is the poll sequence of the snapshot in Stats.
	AppliedSeq uint64 `json:"applied_seq"`
	// Version increments on every state change.
	Version uint64 `json:"version"`

	LastSnapshotAt float64 `json:"last_snapshot_at"`
	UpdatedAt      float64 `json:"updated_at"`
}

// LiveIndicator reports whether the live feed badge is shown.
func (s State) LiveIndicator() bool {
	return s.Viewport == ViewportLive
}

// ChangeKind says which action produced a change.
type ChangeKind string

const (
	ChangeCamera   ChangeKind = "camera"
	ChangeSnapshot ChangeKind = "snapshot"
	ChangeUpload   ChangeKind = "upload"
	ChangeSettings ChangeKind = "settings"
)

// Change is delivered to subscribers after every state transition.
type Change struct {
	Kind  ChangeKind
	State State
}

var (
	// ErrInactive is returned when a snapshot arrives while the camera is off.
	ErrInactive = errors.New("camera is not active")
	// ErrStaleGeneration is returned for a snapshot from an earlier activation.
	ErrStaleGeneration = errors.New("snapshot from a previous camera activation")
	// ErrStaleSequence is returned when a newer snapshot was already applied.
	ErrStaleSequence = errors.New("newer snapshot already applied")
	// ErrUnknownSetting is returned for a setting name the panel does not have.
	ErrUnknownSetting = errors.New("unknown setting")
)

// IsStale reports whether err means a poll result was discarded as out of date.
func IsStale(err error) bool {
	return errors.Is(err, ErrInactive) ||
		errors.Is(err, ErrStaleGeneration) ||
		errors.Is(err, ErrStaleSequence)
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
