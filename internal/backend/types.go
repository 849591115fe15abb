package backend

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Category is the coarse class a detection label belongs to.
type Category string

const (
	CategoryHazard  Category = "HAZARD"
	CategoryVehicle Category = "VEHICLE"
	CategoryTraffic Category = "TRAFFIC"
	CategoryPerson  Category = "PERSON"
	CategoryOther   Category = "OTHER"
)

var categoryLabels = map[Category][]string{
	CategoryHazard:  {"pothole", "road crack", "road damage", "rubbish", "manhole", "cone", "speedbump"},
	CategoryVehicle: {"car", "truck", "van", "bus"},
	CategoryTraffic: {"traffic light", "arrow traffic sign"},
	CategoryPerson:  {"pedestrian", "person"},
}

// Classify maps a model label to its category. Unknown labels are OTHER.
func Classify(label string) Category {
	label = strings.ToLower(strings.TrimSpace(label))
	for category, labels := range categoryLabels {
		for _, l := range labels {
			if l == label {
				return category
			}
		}
	}
	return CategoryOther
}

// BoundingBox is encoded as [x, y, width, height] on the wire.
type BoundingBox struct {
	X int
	Y int
	W int
	H int
}

// MarshalJSON encodes the box as a four element array.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X, b.Y, b.W, b.H})
}

// UnmarshalJSON decodes a four element array.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var coords []float64
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	if len(coords) != 4 {
		return fmt.Errorf("bounding box needs 4 coordinates, got %d", len(coords))
	}
	b.X, b.Y, b.W, b.H = int(coords[0]), int(coords[1]), int(coords[2]), int(coords[3])
	return nil
}

// Detection is one recognized object in a frame.
type Detection struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Category   Category    `json:"category"`
	Confidence float64     `json:"confidence"`
	Timestamp  float64     `json:"timestamp"`
	Box        BoundingBox `json:"coords"`
}

// HazardEvent is one entry of the backend hazard log.
type HazardEvent struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Time       string  `json:"time"`
}

// ConfidencePercent returns the confidence rounded to a whole percentage.
func (e HazardEvent) ConfidencePercent() int {
	return int(math.Round(e.Confidence * 100))
}

// Severe reports whether the event is shown with the high-confidence style.
func (e HazardEvent) Severe() bool {
	return e.Confidence > 0.8
}

// Stats is one snapshot of the backend counters.
type Stats struct {
	Vehicles    int           `json:"vehicles"`
	Hazards     int           `json:"hazards"`
	Pedestrians int           `json:"pedestrians"`
	Speed       float64       `json:"speed"`
	Logs        []HazardEvent `json:"logs"`
}

// HasHazard reports whether the snapshot raises the hazard indicator.
func (s Stats) HasHazard() bool {
	return s.Hazards > 0
}

// Clone returns a copy that does not share the log slice.
func (s Stats) Clone() Stats {
	out := s
	out.Logs = make([]HazardEvent, len(s.Logs))
	copy(out.Logs, s.Logs)
	return out
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Stats     Stats  `json:"stats"`
	ModelName string `json:"model_name,omitempty"`
}

// UploadResponse is the body of POST /upload_image.
type UploadResponse struct {
	Image string `json:"image,omitempty"`
	Error string `json:"error,omitempty"`
}

// SettingRequest is the body of POST /api/toggle_settings.
type SettingRequest struct {
	Setting string `json:"setting"`
	Value   bool   `json:"value"`
}

// SettingResponse is the reply of POST /api/toggle_settings.
type SettingResponse struct {
	Status   string `json:"status"`
	NewValue bool   `json:"new_value"`
	Message  string `json:"message,omitempty"`
}
