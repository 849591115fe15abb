// Package recorder writes applied stats snapshots to NDJSON session files.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
	"github.com/dj-oyu/road-hazard-dashboard/internal/logger"
	"github.com/dj-oyu/road-hazard-dashboard/internal/metrics"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Record is one line of a session file.
type Record struct {
	RecordedAt   float64       `json:"recorded_at"`
	Generation   uint64        `json:"generation"`
	Seq          uint64        `json:"seq"`
	HazardActive bool          `json:"hazard_active"`
	ModelName    string        `json:"model_name,omitempty"`
	Stats        backend.Stats `json:"stats"`
}

// Recorder records snapshots to file
type Recorder struct {
	mu            sync.RWMutex
	file          *os.File
	writer        *bufio.Writer
	filename      string
	basePath      string
	recording     bool
	snapshotCount uint64
	bytesWritten  uint64
	startTime     time.Time
	stopTime      time.Time
	snapChan      chan dashboard.State
	stopChan      chan struct{}
	wg            sync.WaitGroup
	metrics       *metrics.Metrics
}

// NewRecorder creates a new recorder writing into basePath. m may be nil.
func NewRecorder(basePath string, m *metrics.Metrics) *Recorder {
	return &Recorder{
		basePath: basePath,
		snapChan: make(chan dashboard.State, 60), // 30 seconds at the default poll period
		metrics:  m,
	}
}

// Start starts recording to a new file and returns its name.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording dir: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("session_%s_%s.ndjson", timestamp, uuid.NewString()[:8])
	file, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.writer = bufio.NewWriter(file)
	r.filename = filename
	r.recording = true
	r.snapshotCount = 0
	r.bytesWritten = 0
	r.startTime = time.Now()
	r.stopTime = time.Time{}
	r.stopChan = make(chan struct{})

	// Drop snapshots left over from a previous session
	for len(r.snapChan) > 0 {
		<-r.snapChan
	}

	r.wg.Add(1)
	go r.writeSnapshots(r.stopChan)

	r.setActive(true)
	logger.Info("Recorder", "Recording started: %s", filename)
	return filename, nil
}

// Stop stops recording and returns the final status.
func (r *Recorder) Stop() (RecordingStatus, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return RecordingStatus{}, ErrNotRecording
	}
	r.recording = false
	r.stopTime = time.Now()
	close(r.stopChan)
	r.mu.Unlock()

	// Wait for write goroutine to drain
	r.wg.Wait()

	r.mu.Lock()
	status := r.statusLocked()
	var err error
	if r.file != nil {
		if ferr := r.writer.Flush(); ferr != nil {
			err = fmt.Errorf("failed to flush file: %w", ferr)
		} else if serr := r.file.Sync(); serr != nil {
			err = fmt.Errorf("failed to sync file: %w", serr)
		}
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
		r.file = nil
		r.writer = nil
	}
	r.mu.Unlock()

	r.setActive(false)
	logger.Info("Recorder", "Recording stopped: %s (%d snapshots, %d bytes)",
		status.Filename, status.SnapshotCount, status.BytesWritten)
	return status, err
}

// SendSnapshot queues a snapshot for writing (non-blocking)
func (r *Recorder) SendSnapshot(st dashboard.State) bool {
	r.mu.RLock()
	recording := r.recording
	r.mu.RUnlock()

	if !recording {
		return false
	}

	select {
	case r.snapChan <- st:
		return true
	default:
		logger.Debug("Recorder", "Queue full, dropped snapshot seq %d", st.AppliedSeq)
		return false
	}
}

// Run records every applied snapshot until ctx is done or changes closes.
func (r *Recorder) Run(ctx context.Context, changes <-chan dashboard.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Kind == dashboard.ChangeSnapshot {
				r.SendSnapshot(change.State)
			}
		}
	}
}

func (r *Recorder) writeSnapshots(stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case st := <-r.snapChan:
			r.writeSnapshot(st)
		case <-stop:
			for len(r.snapChan) > 0 {
				r.writeSnapshot(<-r.snapChan)
			}
			return
		}
	}
}

func (r *Recorder) writeSnapshot(st dashboard.State) {
	line, err := json.Marshal(Record{
		RecordedAt:   float64(time.Now().UnixNano()) / 1e9,
		Generation:   st.Generation,
		Seq:          st.AppliedSeq,
		HazardActive: st.HazardActive,
		ModelName:    st.ModelName,
		Stats:        st.Stats,
	})
	if err != nil {
		logger.Error("Recorder", "Failed to encode snapshot: %v", err)
		return
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return
	}
	n, err := r.writer.Write(line)
	if err != nil {
		logger.Error("Recorder", "Failed to write snapshot: %v", err)
		return
	}

	r.bytesWritten += uint64(n)
	r.snapshotCount++
	if r.metrics != nil {
		r.metrics.RecordingSnapshots.Add(1)
		r.metrics.RecordingBytes.Add(uint64(n))
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusLocked()
}

func (r *Recorder) statusLocked() RecordingStatus {
	status := RecordingStatus{
		Recording:     r.recording,
		Filename:      r.filename,
		SnapshotCount: r.snapshotCount,
		BytesWritten:  r.bytesWritten,
	}
	if !r.startTime.IsZero() {
		status.StartTime = float64(r.startTime.UnixNano()) / 1e9
		end := time.Now()
		if !r.recording {
			end = r.stopTime
		}
		status.DurationMs = end.Sub(r.startTime).Milliseconds()
	}
	return status
}

// Close stops an active recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

func (r *Recorder) setActive(active bool) {
	if r.metrics != nil {
		metrics.SetBool(&r.metrics.RecordingActive, active)
	}
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording     bool    `json:"recording"`
	Filename      string  `json:"filename"`
	SnapshotCount uint64  `json:"snapshot_count"`
	BytesWritten  uint64  `json:"bytes_written"`
	DurationMs    int64   `json:"duration_ms"`
	StartTime     float64 `json:"start_time,omitempty"`
}
