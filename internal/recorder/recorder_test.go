package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
	"github.com/dj-oyu/road-hazard-dashboard/internal/metrics"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestRecorderStartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	m := metrics.New()
	r := NewRecorder(dir, m)

	name, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Start(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start = %v", err)
	}
	if m.RecordingActive.Load() != 1 {
		t.Fatal("recording gauge not set")
	}

	for seq := uint64(1); seq <= 3; seq++ {
		if !r.SendSnapshot(dashboard.State{Generation: 1, AppliedSeq: seq, Stats: backend.Stats{Vehicles: int(seq)}}) {
			t.Fatalf("snapshot %d not queued", seq)
		}
	}

	status, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if status.Recording || status.SnapshotCount != 3 || status.Filename != name {
		t.Fatalf("unexpected status %+v", status)
	}
	if m.RecordingActive.Load() != 0 || m.RecordingSnapshots.Load() != 3 {
		t.Fatal("recording metrics not updated")
	}

	recs := readRecords(t, filepath.Join(dir, name))
	if len(recs) != 3 || recs[2].Seq != 3 || recs[2].Stats.Vehicles != 3 {
		t.Fatalf("unexpected records %+v", recs)
	}

	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("second Stop = %v", err)
	}
}

func TestRecorderIgnoresSnapshotsWhenIdle(t *testing.T) {
	r := NewRecorder(t.TempDir(), nil)
	if r.SendSnapshot(dashboard.State{}) {
		t.Fatal("idle recorder accepted a snapshot")
	}
	if st := r.GetStatus(); st.Recording || st.Filename != "" {
		t.Fatalf("unexpected idle status %+v", st)
	}
}

func TestRecorderRunRecordsAppliedSnapshots(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, nil)
	name, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}

	store := dashboard.NewStore()
	_, changes := store.Subscribe(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, changes)

	gen := store.ToggleCamera().Generation
	store.ApplySnapshot(gen, 1, backend.StatsResponse{Stats: backend.Stats{Hazards: 1}, ModelName: "best.pt"})

	deadline := time.Now().Add(2 * time.Second)
	for r.GetStatus().SnapshotCount < 1 {
		if time.Now().After(deadline) {
			t.Fatal("snapshot was not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := r.Stop(); err != nil {
		t.Fatal(err)
	}

	recs := readRecords(t, filepath.Join(dir, name))
	if len(recs) != 1 || !recs[0].HazardActive || recs[0].ModelName != "best.pt" {
		t.Fatalf("unexpected records %+v", recs)
	}
}
