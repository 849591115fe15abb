package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
	"github.com/dj-oyu/road-hazard-dashboard/internal/dashboard"
	"github.com/dj-oyu/road-hazard-dashboard/internal/metrics"
)

func setupArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "hazards.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveRecordDeduplicates(t *testing.T) {
	a := setupArchive(t)
	ctx := context.Background()

	first := []backend.HazardEvent{
		{ID: "2", Type: "manhole", Confidence: 0.7, Time: "10:02"},
		{ID: "1", Type: "pothole", Confidence: 0.9, Time: "10:01"},
	}
	n, err := a.Record(ctx, first, "best.pt", time.Now())
	if err != nil || n != 2 {
		t.Fatalf("Record = %d, %v", n, err)
	}

	second := append([]backend.HazardEvent{{ID: "3", Type: "cone", Confidence: 0.55, Time: "10:03"}}, first...)
	n, err = a.Record(ctx, second, "best.pt", time.Now())
	if err != nil || n != 1 {
		t.Fatalf("second Record = %d, %v", n, err)
	}

	count, err := a.Count(ctx)
	if err != nil || count != 3 {
		t.Fatalf("Count = %d, %v", count, err)
	}
}

func TestArchiveRecentNewestFirst(t *testing.T) {
	a := setupArchive(t)
	ctx := context.Background()

	events := []backend.HazardEvent{
		{ID: "c", Type: "speedbump", Confidence: 0.6, Time: "10:03"},
		{ID: "b", Type: "manhole", Confidence: 0.7, Time: "10:02"},
		{ID: "a", Type: "pothole", Confidence: 0.9, Time: "10:01"},
	}
	if _, err := a.Record(ctx, events, "", time.Now()); err != nil {
		t.Fatal(err)
	}

	got, err := a.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[0].FirstSeen == 0 {
		t.Fatal("first_seen not stored")
	}
}

func TestArchiveSkipsEventsWithoutID(t *testing.T) {
	a := setupArchive(t)
	n, err := a.Record(context.Background(), []backend.HazardEvent{{Type: "pothole", Confidence: 0.5}}, "", time.Now())
	if err != nil || n != 0 {
		t.Fatalf("Record = %d, %v", n, err)
	}
}

func TestArchiveRunArchivesSnapshots(t *testing.T) {
	a := setupArchive(t)
	m := metrics.New()
	store := dashboard.NewStore()
	_, changes := store.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, changes, m)

	gen := store.ToggleCamera().Generation
	store.ApplySnapshot(gen, 1, backend.StatsResponse{Stats: backend.Stats{
		Hazards: 1,
		Logs:    []backend.HazardEvent{{ID: "x", Type: "pothole", Confidence: 0.8, Time: "09:00"}},
	}})

	deadline := time.Now().Add(2 * time.Second)
	for m.ArchivedEvents.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("snapshot was not archived")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, err := a.Recent(ctx, 10)
	if err != nil || len(got) != 1 || got[0].Type != "pothole" {
		t.Fatalf("Recent = %+v, %v", got, err)
	}
}
