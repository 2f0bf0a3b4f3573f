package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/koruapp/koru/internal/models"
	"github.com/koruapp/koru/internal/storage"
)

func newTestReporter(t *testing.T) (*StatusReporter, *storage.Store) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return NewStatusReporter(store), store
}

func TestStatusMissingRitual(t *testing.T) {
	reporter, _ := newTestReporter(t)

	_, err := reporter.AudioStatus(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusProgression(t *testing.T) {
	reporter, store := newTestReporter(t)
	seedRitual(t, store) // 3 eligible segments: s1, s3, s4

	// No artifacts yet
	report, err := reporter.AudioStatus(context.Background(), "r1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Status != StatusNone || report.Total != 3 || report.Generated != 0 || report.Missing != 3 {
		t.Errorf("expected none 0/3, got %+v", report)
	}

	// One artifact
	if _, err := store.SaveAudio("r1", "s1", []byte("x"), "mp3"); err != nil {
		t.Fatalf("failed to save audio: %v", err)
	}
	report, err = reporter.AudioStatus(context.Background(), "r1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Status != StatusPartial || report.Generated != 1 || report.Missing != 2 {
		t.Errorf("expected partial 1/3, got %+v", report)
	}

	// All artifacts
	for _, id := range []string{"s3", "s4"} {
		if _, err := store.SaveAudio("r1", id, []byte("x"), "mp3"); err != nil {
			t.Fatalf("failed to save audio: %v", err)
		}
	}
	report, err = reporter.AudioStatus(context.Background(), "r1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Status != StatusReady || report.Missing != 0 {
		t.Errorf("expected ready 3/3, got %+v", report)
	}
}

func TestStatusIgnoresCoarseFlag(t *testing.T) {
	reporter, store := newTestReporter(t)

	// Document claims ready but no artifact exists on disk
	ritual := seedRitual(t, store)
	ritual.AudioStatus = models.AudioStatusReady
	if err := store.SaveRitual(ritual); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	report, err := reporter.AudioStatus(context.Background(), "r1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Status != StatusNone {
		t.Errorf("expected status derived from artifacts (none), got %s", report.Status)
	}
}

func TestStatusSilenceOnlyRitual(t *testing.T) {
	reporter, store := newTestReporter(t)

	ritual := &models.Ritual{
		ID:        "quiet",
		Title:     "Pure Silence",
		CreatedAt: models.NowUTC(),
		UpdatedAt: models.NowUTC(),
		Sections: []models.Section{
			{ID: "s", Type: models.SectionTypeBody, Segments: []models.Segment{
				{ID: "s1", Type: models.SegmentTypeSilence, DurationSeconds: 120},
			}},
		},
	}
	if err := store.SaveRitual(ritual); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	report, err := reporter.AudioStatus(context.Background(), "quiet")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Total != 0 || report.Status != StatusReady {
		t.Errorf("expected trivially ready, got %+v", report)
	}
}
