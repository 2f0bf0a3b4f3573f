package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/koruapp/koru/internal/models"
	"github.com/koruapp/koru/internal/services"
	"github.com/koruapp/koru/internal/storage"
)

// fakeProvider is an in-memory TTSProvider for exercising the generator
// without network access.
type fakeProvider struct {
	name        string
	unavailable bool
	failTexts   map[string]bool // texts whose synthesis should fail
	synthesized []string        // texts synthesized, in call order
}

var _ services.TTSProvider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Available() bool { return !f.unavailable }

func (f *fakeProvider) Voices() []models.Voice {
	return []models.Voice{{ID: "calm", Name: "Calm", Provider: f.name}}
}

func (f *fakeProvider) Synthesize(ctx context.Context, text, voiceID string, speed float64) (*services.SynthesisResult, error) {
	if f.failTexts[text] {
		return nil, &services.SynthesisError{Provider: f.name, Err: errors.New("quota exceeded")}
	}
	f.synthesized = append(f.synthesized, text)
	return &services.SynthesisResult{
		AudioData:       []byte("audio:" + text),
		DurationSeconds: 1.5,
		ContentType:     "audio/mpeg",
	}, nil
}

func newTestGenerator(t *testing.T, provider *fakeProvider) (*Generator, *storage.Store) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return NewGenerator(store, services.NewTTSRegistry(provider)), store
}

func seedRitual(t *testing.T, store *storage.Store) *models.Ritual {
	t.Helper()
	ritual := &models.Ritual{
		ID:          "r1",
		Title:       "Morning Calm",
		AudioStatus: models.AudioStatusPending,
		CreatedAt:   models.NowUTC(),
		UpdatedAt:   models.NowUTC(),
		Sections: []models.Section{
			{ID: "intro", Type: models.SectionTypeIntro, Segments: []models.Segment{
				{ID: "s1", Type: models.SegmentTypeText, Text: "Welcome"},
				{ID: "s2", Type: models.SegmentTypeSilence, DurationSeconds: 10},
			}},
			{ID: "body", Type: models.SectionTypeBody, Segments: []models.Segment{
				{ID: "s3", Type: models.SegmentTypeText, Text: "Breathe in"},
				{ID: "s4", Type: models.SegmentTypeText, Text: "Breathe out"},
			}},
		},
	}
	if err := store.SaveRitual(ritual); err != nil {
		t.Fatalf("failed to seed ritual: %v", err)
	}
	return ritual
}

func TestGenerateAllSegments(t *testing.T) {
	provider := &fakeProvider{name: "fake"}
	gen, store := newTestGenerator(t, provider)
	seedRitual(t, store)

	result, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake")
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	if result.Total != 3 || result.Generated != 3 || result.Skipped != 0 {
		t.Errorf("unexpected counters: %+v", result)
	}
	if result.Status != StatusReady {
		t.Errorf("expected status ready, got %s", result.Status)
	}

	// Document order across sections
	want := []string{"Welcome", "Breathe in", "Breathe out"}
	if len(provider.synthesized) != len(want) {
		t.Fatalf("expected %d synthesis calls, got %d", len(want), len(provider.synthesized))
	}
	for i, text := range want {
		if provider.synthesized[i] != text {
			t.Errorf("call %d: expected %q, got %q", i, text, provider.synthesized[i])
		}
	}

	// Document updated: audio URLs and durations on text segments
	ritual, err := store.LoadRitual("r1")
	if err != nil {
		t.Fatalf("failed to reload ritual: %v", err)
	}
	if ritual.AudioStatus != models.AudioStatusReady {
		t.Errorf("expected audioStatus ready, got %s", ritual.AudioStatus)
	}
	seg := ritual.Sections[0].Segments[0]
	if seg.AudioURL == nil || *seg.AudioURL != "/api/audio/r1/s1.mp3" {
		t.Errorf("unexpected segment audio URL: %v", seg.AudioURL)
	}
	if seg.ActualDurationSeconds == nil || *seg.ActualDurationSeconds != 1.5 {
		t.Errorf("unexpected segment duration: %v", seg.ActualDurationSeconds)
	}
	if silence := ritual.Sections[0].Segments[1]; silence.AudioURL != nil {
		t.Error("silence segment must not receive audio")
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	provider := &fakeProvider{name: "fake"}
	gen, store := newTestGenerator(t, provider)
	seedRitual(t, store)

	if _, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	firstCalls := len(provider.synthesized)

	result, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if len(provider.synthesized) != firstCalls {
		t.Errorf("re-run performed %d extra synthesis calls", len(provider.synthesized)-firstCalls)
	}
	if result.Generated != 0 || result.Skipped != 3 || result.Status != StatusReady {
		t.Errorf("unexpected re-run result: %+v", result)
	}
}

func TestPartialFailureContinues(t *testing.T) {
	provider := &fakeProvider{name: "fake", failTexts: map[string]bool{"Breathe in": true}}
	gen, store := newTestGenerator(t, provider)
	seedRitual(t, store)

	result, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake")
	if err != nil {
		t.Fatalf("expected run to survive segment failure, got %v", err)
	}

	if result.Generated != 2 || result.Total != 3 {
		t.Errorf("unexpected counters: %+v", result)
	}
	if result.Status != StatusPartial {
		t.Errorf("expected status partial, got %s", result.Status)
	}
	if len(result.Failures) != 1 || result.Failures[0].SegmentID != "s3" {
		t.Errorf("unexpected failures: %+v", result.Failures)
	}

	// Segments after the failed one still got audio
	if !store.AudioExists("r1", "s4") {
		t.Error("expected segment after failure to be synthesized")
	}

	// Retry covers only the failed segment
	provider.failTexts = nil
	retry, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retry.Generated != 1 || retry.Skipped != 2 || retry.Status != StatusReady {
		t.Errorf("unexpected retry result: %+v", retry)
	}
}

func TestAllSegmentsFailing(t *testing.T) {
	provider := &fakeProvider{name: "fake", failTexts: map[string]bool{
		"Welcome": true, "Breathe in": true, "Breathe out": true,
	}}
	gen, store := newTestGenerator(t, provider)
	seedRitual(t, store)

	result, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake")
	if err != nil {
		t.Fatalf("expected result despite failures, got %v", err)
	}
	if result.Status != StatusError {
		t.Errorf("expected status error, got %s", result.Status)
	}

	ritual, err := store.LoadRitual("r1")
	if err != nil {
		t.Fatalf("failed to reload ritual: %v", err)
	}
	if ritual.AudioStatus != models.AudioStatusError {
		t.Errorf("expected audioStatus error, got %s", ritual.AudioStatus)
	}
}

func TestSkipByExistingArtifact(t *testing.T) {
	provider := &fakeProvider{name: "fake"}
	gen, store := newTestGenerator(t, provider)
	seedRitual(t, store)

	// Pre-seed one artifact; the generator must never touch it
	if _, err := store.SaveAudio("r1", "s1", []byte("preexisting"), "mp3"); err != nil {
		t.Fatalf("failed to pre-seed audio: %v", err)
	}

	result, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake")
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	if result.Skipped != 1 || result.Generated != 2 {
		t.Errorf("unexpected counters: %+v", result)
	}
	for _, text := range provider.synthesized {
		if text == "Welcome" {
			t.Error("pre-seeded segment was re-synthesized")
		}
	}
}

func TestSilenceOnlyRitualIsReady(t *testing.T) {
	provider := &fakeProvider{name: "fake"}
	gen, store := newTestGenerator(t, provider)

	ritual := &models.Ritual{
		ID:          "quiet",
		Title:       "Pure Silence",
		AudioStatus: models.AudioStatusPending,
		CreatedAt:   models.NowUTC(),
		UpdatedAt:   models.NowUTC(),
		Sections: []models.Section{
			{ID: "s", Type: models.SectionTypeBody, Segments: []models.Segment{
				{ID: "s1", Type: models.SegmentTypeSilence, DurationSeconds: 300},
			}},
		},
	}
	if err := store.SaveRitual(ritual); err != nil {
		t.Fatalf("failed to seed ritual: %v", err)
	}

	result, err := gen.GenerateRitualAudio(context.Background(), "quiet", "calm", "fake")
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	if result.Total != 0 || result.Status != StatusReady {
		t.Errorf("expected trivially ready run, got %+v", result)
	}
	if len(provider.synthesized) != 0 {
		t.Errorf("expected zero synthesis calls, got %d", len(provider.synthesized))
	}
}

func TestGenerateMissingRitual(t *testing.T) {
	gen, _ := newTestGenerator(t, &fakeProvider{name: "fake"})

	_, err := gen.GenerateRitualAudio(context.Background(), "ghost", "calm", "fake")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerateUnknownProvider(t *testing.T) {
	gen, store := newTestGenerator(t, &fakeProvider{name: "fake"})
	seedRitual(t, store)

	_, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "polly")
	if !errors.Is(err, services.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestTraversalRitualIDCreatesNoLockFile(t *testing.T) {
	root := t.TempDir()
	store, err := storage.New(root)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	gen := NewGenerator(store, services.NewTTSRegistry(&fakeProvider{name: "fake"}))

	_, err = gen.GenerateRitualAudio(context.Background(), "../../evil", "calm", "fake")
	if !errors.Is(err, storage.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}

	// locks/<id>.lock for this id would land above the storage root
	escaped := filepath.Join(root, "..", "evil.lock")
	if _, err := os.Stat(escaped); !os.IsNotExist(err) {
		t.Errorf("lock file created outside storage root at %s", escaped)
	}
}

func TestConcurrentRunReportsConflict(t *testing.T) {
	provider := &fakeProvider{name: "fake"}
	gen, store := newTestGenerator(t, provider)
	seedRitual(t, store)

	// Hold the ritual's lock the way an in-flight run would
	lockPath, err := store.LockPath("r1")
	if err != nil {
		t.Fatalf("failed to resolve lock path: %v", err)
	}
	holder := flock.New(lockPath)
	held, err := holder.TryLock()
	if err != nil || !held {
		t.Fatalf("failed to hold lock: held=%v err=%v", held, err)
	}
	defer holder.Unlock()

	gen.LockWait = 50 * time.Millisecond
	_, err = gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake")
	if !errors.Is(err, ErrGenerationInProgress) {
		t.Fatalf("expected ErrGenerationInProgress, got %v", err)
	}
	if len(provider.synthesized) != 0 {
		t.Errorf("conflicting run must not synthesize, got %d calls", len(provider.synthesized))
	}

	// Releasing the lock lets a fresh run proceed
	if err := holder.Unlock(); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}
	result, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake")
	if err != nil {
		t.Fatalf("run after release failed: %v", err)
	}
	if result.Status != StatusReady {
		t.Errorf("expected ready after release, got %s", result.Status)
	}
}

func TestGenerateUnavailableProvider(t *testing.T) {
	gen, store := newTestGenerator(t, &fakeProvider{name: "fake", unavailable: true})
	seedRitual(t, store)

	_, err := gen.GenerateRitualAudio(context.Background(), "r1", "calm", "fake")
	if !errors.Is(err, services.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}
