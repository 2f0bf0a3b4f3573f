package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofrs/flock"

	"github.com/koruapp/koru/internal/models"
	"github.com/koruapp/koru/internal/services"
	"github.com/koruapp/koru/internal/storage"
)

// ErrGenerationInProgress is returned when another audio generation run
// already holds the lock for the same ritual.
var ErrGenerationInProgress = errors.New("audio generation already in progress for this ritual")

// Run status values for a whole generation pass.
const (
	StatusReady   = "ready"
	StatusPartial = "partial"
	StatusError   = "error"
)

const (
	// defaultSpeed is passed to providers for ritual narration.
	defaultSpeed = 1.0

	// How long a run waits for the per-ritual lock before giving up.
	defaultLockWait = 5 * time.Second
	lockRetryTick   = 200 * time.Millisecond
)

// SegmentFailure records one segment whose synthesis or artifact write
// failed during a run. Failures are collected, not propagated.
type SegmentFailure struct {
	SegmentID string
	Err       error
}

// GenerationResult is the aggregate outcome of one generation run.
type GenerationResult struct {
	RitualID  string
	Generated int
	Total     int
	Skipped   int
	Status    string // "ready", "partial", "error"
	Failures  []SegmentFailure
}

// Generator walks a ritual's script and synthesizes audio for every text
// segment that does not already have an artifact. Segments are processed
// strictly in document order, one synthesis call at a time.
type Generator struct {
	store *storage.Store
	tts   *services.TTSRegistry

	// LockWait bounds how long a run waits for the per-ritual lock before
	// reporting a conflict.
	LockWait time.Duration
}

func NewGenerator(store *storage.Store, tts *services.TTSRegistry) *Generator {
	return &Generator{store: store, tts: tts, LockWait: defaultLockWait}
}

// GenerateRitualAudio runs a full audio generation pass for one ritual.
//
// Fatal conditions (ritual missing, unknown provider, provider without a
// credential, lock conflict, final document save) surface as errors with no
// result. A single segment's failure never aborts the run: the segment is
// left without audio and the loop continues, degrading the result to
// "partial" or "error".
//
// Re-runs converge: segments with an existing artifact are skipped, never
// regenerated or overwritten.
func (g *Generator) GenerateRitualAudio(ctx context.Context, ritualID, voiceID, providerName string) (*GenerationResult, error) {
	// The id must be validated before the lock file is created; it is the
	// first storage path this run touches.
	lockPath, err := g.store.LockPath(ritualID)
	if err != nil {
		return nil, err
	}

	// Serialize concurrent runs against the same ritual. Without this, two
	// runs would race on the final save and double-bill synthesis for the
	// same missing segments.
	lock := flock.New(lockPath)

	lockCtx, cancel := context.WithTimeout(ctx, g.LockWait)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, lockRetryTick)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("failed to acquire ritual lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrGenerationInProgress, ritualID)
	}
	defer lock.Unlock()

	ritual, err := g.store.LoadRitual(ritualID)
	if err != nil {
		return nil, err
	}

	provider, err := g.tts.Provider(providerName)
	if err != nil {
		return nil, err
	}
	if !provider.Available() {
		return nil, fmt.Errorf("%s: %w", providerName, services.ErrProviderUnavailable)
	}

	log.Printf("[AudioGen] Starting run for ritual %s (provider=%s, voice=%s)", ritualID, providerName, voiceID)

	// Mark the transition so pollers of the document see an in-flight run.
	ritual.AudioStatus = models.AudioStatusGenerating
	ritual.Touch()
	if err := g.store.SaveRitual(ritual); err != nil {
		return nil, fmt.Errorf("failed to mark ritual generating: %w", err)
	}

	result := &GenerationResult{RitualID: ritualID}

	for si := range ritual.Sections {
		for gi := range ritual.Sections[si].Segments {
			seg := &ritual.Sections[si].Segments[gi]
			if !seg.Eligible() {
				continue
			}
			result.Total++

			// Artifact existence on disk is the source of truth; an
			// already-synthesized segment is never touched again.
			if g.store.AudioExists(ritualID, seg.ID) {
				result.Skipped++
				continue
			}

			synth, err := provider.Synthesize(ctx, seg.Text, voiceID, defaultSpeed)
			if err != nil {
				log.Printf("[AudioGen] Segment %s synthesis failed: %v", seg.ID, err)
				result.Failures = append(result.Failures, SegmentFailure{SegmentID: seg.ID, Err: err})
				continue
			}

			ext := services.ExtensionForContentType(synth.ContentType)
			audioURL, err := g.store.SaveAudio(ritualID, seg.ID, synth.AudioData, ext)
			if err != nil {
				log.Printf("[AudioGen] Segment %s artifact write failed: %v", seg.ID, err)
				result.Failures = append(result.Failures, SegmentFailure{SegmentID: seg.ID, Err: err})
				continue
			}

			seg.AudioURL = &audioURL
			duration := synth.DurationSeconds
			seg.ActualDurationSeconds = &duration
			result.Generated++
		}
	}

	result.Status = aggregateStatus(result.Generated, result.Skipped, result.Total)

	// The coarse document flag tracks "playable audio exists", not exact
	// completeness; clients needing precision poll the status endpoint.
	ritual.VoiceID = &voiceID
	if result.Status == StatusError {
		ritual.AudioStatus = models.AudioStatusError
	} else {
		ritual.AudioStatus = models.AudioStatusReady
	}
	ritual.Touch()

	// One persist at the end of the run, not per segment.
	if err := g.store.SaveRitual(ritual); err != nil {
		return nil, fmt.Errorf("failed to save ritual after generation: %w", err)
	}

	log.Printf("[AudioGen] Run complete for ritual %s: generated=%d skipped=%d total=%d status=%s failures=%d",
		ritualID, result.Generated, result.Skipped, result.Total, result.Status, len(result.Failures))

	return result, nil
}

// aggregateStatus derives the run outcome from the three counters. A ritual
// with zero eligible segments is trivially ready.
func aggregateStatus(generated, skipped, total int) string {
	covered := generated + skipped
	switch {
	case covered == total:
		return StatusReady
	case covered > 0:
		return StatusPartial
	default:
		return StatusError
	}
}
