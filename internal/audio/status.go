package audio

import (
	"context"

	"github.com/koruapp/koru/internal/storage"
)

// Completion status values reported for polling.
const (
	StatusNone = "none"
	// "partial" and "ready" are shared with generation run results.
)

// StatusReport is the fine-grained audio completion summary for a ritual.
type StatusReport struct {
	RitualID  string
	Total     int
	Generated int
	Missing   int
	Status    string // "none", "partial", "ready"
}

// StatusReporter derives audio completion from artifact existence alone,
// independent of the document's coarse audioStatus flag. It never mutates
// anything and is safe to call concurrently with an in-flight generation
// run — it simply observes whatever artifacts exist at that moment.
type StatusReporter struct {
	store *storage.Store
}

func NewStatusReporter(store *storage.Store) *StatusReporter {
	return &StatusReporter{store: store}
}

// AudioStatus counts eligible text segments and checks each for an existing
// artifact. Returns storage.ErrNotFound when the ritual is absent.
func (r *StatusReporter) AudioStatus(ctx context.Context, ritualID string) (*StatusReport, error) {
	ritual, err := r.store.LoadRitual(ritualID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{RitualID: ritualID}

	for si := range ritual.Sections {
		for gi := range ritual.Sections[si].Segments {
			seg := &ritual.Sections[si].Segments[gi]
			if !seg.Eligible() {
				continue
			}
			report.Total++
			if r.store.AudioExists(ritualID, seg.ID) {
				report.Generated++
			}
		}
	}

	report.Missing = report.Total - report.Generated

	switch {
	case report.Total == 0:
		report.Status = StatusReady // Nothing to synthesize is trivially complete
	case report.Generated == 0:
		report.Status = StatusNone
	case report.Missing == 0:
		report.Status = StatusReady
	default:
		report.Status = StatusPartial
	}

	return report, nil
}
