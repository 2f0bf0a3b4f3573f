package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums
type SegmentType string

const (
	SegmentTypeText    SegmentType = "text"
	SegmentTypeSilence SegmentType = "silence"
)

type SectionType string

const (
	SectionTypeIntro   SectionType = "intro"
	SectionTypeBody    SectionType = "body"
	SectionTypeClosing SectionType = "closing"
)

type Tone string

const (
	ToneGentle  Tone = "gentle"
	ToneNeutral Tone = "neutral"
	ToneCoach   Tone = "coach"
)

type Pace string

const (
	PaceSlow   Pace = "slow"
	PaceMedium Pace = "medium"
	PaceFast   Pace = "fast"
)

// AudioStatus is the coarse document-level flag. It signals whether playable
// audio exists, not whether every segment is covered — the precise per-segment
// view comes from the audio status endpoint.
type AudioStatus string

const (
	AudioStatusPending    AudioStatus = "pending"
	AudioStatusGenerating AudioStatus = "generating"
	AudioStatusReady      AudioStatus = "ready"
	AudioStatusError      AudioStatus = "error"
)

// Models
//
// JSON field names are the external wire contract shared with existing
// clients (camelCase aliases like durationSeconds, includeSilence). They must
// stay stable across create/read/update.

// Segment is the smallest unit of a ritual: either spoken text or a timed
// silence. Only text segments with non-empty text are subject to audio
// generation.
type Segment struct {
	ID                    string      `json:"id"`
	Type                  SegmentType `json:"type"`
	Text                  string      `json:"text,omitempty"`
	DurationSeconds       float64     `json:"durationSeconds"`
	AudioURL              *string     `json:"audioUrl,omitempty"`
	ActualDurationSeconds *float64    `json:"actualDurationSeconds,omitempty"` // Set after successful synthesis
}

// Eligible reports whether the segment is subject to audio generation.
func (s *Segment) Eligible() bool {
	return s.Type == SegmentTypeText && s.Text != ""
}

// Section is an ordered group of segments representing one phase of the
// ritual. The whole-section audio fields are carried for wire compatibility
// with older clients; new audio is always per-segment.
type Section struct {
	ID                   string      `json:"id"`
	Type                 SectionType `json:"type"`
	DurationSeconds      float64     `json:"durationSeconds"`
	Segments             []Segment   `json:"segments"`
	AudioURL             *string     `json:"audioUrl,omitempty"`
	AudioDurationSeconds *float64    `json:"audioDurationSeconds,omitempty"`
	AudioGeneratedAt     *string     `json:"audioGeneratedAt,omitempty"`
}

// Ritual is the top-level persisted document: a generated meditation script
// plus its audio bookkeeping.
type Ritual struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Instructions    string      `json:"instructions"`
	DurationSeconds int         `json:"duration"` // Total planned duration in seconds
	Tone            Tone        `json:"tone"`
	Pace            Pace        `json:"pace"`
	IncludeSilence  bool        `json:"includeSilence"`
	Soundscape      string      `json:"soundscape"` // "ocean", "forest", "rain", "fire", "none"
	Sections        []Section   `json:"sections"`
	Tags            []string    `json:"tags"`
	IsTemplate      bool        `json:"isTemplate"`
	GeneratedFrom   *string     `json:"generatedFrom,omitempty"` // Intention this ritual was generated from
	VoiceID         *string     `json:"voiceId,omitempty"`
	AudioStatus     AudioStatus `json:"audioStatus"`
	CreatedAt       string      `json:"createdAt"`
	UpdatedAt       string      `json:"updatedAt"`
}

// Touch refreshes the update timestamp.
func (r *Ritual) Touch() {
	r.UpdatedAt = NowUTC()
}

// EligibleSegmentCount returns the number of text segments subject to audio
// generation, in document order across all sections.
func (r *Ritual) EligibleSegmentCount() int {
	n := 0
	for i := range r.Sections {
		for j := range r.Sections[i].Segments {
			if r.Sections[i].Segments[j].Eligible() {
				n++
			}
		}
	}
	return n
}

// NowUTC formats the current time the way the wire contract expects:
// RFC 3339 UTC with a trailing Z.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NewID generates a fresh ritual/section/segment identifier.
func NewID() string {
	return uuid.NewString()
}

// Voice describes one entry of a provider's static voice catalog.
type Voice struct {
	ID          string   `json:"id"` // Logical voice name, e.g. "sarah"
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Provider    string   `json:"provider"` // "elevenlabs" or "google"
}

// DTOs for API requests and responses

type RitualCreateRequest struct {
	Intention       string   `json:"intention"`
	DurationMinutes int      `json:"durationMinutes"`
	FocusAreas      []string `json:"focusAreas,omitempty"`
	Tone            Tone     `json:"tone,omitempty"`
	IncludeSilence  *bool    `json:"includeSilence,omitempty"` // Default: true
	VoiceID         string   `json:"voiceId,omitempty"`        // Default: "sarah"
	Provider        string   `json:"provider,omitempty"`       // Default: "elevenlabs"
}

type RitualResponse struct {
	Ritual Ritual `json:"ritual"`
}

type SynthesizeRequest struct {
	Text      string  `json:"text"`
	VoiceID   string  `json:"voiceId,omitempty"`
	Provider  string  `json:"provider,omitempty"`
	RitualID  string  `json:"ritualId,omitempty"`
	SegmentID string  `json:"segmentId,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
}

type SynthesizeResponse struct {
	AudioURL        string  `json:"audioUrl"`
	DurationSeconds float64 `json:"durationSeconds"`
}

type GenerateRitualAudioRequest struct {
	RitualID string `json:"ritualId"`
	VoiceID  string `json:"voiceId,omitempty"`  // Default: "sarah"
	Provider string `json:"provider,omitempty"` // Default: "elevenlabs"
}

type GenerateRitualAudioResponse struct {
	RitualID          string `json:"ritualId"`
	SegmentsGenerated int    `json:"segmentsGenerated"`
	TotalSegments     int    `json:"totalSegments"`
	SegmentsSkipped   int    `json:"segmentsSkipped"`
	Status            string `json:"status"` // "ready", "partial", "error"
}

type AudioStatusResponse struct {
	RitualID  string `json:"ritualId"`
	Total     int    `json:"total"`
	Generated int    `json:"generated"`
	Missing   int    `json:"missing"`
	Status    string `json:"status"` // "none", "partial", "ready"
}

type DeleteRitualResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}
