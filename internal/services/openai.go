package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/koruapp/koru/internal/models"
)

// ErrGeneratorUnavailable means the text-generation collaborator has no
// credential configured. Ritual generation is a hard precondition on it.
var ErrGeneratorUnavailable = fmt.Errorf("openai not configured: missing API key")

// OpenAIService generates ritual scripts from user intentions using chat
// completion with JSON-mode structured output.
type OpenAIService struct {
	apiKey string
	client *openai.Client
}

func NewOpenAIService(apiKey string) *OpenAIService {
	svc := &OpenAIService{apiKey: apiKey}
	if apiKey != "" {
		svc.client = openai.NewClient(apiKey)
	}
	return svc
}

// Available reports whether an OpenAI API key is configured.
func (s *OpenAIService) Available() bool { return s.apiKey != "" }

// ritualPlan mirrors the JSON shape the model is asked to produce.
type ritualPlan struct {
	Title    string            `json:"title"`
	Sections []ritualPlanPhase `json:"sections"`
	Tags     []string          `json:"tags"`
}

type ritualPlanPhase struct {
	Type            string            `json:"type"`
	DurationSeconds float64           `json:"durationSeconds"`
	Segments        []ritualPlanEntry `json:"segments"`
}

type ritualPlanEntry struct {
	Type            string  `json:"type"`
	Text            string  `json:"text,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
}

const ritualSystemPrompt = `You are a meditation ritual designer. Create personalized meditation rituals based on user intentions.

Output Format: Respond with valid JSON only. No markdown, no explanation.

Structure your ritual with 3 sections:
1. "intro" - Opening and settling in (15-20% of total duration)
2. "body" - Main meditation practice (60-70% of total duration)
3. "closing" - Integration and return (15-20% of total duration)

Each section has segments that are either:
- "text": spoken guidance (with the text field containing what to say)
- "silence": pause for reflection (with durationSeconds for how long)

Example response format:
{
  "title": "Morning Energy Ritual",
  "sections": [
    {
      "type": "intro",
      "durationSeconds": 60,
      "segments": [
        {"type": "text", "text": "Welcome. Find a comfortable position...", "durationSeconds": 15},
        {"type": "silence", "durationSeconds": 5},
        {"type": "text", "text": "Take a deep breath in...", "durationSeconds": 10}
      ]
    }
  ],
  "tags": ["morning", "energy", "focus"]
}

Guidelines:
- Use calming, supportive language appropriate for the tone
- For "gentle" tone: soft, nurturing, reassuring
- For "neutral" tone: balanced, clear, professional
- For "coach" tone: motivating, direct, encouraging
- Include breathing cues and body awareness
- Space out spoken segments with natural pauses
- Text segments should be 10-30 seconds when spoken aloud
- Silence segments should be 3-15 seconds for reflection`

// GenerateRitual asks the model for a complete ritual script and assembles
// the document: ids assigned, audio status pending, no audio yet.
func (s *OpenAIService) GenerateRitual(ctx context.Context, req models.RitualCreateRequest) (*models.Ritual, error) {
	if !s.Available() {
		return nil, ErrGeneratorUnavailable
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4o,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: ritualSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildRitualUserPrompt(req),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content

	var plan ritualPlan
	if err := json.Unmarshal([]byte(rawContent), &plan); err != nil {
		log.Printf("[OpenAI] Ritual plan parse failed: %v", err)
		log.Printf("[OpenAI] Raw response: %s", truncateString(rawContent, 2000))
		return nil, fmt.Errorf("failed to parse ritual plan: %w", err)
	}

	if len(plan.Sections) == 0 {
		log.Printf("[OpenAI] Ritual plan has no sections (title=%q)", plan.Title)
		return nil, fmt.Errorf("ritual plan has no sections")
	}

	return buildRitual(req, &plan), nil
}

func buildRitualUserPrompt(req models.RitualCreateRequest) string {
	var b strings.Builder

	silence := "Yes"
	if req.IncludeSilence != nil && !*req.IncludeSilence {
		silence = "Minimal"
	}

	fmt.Fprintf(&b, "Create a %d-minute meditation ritual.\n\n", req.DurationMinutes)
	fmt.Fprintf(&b, "Intention: %s\n", req.Intention)
	fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	fmt.Fprintf(&b, "Include silence pauses: %s\n", silence)

	if len(req.FocusAreas) > 0 {
		fmt.Fprintf(&b, "Focus areas: %s\n", strings.Join(req.FocusAreas, ", "))
	}

	fmt.Fprintf(&b, "\nTotal duration should be approximately %d seconds.\n", req.DurationMinutes*60)
	b.WriteString("Distribute the time naturally across intro, body, and closing sections.\n\n")
	b.WriteString("Remember: Output ONLY valid JSON, no other text.")

	return b.String()
}

// buildRitual converts a parsed plan into the persisted document shape,
// assigning fresh ids and normalizing anything the model got loose.
func buildRitual(req models.RitualCreateRequest, plan *ritualPlan) *models.Ritual {
	now := models.NowUTC()

	sections := make([]models.Section, 0, len(plan.Sections))
	for _, phase := range plan.Sections {
		sectionType := models.SectionType(phase.Type)
		switch sectionType {
		case models.SectionTypeIntro, models.SectionTypeBody, models.SectionTypeClosing:
		default:
			sectionType = models.SectionTypeBody
		}

		sectionDuration := phase.DurationSeconds
		if sectionDuration <= 0 {
			sectionDuration = 60
		}

		segments := make([]models.Segment, 0, len(phase.Segments))
		for _, entry := range phase.Segments {
			segmentType := models.SegmentType(entry.Type)
			if segmentType != models.SegmentTypeSilence {
				segmentType = models.SegmentTypeText
			}

			duration := entry.DurationSeconds
			if duration <= 0 {
				duration = 10
			}

			segments = append(segments, models.Segment{
				ID:              models.NewID(),
				Type:            segmentType,
				Text:            entry.Text,
				DurationSeconds: duration,
			})
		}

		sections = append(sections, models.Section{
			ID:              models.NewID(),
			Type:            sectionType,
			DurationSeconds: sectionDuration,
			Segments:        segments,
		})
	}

	title := plan.Title
	if title == "" {
		title = "Meditation Ritual"
	}

	tags := plan.Tags
	if tags == nil {
		tags = []string{}
	}

	includeSilence := true
	if req.IncludeSilence != nil {
		includeSilence = *req.IncludeSilence
	}

	intention := req.Intention

	return &models.Ritual{
		ID:              models.NewID(),
		Title:           title,
		Instructions:    intention,
		DurationSeconds: req.DurationMinutes * 60,
		Tone:            req.Tone,
		Pace:            models.PaceMedium,
		IncludeSilence:  includeSilence,
		Soundscape:      "none",
		Sections:        sections,
		Tags:            tags,
		IsTemplate:      false,
		GeneratedFrom:   &intention,
		AudioStatus:     models.AudioStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
