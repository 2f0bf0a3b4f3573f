package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/koruapp/koru/internal/audio"
	"github.com/koruapp/koru/internal/models"
	"github.com/koruapp/koru/internal/services"
	"github.com/koruapp/koru/internal/storage"
)

type Handler struct {
	store     *storage.Store
	generator *audio.Generator
	status    *audio.StatusReporter
	openai    *services.OpenAIService
	tts       *services.TTSRegistry

	defaultVoiceID  string
	defaultProvider string
}

func NewHandler(
	store *storage.Store,
	generator *audio.Generator,
	status *audio.StatusReporter,
	openaiSvc *services.OpenAIService,
	tts *services.TTSRegistry,
	defaultVoiceID, defaultProvider string,
) *Handler {
	return &Handler{
		store:           store,
		generator:       generator,
		status:          status,
		openai:          openaiSvc,
		tts:             tts,
		defaultVoiceID:  defaultVoiceID,
		defaultProvider: defaultProvider,
	}
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------------------------------------------------------------------------
// Ritual CRUD
// ---------------------------------------------------------------------------

// ListRituals handles GET /api/rituals
func (h *Handler) ListRituals(w http.ResponseWriter, r *http.Request) {
	rituals, err := h.store.ListRituals()
	if err != nil {
		log.Printf("[API] Failed to list rituals: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list rituals")
		return
	}
	respondJSON(w, http.StatusOK, rituals)
}

// GetRitual handles GET /api/rituals/{id}
func (h *Handler) GetRitual(w http.ResponseWriter, r *http.Request) {
	ritual, err := h.store.LoadRitual(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Ritual not found")
			return
		}
		log.Printf("[API] Failed to load ritual: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to load ritual")
		return
	}
	respondJSON(w, http.StatusOK, ritual)
}

// CreateRitual handles POST /api/rituals
func (h *Handler) CreateRitual(w http.ResponseWriter, r *http.Request) {
	var ritual models.Ritual
	if err := json.NewDecoder(r.Body).Decode(&ritual); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if ritual.Title == "" {
		respondError(w, http.StatusBadRequest, "Title is required")
		return
	}

	applyRitualDefaults(&ritual)

	if err := h.store.SaveRitual(&ritual); err != nil {
		log.Printf("[API] Failed to save ritual: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to save ritual")
		return
	}

	log.Printf("[API] Ritual created: id=%s, title=%q", ritual.ID, ritual.Title)
	respondJSON(w, http.StatusOK, models.RitualResponse{Ritual: ritual})
}

// UpdateRitual handles PUT /api/rituals/{id}
func (h *Handler) UpdateRitual(w http.ResponseWriter, r *http.Request) {
	ritualID := chi.URLParam(r, "id")

	if _, err := h.store.LoadRitual(ritualID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Ritual not found")
			return
		}
		log.Printf("[API] Failed to load ritual for update: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to load ritual")
		return
	}

	var ritual models.Ritual
	if err := json.NewDecoder(r.Body).Decode(&ritual); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// The path id wins over whatever the body carries.
	ritual.ID = ritualID
	applyRitualDefaults(&ritual)
	ritual.Touch()

	if err := h.store.SaveRitual(&ritual); err != nil {
		log.Printf("[API] Failed to update ritual: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to update ritual")
		return
	}

	respondJSON(w, http.StatusOK, models.RitualResponse{Ritual: ritual})
}

// DeleteRitual handles DELETE /api/rituals/{id}.
// Removes the document and every audio artifact under its id.
func (h *Handler) DeleteRitual(w http.ResponseWriter, r *http.Request) {
	ritualID := chi.URLParam(r, "id")

	if _, err := h.store.LoadRitual(ritualID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Ritual not found")
			return
		}
		log.Printf("[API] Failed to load ritual for deletion: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to load ritual")
		return
	}

	if err := h.store.DeleteRitual(ritualID); err != nil {
		log.Printf("[API] Failed to delete ritual: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to delete ritual")
		return
	}

	log.Printf("[API] Ritual deleted: %s", ritualID)
	respondJSON(w, http.StatusOK, models.DeleteRitualResponse{Message: "Ritual deleted", ID: ritualID})
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

// GenerateRitual handles POST /api/generate/ritual.
// Creates the ritual structure with pre-assigned audio paths. Audio files
// are NOT generated here — that happens later via generate-ritual-audio.
func (h *Handler) GenerateRitual(w http.ResponseWriter, r *http.Request) {
	var req models.RitualCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Intention == "" {
		respondError(w, http.StatusBadRequest, "Intention is required")
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 10
	}
	if req.Tone == "" {
		req.Tone = models.ToneGentle
	}
	if req.VoiceID == "" {
		req.VoiceID = h.defaultVoiceID
	}
	if req.Provider == "" {
		req.Provider = h.defaultProvider
	}

	if _, err := h.tts.Provider(req.Provider); err != nil {
		respondError(w, http.StatusBadRequest, "Unknown TTS provider: "+req.Provider)
		return
	}

	if !h.openai.Available() {
		respondError(w, http.StatusServiceUnavailable, "OpenAI API not configured. Set OPENAI_API_KEY environment variable.")
		return
	}

	log.Printf("[API] Generating ritual: intention=%q, duration=%dmin, tone=%s, voice=%s, provider=%s",
		req.Intention, req.DurationMinutes, req.Tone, req.VoiceID, req.Provider)

	ritual, err := h.openai.GenerateRitual(r.Context(), req)
	if err != nil {
		log.Printf("[API] Ritual generation failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to generate ritual")
		return
	}

	// Pre-assign audio URL paths for all text segments. The files don't
	// exist yet; the extension is fixed by the selected provider.
	ext := "mp3"
	if req.Provider == "google" {
		ext = "wav"
	}

	assigned := 0
	for si := range ritual.Sections {
		for gi := range ritual.Sections[si].Segments {
			seg := &ritual.Sections[si].Segments[gi]
			if seg.Eligible() {
				url := "/api/audio/" + ritual.ID + "/" + seg.ID + "." + ext
				seg.AudioURL = &url
				assigned++
			}
		}
	}

	voiceID := req.VoiceID
	ritual.VoiceID = &voiceID
	ritual.AudioStatus = models.AudioStatusPending

	if err := h.store.SaveRitual(ritual); err != nil {
		log.Printf("[API] Failed to save generated ritual: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to save ritual")
		return
	}

	log.Printf("[API] Ritual generated: id=%s, title=%q, sections=%d, audioURLs=%d",
		ritual.ID, ritual.Title, len(ritual.Sections), assigned)

	respondJSON(w, http.StatusOK, models.RitualResponse{Ritual: *ritual})
}

// ---------------------------------------------------------------------------
// TTS
// ---------------------------------------------------------------------------

// Synthesize handles POST /api/tts/synthesize — ad-hoc synthesis of one
// piece of text, persisted under (ritualId, segmentId) when given or under
// a temp id otherwise.
func (h *Handler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req models.SynthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "Text is required")
		return
	}
	if req.VoiceID == "" {
		req.VoiceID = h.defaultVoiceID
	}
	if req.Provider == "" {
		req.Provider = h.defaultProvider
	}
	if req.Speed <= 0 {
		req.Speed = 1.0
	}

	provider, err := h.tts.Provider(req.Provider)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unknown TTS provider: "+req.Provider)
		return
	}
	if !provider.Available() {
		respondError(w, http.StatusServiceUnavailable, "TTS provider not configured: "+req.Provider)
		return
	}

	result, err := provider.Synthesize(r.Context(), req.Text, req.VoiceID, req.Speed)
	if err != nil {
		log.Printf("[API] Synthesis failed: %v", err)
		respondError(w, http.StatusInternalServerError, "TTS synthesis failed")
		return
	}

	ritualID, segmentID := req.RitualID, req.SegmentID
	if ritualID == "" || segmentID == "" {
		ritualID = storage.TempRitualID
		segmentID = models.NewID()
	}

	ext := services.ExtensionForContentType(result.ContentType)
	audioURL, err := h.store.SaveAudio(ritualID, segmentID, result.AudioData, ext)
	if err != nil {
		log.Printf("[API] Failed to save synthesized audio: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to save audio")
		return
	}

	respondJSON(w, http.StatusOK, models.SynthesizeResponse{
		AudioURL:        audioURL,
		DurationSeconds: result.DurationSeconds,
	})
}

// ListVoices handles GET /api/tts/voices
func (h *Handler) ListVoices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.tts.AllVoices())
}

// ListProviderVoices handles GET /api/tts/voices/{provider}
func (h *Handler) ListProviderVoices(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, err := h.tts.Provider(name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unknown TTS provider: "+name)
		return
	}
	respondJSON(w, http.StatusOK, provider.Voices())
}

// GenerateRitualAudio handles POST /api/tts/generate-ritual-audio — the
// audio generation trigger for a whole ritual.
func (h *Handler) GenerateRitualAudio(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRitualAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.RitualID == "" {
		respondError(w, http.StatusBadRequest, "ritualId is required")
		return
	}
	if req.VoiceID == "" {
		req.VoiceID = h.defaultVoiceID
	}
	if req.Provider == "" {
		req.Provider = h.defaultProvider
	}

	result, err := h.generator.GenerateRitualAudio(r.Context(), req.RitualID, req.VoiceID, req.Provider)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidID):
			respondError(w, http.StatusBadRequest, "Invalid ritual id")
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "Ritual not found")
		case errors.Is(err, services.ErrUnknownProvider):
			respondError(w, http.StatusBadRequest, "Unknown TTS provider: "+req.Provider)
		case errors.Is(err, services.ErrProviderUnavailable):
			respondError(w, http.StatusServiceUnavailable, "TTS provider not configured: "+req.Provider)
		case errors.Is(err, audio.ErrGenerationInProgress):
			respondError(w, http.StatusConflict, "Audio generation already in progress for this ritual")
		default:
			log.Printf("[API] Ritual audio generation failed: %v", err)
			respondError(w, http.StatusInternalServerError, "Failed to generate ritual audio")
		}
		return
	}

	respondJSON(w, http.StatusOK, models.GenerateRitualAudioResponse{
		RitualID:          result.RitualID,
		SegmentsGenerated: result.Generated,
		TotalSegments:     result.Total,
		SegmentsSkipped:   result.Skipped,
		Status:            result.Status,
	})
}

// GetAudioStatus handles GET /api/tts/audio-status/{ritualId} — the
// polling endpoint for precise audio completeness.
func (h *Handler) GetAudioStatus(w http.ResponseWriter, r *http.Request) {
	ritualID := chi.URLParam(r, "ritualId")

	report, err := h.status.AudioStatus(r.Context(), ritualID)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidID) {
			respondError(w, http.StatusBadRequest, "Invalid ritual id")
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Ritual not found")
			return
		}
		log.Printf("[API] Audio status failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute audio status")
		return
	}

	respondJSON(w, http.StatusOK, models.AudioStatusResponse{
		RitualID:  report.RitualID,
		Total:     report.Total,
		Generated: report.Generated,
		Missing:   report.Missing,
		Status:    report.Status,
	})
}

// ServeAudio handles GET /api/audio/{ritualId}/{filename} — raw artifact
// bytes with the content type implied by the extension.
func (h *Handler) ServeAudio(w http.ResponseWriter, r *http.Request) {
	ritualID := chi.URLParam(r, "ritualId")
	filename := chi.URLParam(r, "filename")

	path, err := h.store.AudioFilePath(ritualID, filename)
	if err != nil {
		respondError(w, http.StatusNotFound, "Audio not found")
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	w.Header().Set("Content-Type", services.ContentTypeForExtension(ext))
	http.ServeFile(w, r, path)
}

// applyRitualDefaults fills fields a raw client-supplied document may omit.
func applyRitualDefaults(ritual *models.Ritual) {
	if ritual.ID == "" {
		ritual.ID = models.NewID()
	}
	if ritual.Tone == "" {
		ritual.Tone = models.ToneGentle
	}
	if ritual.Pace == "" {
		ritual.Pace = models.PaceMedium
	}
	if ritual.Soundscape == "" {
		ritual.Soundscape = "none"
	}
	if ritual.AudioStatus == "" {
		ritual.AudioStatus = models.AudioStatusPending
	}
	if ritual.Sections == nil {
		ritual.Sections = []models.Section{}
	}
	if ritual.Tags == nil {
		ritual.Tags = []string{}
	}
	if ritual.CreatedAt == "" {
		ritual.CreatedAt = models.NowUTC()
	}
	if ritual.UpdatedAt == "" {
		ritual.UpdatedAt = ritual.CreatedAt
	}
}

// Helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
