package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/koruapp/koru/internal/models"
)

// ---------------------------------------------------------------------------
// ElevenLabs Text-to-Speech provider
// Uses the ElevenLabs REST API to convert text into speech audio.
// Model: eleven_multilingual_v2, output mp3 at 44.1 kHz / 128 kbps.
// ---------------------------------------------------------------------------

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsModel        = "eleven_multilingual_v2"
	elevenLabsOutputFormat = "mp3_44100_128"

	// Duration is approximated from the byte length of the fixed-bitrate
	// stream: bytes / (sampleRate * bitrate / 8).
	elevenLabsSampleRate = 44100
	elevenLabsBitrate    = 128
)

// elevenLabsVoices maps logical voice names to ElevenLabs voice ids.
// Curated for meditation narration: calm, soft deliveries only.
var elevenLabsVoices = []models.Voice{
	{ID: "sarah", Name: "Sarah", Description: "Soft and calm American female", Labels: []string{"calm", "female", "american"}, Provider: "elevenlabs"},
	{ID: "daniel", Name: "Daniel", Description: "Warm British male", Labels: []string{"warm", "male", "british"}, Provider: "elevenlabs"},
	{ID: "charlotte", Name: "Charlotte", Description: "Gentle and soothing female", Labels: []string{"gentle", "female", "soothing"}, Provider: "elevenlabs"},
	{ID: "lily", Name: "Lily", Description: "Peaceful British female", Labels: []string{"peaceful", "female", "british"}, Provider: "elevenlabs"},
	{ID: "liam", Name: "Liam", Description: "Calm American male", Labels: []string{"calm", "male", "american"}, Provider: "elevenlabs"},
}

var elevenLabsVoiceIDs = map[string]string{
	"sarah":     "EXAVITQu4vr4xnSDxMaL",
	"daniel":    "onwK4e9ZLuTAKqWW03F9",
	"charlotte": "XB0fDUnXU5powFXDhCwa",
	"lily":      "pFZP5JQG7iQjIQuC4Bku",
	"liam":      "TX3LPaxmHKxFdv7VOQHJ",
}

// ElevenLabsProvider handles text-to-speech via the ElevenLabs API.
type ElevenLabsProvider struct {
	apiKey string
	client *http.Client
}

// Ensure ElevenLabsProvider implements TTSProvider at compile time.
var _ TTSProvider = (*ElevenLabsProvider)(nil)

func NewElevenLabsProvider(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

// Available reports whether an API key is configured.
func (p *ElevenLabsProvider) Available() bool { return p.apiKey != "" }

// Voices returns the static curated voice catalog.
func (p *ElevenLabsProvider) Voices() []models.Voice { return elevenLabsVoices }

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64  `json:"stability"`
	SimilarityBoost float64  `json:"similarity_boost"`
	Speed           *float64 `json:"speed,omitempty"`
}

// Synthesize converts text to speech. voiceID is a logical voice name from
// the catalog; unknown ids are passed through as ElevenLabs-native ids.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text, voiceID string, speed float64) (*SynthesisResult, error) {
	if !p.Available() {
		return nil, fmt.Errorf("elevenlabs: %w", ErrProviderUnavailable)
	}

	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: elevenLabsModel,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.60, // Moderate stability — some emotional range
			SimilarityBoost: 0.80, // High voice consistency
		},
	}
	if speed > 0 && speed != 1.0 {
		reqBody.VoiceSettings.Speed = &speed
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	voice := p.resolveVoiceID(voiceID)
	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", elevenLabsBaseURL, voice, elevenLabsOutputFormat)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	log.Printf("[ElevenLabs] Synthesizing (voice=%s, model=%s, textLen=%d)", voice, elevenLabsModel, len(text))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &SynthesisError{Provider: p.Name(), Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	// The response body IS the audio file
	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Err: fmt.Errorf("failed to read audio response: %w", err)}
	}

	if len(audioData) == 0 {
		return nil, &SynthesisError{Provider: p.Name(), Err: fmt.Errorf("empty audio response")}
	}

	// Approximate duration from the fixed-bitrate stream length; ElevenLabs
	// does not report duration on this endpoint.
	duration := float64(len(audioData)) / (elevenLabsSampleRate * elevenLabsBitrate / 8)

	log.Printf("[ElevenLabs] Synthesized %d bytes (~%.2fs)", len(audioData), duration)

	return &SynthesisResult{
		AudioData:       audioData,
		DurationSeconds: duration,
		ContentType:     "audio/mpeg",
	}, nil
}

// resolveVoiceID maps a logical voice name to the ElevenLabs voice id.
// Anything not in the table is assumed to already be a native id.
func (p *ElevenLabsProvider) resolveVoiceID(voiceID string) string {
	if id, ok := elevenLabsVoiceIDs[strings.ToLower(voiceID)]; ok {
		return id
	}
	return voiceID
}
