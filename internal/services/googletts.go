package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"

	"github.com/koruapp/koru/internal/models"
)

// ---------------------------------------------------------------------------
// Google Gemini Text-to-Speech provider
// Uses the Google Gen AI SDK with the AUDIO response modality. The model
// returns raw 16-bit mono PCM at 24 kHz, which is wrapped into a WAV
// container before storage.
// ---------------------------------------------------------------------------

const (
	googleTTSModel = "gemini-2.5-pro-preview-tts"

	googleTTSSampleRate     = 24000
	googleTTSBytesPerSample = 2 // 16-bit
)

var googleVoices = []models.Voice{
	{ID: "aoede", Name: "Aoede", Description: "Warm, gentle female voice", Labels: []string{"warm", "gentle", "female"}, Provider: "google"},
	{ID: "charon", Name: "Charon", Description: "Deep, grounding male voice", Labels: []string{"deep", "grounding", "male"}, Provider: "google"},
}

var googleVoiceIDs = map[string]string{
	"aoede":  "Aoede",
	"charon": "Charon",
}

// GoogleTTSProvider handles text-to-speech via Gemini.
type GoogleTTSProvider struct {
	apiKey string
}

// Ensure GoogleTTSProvider implements TTSProvider at compile time.
var _ TTSProvider = (*GoogleTTSProvider)(nil)

func NewGoogleTTSProvider(apiKey string) *GoogleTTSProvider {
	return &GoogleTTSProvider{apiKey: apiKey}
}

func (p *GoogleTTSProvider) Name() string { return "google" }

// Available reports whether a Gemini API key is configured.
func (p *GoogleTTSProvider) Available() bool { return p.apiKey != "" }

// Voices returns the static curated voice catalog.
func (p *GoogleTTSProvider) Voices() []models.Voice { return googleVoices }

// Synthesize converts text to speech. The speed parameter is not supported
// by the Gemini TTS API; pacing is steered through the prompt instead.
func (p *GoogleTTSProvider) Synthesize(ctx context.Context, text, voiceID string, speed float64) (*SynthesisResult, error) {
	if !p.Available() {
		return nil, fmt.Errorf("google: %w", ErrProviderUnavailable)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Err: fmt.Errorf("failed to create genai client: %w", err)}
	}

	voice := p.resolveVoiceID(voiceID)

	// Delivery directions go in the prompt; the model has no explicit
	// pacing parameters.
	prompt := fmt.Sprintf("[meditative, slow, hushed, gentle, low pitch]\n\n%q", text)

	config := &genai.GenerateContentConfig{
		Temperature:        genai.Ptr[float32](1),
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	log.Printf("[GoogleTTS] Synthesizing (voice=%s, model=%s, textLen=%d)", voice, googleTTSModel, len(text))

	resp, err := client.Models.GenerateContent(ctx, googleTTSModel, genai.Text(prompt), config)
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &SynthesisError{Provider: p.Name(), Err: fmt.Errorf("no candidates in response")}
	}

	var pcm []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil {
			pcm = append(pcm, part.InlineData.Data...)
		}
	}

	if len(pcm) == 0 {
		return nil, &SynthesisError{Provider: p.Name(), Err: fmt.Errorf("no audio data in response")}
	}

	// Exact duration: raw PCM has a known sample rate and width.
	duration := float64(len(pcm)) / (googleTTSSampleRate * googleTTSBytesPerSample)

	log.Printf("[GoogleTTS] Synthesized %d PCM bytes (%.2fs)", len(pcm), duration)

	return &SynthesisResult{
		AudioData:       pcmToWAV(pcm, googleTTSSampleRate),
		DurationSeconds: duration,
		ContentType:     "audio/wav",
	}, nil
}

// resolveVoiceID maps a logical voice name to the Gemini prebuilt voice
// name. Anything not in the table is assumed to already be a native name.
func (p *GoogleTTSProvider) resolveVoiceID(voiceID string) string {
	if id, ok := googleVoiceIDs[strings.ToLower(voiceID)]; ok {
		return id
	}
	return voiceID
}

// pcmToWAV wraps raw 16-bit mono PCM in a minimal RIFF/WAVE container.
func pcmToWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))          // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))           // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))    // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))  // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))    // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
