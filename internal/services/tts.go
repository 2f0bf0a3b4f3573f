package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/koruapp/koru/internal/models"
)

// ---------------------------------------------------------------------------
// TTSProvider — common interface for text-to-speech providers
// ElevenLabs and Google Gemini both implement this interface so the audio
// generator can use whichever the request names without knowing the provider.
// ---------------------------------------------------------------------------

// ErrProviderUnavailable means a provider has no usable credential
// configured. It is a call-level failure, never a per-segment one.
var ErrProviderUnavailable = errors.New("tts provider not available: missing API key")

// ErrUnknownProvider means the request named a provider outside the closed
// set this registry knows about.
var ErrUnknownProvider = errors.New("unknown tts provider")

// SynthesisError wraps a provider-side failure (network, quota, malformed
// response). During ritual audio generation it is recoverable per segment.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s synthesis failed: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// SynthesisResult is the common response type from any TTS provider.
type SynthesisResult struct {
	AudioData       []byte
	DurationSeconds float64
	ContentType     string // "audio/mpeg" or "audio/wav"
}

// TTSProvider is the capability set any speech-synthesis backend must
// implement. Unknown logical voice ids pass through to the backend
// unchanged, which lets advanced users bypass the curated voice list.
type TTSProvider interface {
	Synthesize(ctx context.Context, text, voiceID string, speed float64) (*SynthesisResult, error)
	Voices() []models.Voice
	Available() bool
	Name() string
}

// ExtensionForContentType maps a provider content type to the artifact file
// extension. The mapping is fixed: one compressed encoding (mp3), one
// uncompressed (wav). It must stay stable — the extension is baked into
// audio URLs stored on segments.
func ExtensionForContentType(contentType string) string {
	if contentType == "audio/mpeg" {
		return "mp3"
	}
	return "wav"
}

// ContentTypeForExtension is the inverse mapping, used when serving
// artifacts back to clients.
func ContentTypeForExtension(ext string) string {
	if ext == "mp3" {
		return "audio/mpeg"
	}
	return "audio/wav"
}

// TTSRegistry dispatches over the fixed, enumerable set of providers.
type TTSRegistry struct {
	providers map[string]TTSProvider
	order     []string
}

func NewTTSRegistry(providers ...TTSProvider) *TTSRegistry {
	r := &TTSRegistry{providers: make(map[string]TTSProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
		r.order = append(r.order, p.Name())
	}
	return r
}

// Provider resolves a provider by name, rejecting unknown names with a
// typed error at the boundary.
func (r *TTSRegistry) Provider(name string) (TTSProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// AllVoices aggregates the static voice catalogs of every registered
// provider, in registration order.
func (r *TTSRegistry) AllVoices() []models.Voice {
	var voices []models.Voice
	for _, name := range r.order {
		voices = append(voices, r.providers[name].Voices()...)
	}
	return voices
}
