package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/koruapp/koru/internal/api"
	"github.com/koruapp/koru/internal/audio"
	"github.com/koruapp/koru/internal/config"
	"github.com/koruapp/koru/internal/services"
	"github.com/koruapp/koru/internal/storage"
)

func main() {
	log.Println("Starting Koru API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize file storage
	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Printf("Storage initialized at %s", cfg.StoragePath)

	// TTS providers — each reports itself unavailable when its key is missing
	elevenlabs := services.NewElevenLabsProvider(cfg.ElevenLabsKey)
	google := services.NewGoogleTTSProvider(cfg.GeminiKey)
	registry := services.NewTTSRegistry(elevenlabs, google)

	if elevenlabs.Available() {
		log.Println("TTS provider available: ElevenLabs")
	}
	if google.Available() {
		log.Println("TTS provider available: Google Gemini")
	}
	if !elevenlabs.Available() && !google.Available() {
		log.Println("WARNING: No TTS provider configured — audio generation will be unavailable")
	}

	// Ritual script generation
	openaiSvc := services.NewOpenAIService(cfg.OpenAIKey)
	if !openaiSvc.Available() {
		log.Println("WARNING: OPENAI_API_KEY not set — ritual generation will be unavailable")
	}

	generator := audio.NewGenerator(store, registry)
	reporter := audio.NewStatusReporter(store)

	// Create API handler
	handler := api.NewHandler(store, generator, reporter, openaiSvc, registry, cfg.DefaultVoiceID, cfg.DefaultProvider)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// HTTP server
	g.Go(func() error {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown once the group context ends
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Janitor: prune ad-hoc synthesis artifacts past their TTL
	g.Go(func() error {
		ttl := time.Duration(cfg.TempAudioTTLHours) * time.Hour
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := store.PruneTempAudio(ttl)
				if err != nil {
					log.Printf("[Janitor] Prune failed: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("[Janitor] Pruned %d temp audio file(s)", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited")
}
