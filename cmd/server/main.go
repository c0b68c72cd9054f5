package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Scribe/internal/adapters/http"
	"github.com/dkeye/Scribe/internal/adapters/stream"
	"github.com/dkeye/Scribe/internal/app"
	"github.com/dkeye/Scribe/internal/config"
	"github.com/dkeye/Scribe/internal/core"
	"github.com/dkeye/Scribe/internal/handlers/llm"
	"github.com/dkeye/Scribe/internal/metrics"
	"github.com/dkeye/Scribe/internal/providers/stub"
	"github.com/dkeye/Scribe/internal/providers/whisper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	bus := app.NewBus()

	reg := app.NewRegistry(app.RegistryConfig{
		MaxPerUser:   cfg.MaxConnectionsPerUser,
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
	}, bus, m)

	var provider core.Transcriber
	switch cfg.Provider {
	case "whisper":
		provider = whisper.New(cfg.OpenAIAPIKey, "")
	default:
		provider = stub.New()
	}

	orch := app.NewOrchestrator(reg, provider, bus, m)

	var handler core.BatchHandler
	if cfg.LLMHandler {
		h, err := llm.NewHandler(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build llm batch handler")
		}
		handler = h
	}

	batcher := app.NewBatcher(app.BatcherConfig{
		Timeout:           cfg.BatchTimeout,
		MaxSize:           cfg.MaxBatchSize,
		IncludeAudio:      cfg.IncludeAudio,
		IncludeTranscript: cfg.IncludeTranscript,
	}, handler, bus, m)

	// Provider setup failure means no session can ever be serviced.
	if err := provider.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("transcription provider initialization failed")
	}

	reg.StartHeartbeat(ctx)

	// Mirror audio and transcription events into batches; flush a session's
	// partial batch on disconnect so nothing is lost.
	events, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				switch ev.Type {
				case core.EventAudio:
					batcher.AddAudio(ev.SessionID, ev.Chunk)
				case core.EventTranscription:
					batcher.AddResult(ev.SessionID, ev.Result)
				case core.EventDisconnected:
					go batcher.FlushSession(ev.SessionID)
				}
			}
		}
	}()

	ctl := stream.NewController(reg, orch, cfg.ReadLimit, cfg.WriteTimeout)
	r := router.SetupRouter(ctx, cfg, ctl, reg, orch)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("provider", provider.Name()).Msg("Scribe server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	batcher.FlushAll()
	if err := provider.Cleanup(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("provider cleanup failed")
	}
	log.Info().Msg("Server exited gracefully")
}
