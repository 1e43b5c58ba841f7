package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/parax/internal/agent"
	"github.com/gosuda/parax/internal/config"
	"github.com/gosuda/parax/internal/server"
	"github.com/gosuda/parax/internal/session"
)

// defaultSessions are the agents started at boot, mirroring the classic
// overseer pairing: a test verifier and a documentation writer fanning out
// on every change batch.
var defaultSessions = []struct { //nolint:gochecknoglobals // startup table
	slot    string
	mission agent.Mission
}{
	{slot: "verifier", mission: agent.MissionTesting},
	{slot: "docs", mission: agent.MissionDocs},
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("PARAX_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("PARAX_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT / SIGTERM. Every session pipeline is
	// bound to this context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Agent registry with all backend types.
	registry := agent.NewRegistry()
	registry.Register("subprocess", agent.NewSubprocessBackend)
	registry.Register("mock", agent.NewMockBackend)
	registry.Register("remote", agent.NewRemoteBackend)

	sessions := session.NewRegistry()
	workers := server.NewPipelineFactory(ctx, cfg, registry)

	// Boot the default agent pair. A failed default session is logged and
	// skipped; the server still comes up so sessions can be started over
	// the API.
	for _, def := range defaultSessions {
		worker, buildErr := workers(def.slot, def.mission, cfg.Agents.Backend)
		if buildErr != nil {
			log.Error().Err(buildErr).Str("slot", def.slot).Msg("building default session worker")
			continue
		}
		s, createErr := sessions.Create(def.slot, worker, cfg.Server.LogBufferSize)
		if createErr != nil {
			log.Error().Err(createErr).Str("slot", def.slot).Msg("creating default session")
			continue
		}
		if startErr := s.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Str("slot", def.slot).Msg("starting default session")
			continue
		}
		log.Info().Str("slot", def.slot).Str("mission", string(def.mission)).Str("session_id", s.ID.String()).Msg("default session running")
	}

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, sessions, workers)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	for _, summary := range sessions.List() {
		if summary.State.Terminal() {
			continue
		}
		if stopErr := sessions.Stop(shutdownCtx, summary.ID); stopErr != nil {
			log.Warn().Err(stopErr).Str("session_id", summary.ID.String()).Msg("stopping session")
		}
	}

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
