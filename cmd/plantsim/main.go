package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/virtuaplant/virtuaplant/cmd/plantsim/commands"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("plantsim failed")
		stop()
		os.Exit(1)
	}
}

// setupLogging configures the global logger used until a command builds
// its own from the simulation config. LOG_LEVEL only applies to this
// logger; the per-command loggers take their level from the config.
func setupLogging() {
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = telemetry.ParseLevel(v)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
