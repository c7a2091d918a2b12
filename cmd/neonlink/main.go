package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/neonlink/cmd/neonlink/commands"
	"github.com/openfroyo/neonlink/pkg/engine"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(logLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()

	if err != nil {
		log.Error().Err(err).Msg("neonlink failed")
		os.Exit(exitCode(err))
	}
}

// logLevel reads NEONLINK_LOG_LEVEL, then LOG_LEVEL. Unknown values fall
// back to info.
func logLevel() zerolog.Level {
	value := os.Getenv("NEONLINK_LOG_LEVEL")
	if value == "" {
		value = os.Getenv("LOG_LEVEL")
	}
	level, err := zerolog.ParseLevel(value)
	if err != nil || value == "" {
		return zerolog.InfoLevel
	}
	return level
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	switch engine.CodeOf(err) {
	case engine.ErrCodeConfiguration:
		return 2
	case engine.ErrCodePolicyDenied:
		return 3
	case engine.ErrCodeCommandPrecondition:
		return 4
	case engine.ErrCodeHandshakeTimeout:
		return 5
	default:
		return 1
	}
}
