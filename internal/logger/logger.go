package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance.
var Log zerolog.Logger

// Initialize configures the global logger.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "pankha-server").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Gateway creates a logger for the agent WebSocket gateway.
func Gateway() *zerolog.Logger {
	l := Log.With().Str("component", "gateway").Logger()
	return &l
}

// Aggregator creates a logger for telemetry aggregation events.
func Aggregator() *zerolog.Logger {
	l := Log.With().Str("component", "aggregator").Logger()
	return &l
}

// Broadcast creates a logger for the browser subscriber hub.
func Broadcast() *zerolog.Logger {
	l := Log.With().Str("component", "broadcast").Logger()
	return &l
}

// Dispatch creates a logger for the command dispatcher.
func Dispatch() *zerolog.Logger {
	l := Log.With().Str("component", "dispatch").Logger()
	return &l
}

// Controller creates a logger for the fan curve controller.
func Controller() *zerolog.Logger {
	l := Log.With().Str("component", "controller").Logger()
	return &l
}

// License creates a logger for license admission events.
func License() *zerolog.Logger {
	l := Log.With().Str("component", "license").Logger()
	return &l
}

// Database creates a logger for database events.
func Database() *zerolog.Logger {
	l := Log.With().Str("component", "database").Logger()
	return &l
}

// HTTP creates a logger for HTTP request events.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// Scheduler creates a logger for background maintenance jobs.
func Scheduler() *zerolog.Logger {
	l := Log.With().Str("component", "scheduler").Logger()
	return &l
}
