// Package logging builds the root zerolog logger for the server.
package logging

import (
	"io"

	"github.com/rs/zerolog"
	"go.elastic.co/ecszerolog"
)

const service = "preop-server"

// New returns a logger writing to w. format is "json", "console" or "ecs";
// a development environment always gets the console writer unless ECS was
// asked for explicitly.
func New(env, format string, w io.Writer) zerolog.Logger {
	switch {
	case format == "ecs":
		return ecszerolog.New(w).With().Str("service.name", service).Logger()
	case format == "console" || env == "development":
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger()
	default:
		return zerolog.New(w).With().Timestamp().Str("service", service).Logger()
	}
}
