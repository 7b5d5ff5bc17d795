package observability

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var initLoggerOnce sync.Once

// InitLogger tags the global logger with the app name once per process and
// returns it.
func InitLogger(app string) zerolog.Logger {
	initLoggerOnce.Do(func() {
		log.Logger = log.Logger.With().Str("app", app).Logger()
	})
	return log.Logger
}

// Component returns a child of the global logger for one package.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
