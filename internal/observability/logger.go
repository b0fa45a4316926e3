package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the configured global logger with app and installs the
// result as the global logger. Level and console settings are kept.
func InitLogger(app string) zerolog.Logger {
	log.Logger = tagLogger(log.Logger, app)
	return log.Logger
}

func tagLogger(base zerolog.Logger, app string) zerolog.Logger {
	return base.With().Str("app", app).Logger()
}
