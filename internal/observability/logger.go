package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger returns the global logger tagged with a component and,
// when set, the session id.
func ComponentLogger(component, sessionID string) zerolog.Logger {
	ctx := log.Logger.With().Str("component", component)
	if sessionID != "" {
		ctx = ctx.Str("session", sessionID)
	}
	return ctx.Logger()
}
