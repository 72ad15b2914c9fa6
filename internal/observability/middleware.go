package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Status route classes used to tag access logs.
const (
	routeScrape = "scrape"
	routeLedger = "ledger"
	routeOther  = "other"
)

func statusRouteClass(path string) string {
	switch path {
	case "/health", "/ready", "/metrics":
		return routeScrape
	case "/ledger":
		return routeLedger
	default:
		return routeOther
	}
}

// statusAccess logs and counts every status request. Scrapes log at debug so
// a polling collector does not flood the client log; ledger reads record
// whether a session was live to answer them.
func statusAccess(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		RecordHTTPRequest(c.Request.Method, path, status, elapsed)

		class := statusRouteClass(path)
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
			event = logger.Error()
		case status >= http.StatusBadRequest && class != routeScrape && class != routeLedger:
			event = logger.Warn()
		case class == routeScrape:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		event = event.
			Str("route", class).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed)
		if class == routeLedger {
			event = event.Bool("session_active", status == http.StatusOK)
		}
		event.Msg("status request")
	}
}
