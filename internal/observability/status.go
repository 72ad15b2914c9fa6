package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const statusVersion = "0.1.0"

// Probe reports live client state to the status router.
type Probe interface {
	Ready() bool
	Ledger() any
}

func NewStatusRouter(probe Probe) *gin.Engine {
	return newStatusRouter(probe, ComponentLogger("status", ""))
}

func newStatusRouter(probe Probe, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	RegisterMetrics()

	started := time.Now()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(statusAccess(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(started).String(),
			"component": "edgestream",
			"version":   statusVersion,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ready", func(c *gin.Context) {
		ready := probe != nil && probe.Ready()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":  ready,
			"uptime": time.Since(started).String(),
		})
	})

	router.GET("/ledger", func(c *gin.Context) {
		if probe == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active session"})
			return
		}
		ledger := probe.Ledger()
		if ledger == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active session"})
			return
		}
		c.JSON(http.StatusOK, ledger)
	})

	return router
}

// ServeStatus runs the status router on addr until ctx is cancelled.
func ServeStatus(ctx context.Context, addr string, probe Probe) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           NewStatusRouter(probe),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("component", "status").Str("addr", ln.Addr().String()).Msg("status listener started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
