package consumer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/streamctl/internal/observability"
	"github.com/danmuck/streamctl/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	statusShutdownTimeout = 5 * time.Second
	unmatchedRoute        = "unmatched"
)

// StatusSource reports the current consumer state.
type StatusSource interface {
	Status() Status
}

// NewStatusRouter builds the local status API. Stdout carries the record
// stream, so gin's debug route dump is switched off unless a test mode is
// already set.
func NewStatusRouter(src StatusSource, version string, logger zerolog.Logger) *gin.Engine {
	observability.RegisterMetrics()
	started := time.Now()

	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(statusAccessLog(src, logger))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(started).String(),
			"component": "streamctl",
			"version":   version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		st := src.Status()
		ready := st.SessionState == stream.StateOpen.String()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   ready,
			"attempt": st.Attempt,
			"session": st.SessionID,
		})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Status())
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// statusAccessLog records each status request as a metric and a log event
// tagged with the session the consumer is on.
func statusAccessLog(src StatusSource, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		st := src.Status()
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("session_id", st.SessionID).
			Int("attempt", st.Attempt).
			Msg("consumer.status request")
	}
}

// serveStatus runs handler on addr until ctx ends.
func serveStatus(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("consumer.Service.serveStatus listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}
