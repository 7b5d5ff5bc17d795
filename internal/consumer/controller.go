package consumer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/observability"
	"github.com/danmuck/streamctl/internal/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrControllerConfig = errors.New("consumer: invalid controller config")

// ControllerConfig defines the reconnect loop.
type ControllerConfig struct {
	Stream     stream.Config
	HTTPClient *http.Client
	UserAgent  string
	Token      auth.AccessToken
	Sink       stream.Sink
	Logger     *zerolog.Logger
}

// TerminationStatus is the JSON view of a stream.Termination.
type TerminationStatus struct {
	Reason     string    `json:"reason"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	Running         bool               `json:"running"`
	Attempt         int                `json:"attempt"`
	SessionsOpened  int64              `json:"sessions_opened"`
	SessionID       string             `json:"session_id,omitempty"`
	SessionState    string             `json:"session_state,omitempty"`
	LastTermination *TerminationStatus `json:"last_termination,omitempty"`
	Records         int64              `json:"records"`
	Heartbeats      int64              `json:"heartbeats"`
	NextDelay       time.Duration      `json:"next_delay_ns"`
}

// Controller keeps exactly one stream session alive at a time and replaces
// it with exponential backoff whenever it terminates.
type Controller struct {
	cfg    ControllerConfig
	logger zerolog.Logger

	newSession func() (*stream.Session, error)
	wait       func(ctx context.Context, d time.Duration) error

	mu             sync.Mutex
	running        bool
	attempt        int
	sessionsOpened int64
	current        *stream.Session
	last           *TerminationStatus
	records        int64
	heartbeats     int64
	nextDelay      time.Duration
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	cfg.Stream = cfg.Stream.WithDefaults()
	if cfg.Token.IsZero() {
		return nil, fmt.Errorf("%w: missing access token", ErrControllerConfig)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: missing sink", ErrControllerConfig)
	}
	u, err := url.Parse(cfg.Stream.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: stream url %q", ErrControllerConfig, cfg.Stream.URL)
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	c := &Controller{
		cfg:    cfg,
		logger: logger.With().Str("component", "consumer").Logger(),
		wait:   sleepContext,
	}
	c.newSession = c.buildSession
	return c, nil
}

func (c *Controller) buildSession() (*stream.Session, error) {
	return stream.NewSession(stream.SessionConfig{
		Stream:    c.cfg.Stream,
		Client:    c.cfg.HTTPClient,
		UserAgent: c.cfg.UserAgent,
		Token:     c.cfg.Token,
		Sink:      c.cfg.Sink,
		Logger:    &c.logger,
	})
}

// Run blocks until ctx is cancelled. Session failures never escape; they
// feed the reconnect loop.
func (c *Controller) Run(ctx context.Context) error {
	c.setRunning(true)
	defer c.setRunning(false)

	for {
		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer.Controller.Run shutdown")
			return nil
		}

		session, err := c.newSession()
		if err != nil {
			observability.RecordConstructionFailure()
			c.logger.Error().Err(err).Int("attempt", c.Attempt()).Msg("consumer.Controller.Run session construction failed")
			continue
		}

		c.setCurrent(session)
		session.Start(ctx)
		c.await(ctx, session)
		session.Abort()
		session.Wait()
		term := c.finish(session)

		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer.Controller.Run shutdown")
			return nil
		}

		attempt, delay := c.advance()
		observability.RecordBackoff(attempt, delay)
		c.logger.Warn().
			Str("reason", term.Reason.String()).
			Int("status", term.StatusCode).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("consumer.Controller.Run reconnecting")
		if err := c.wait(ctx, delay); err != nil {
			c.logger.Info().Msg("consumer.Controller.Run shutdown")
			return nil
		}
	}
}

// await blocks until the session terminates or ctx ends, noting when the
// session opens.
func (c *Controller) await(ctx context.Context, session *stream.Session) {
	opened := session.Opened()
	for {
		select {
		case <-opened:
			opened = nil
			c.markOpened(session)
		case <-session.Done():
			c.drainOpened(opened, session)
			return
		case <-ctx.Done():
			c.drainOpened(opened, session)
			return
		}
	}
}

func (c *Controller) drainOpened(opened <-chan struct{}, session *stream.Session) {
	if opened == nil {
		return
	}
	select {
	case <-opened:
		c.markOpened(session)
	default:
	}
}

func (c *Controller) markOpened(session *stream.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsOpened++
	if c.cfg.Stream.Backoff.ResetOnConnect {
		c.attempt = 0
	}
	c.logger.Info().Str("session_id", session.ID()).Int64("sessions_opened", c.sessionsOpened).Msg("consumer.Controller.Run connected")
}

func (c *Controller) setRunning(v bool) {
	c.mu.Lock()
	c.running = v
	c.mu.Unlock()
}

func (c *Controller) setCurrent(session *stream.Session) {
	c.mu.Lock()
	c.current = session
	attempt := c.attempt
	c.mu.Unlock()
	c.logger.Info().Str("session_id", session.ID()).Int("attempt", attempt).Str("url", c.cfg.Stream.URL).Msg("consumer.Controller.Run connecting")
}

func (c *Controller) finish(session *stream.Session) stream.Termination {
	term := session.Termination()
	ts := &TerminationStatus{
		Reason:     term.Reason.String(),
		StatusCode: term.StatusCode,
		At:         term.At,
	}
	if term.Err != nil {
		ts.Error = term.Err.Error()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records += session.Records()
	c.heartbeats += session.Heartbeats()
	c.last = ts
	if c.current == session {
		c.current = nil
	}
	return term
}

func (c *Controller) advance() (int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt++
	c.nextDelay = stream.NextBackoffDelay(c.cfg.Stream.Backoff, c.attempt)
	return c.attempt, c.nextDelay
}

func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Running:        c.running,
		Attempt:        c.attempt,
		SessionsOpened: c.sessionsOpened,
		Records:        c.records,
		Heartbeats:     c.heartbeats,
		NextDelay:      c.nextDelay,
	}
	if c.last != nil {
		last := *c.last
		st.LastTermination = &last
	}
	if c.current != nil {
		st.SessionID = c.current.ID()
		st.SessionState = c.current.State().String()
		st.Records += c.current.Records()
		st.Heartbeats += c.current.Heartbeats()
	}
	return st
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
