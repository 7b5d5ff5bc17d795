package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/observability"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrSessionConstruction = errors.New("stream: session construction failed")

const maxErrorBodyBytes = 64 << 10

// State is the session lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SessionConfig carries everything one session needs.
type SessionConfig struct {
	Stream    Config
	Client    *http.Client
	UserAgent string
	Token     auth.AccessToken
	Sink      Sink
	Logger    *zerolog.Logger
}

// Session is one streaming GET. It is single use.
type Session struct {
	id     string
	cfg    Config
	client *http.Client
	req    *http.Request
	sink   Sink
	logger zerolog.Logger

	state    atomic.Int32
	opened   chan struct{}
	openOnce sync.Once
	done     chan struct{}
	termOnce sync.Once
	exited   chan struct{}

	mu      sync.Mutex
	term    Termination
	started bool
	cancel  context.CancelCauseFunc

	records    atomic.Int64
	heartbeats atomic.Int64
}

// NewSession validates cfg and prepares the request without sending it.
func NewSession(cfg SessionConfig) (*Session, error) {
	streamCfg := cfg.Stream.WithDefaults()
	if cfg.Token.IsZero() {
		return nil, fmt.Errorf("%w: missing access token", ErrSessionConstruction)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: missing sink", ErrSessionConstruction)
	}
	req, err := http.NewRequest(http.MethodGet, streamCfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionConstruction, err)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrSessionConstruction, req.URL.Scheme)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Token.Value())
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if streamCfg.Compression {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    streamCfg,
		client: client,
		req:    req,
		sink:   cfg.Sink,
		logger: logger.With().Str("component", "stream").Str("session_id", id).Logger(),
		opened: make(chan struct{}),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Opened closes when the server answers 200.
func (s *Session) Opened() <-chan struct{} {
	return s.opened
}

// Done closes once the session reaches Terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Termination reports why the session ended. Zero until Done is closed.
func (s *Session) Termination() Termination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

func (s *Session) Records() int64 {
	return s.records.Load()
}

func (s *Session) Heartbeats() int64 {
	return s.heartbeats.Load()
}

// Start launches the read goroutine. Calling it twice, or after Abort, is a
// no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.State() == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().Str("url", s.cfg.URL).Msg("stream.Session.Start connecting")
	go s.run(runCtx)
}

// Abort terminates the session and releases its transport. It is safe to
// call any number of times, including after self-termination.
func (s *Session) Abort() {
	s.terminate(Termination{Reason: ReasonAborted})
	s.cancelWith(errAborted)
}

// Wait blocks until the read goroutine has exited.
func (s *Session) Wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.exited
	}
}

func (s *Session) cancelWith(cause error) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

func (s *Session) terminate(t Termination) {
	s.termOnce.Do(func() {
		t.At = time.Now()
		s.mu.Lock()
		s.term = t
		s.mu.Unlock()
		s.state.Store(int32(StateTerminated))
		observability.RecordTermination(t.Reason.String())

		event := s.logger.Warn()
		if t.Reason == ReasonAborted {
			event = s.logger.Debug()
		}
		event.
			Str("reason", t.Reason.String()).
			Int("status", t.StatusCode).
			AnErr("err", t.Err).
			Int64("records", s.records.Load()).
			Int64("heartbeats", s.heartbeats.Load()).
			Msg("stream.Session terminated")
		close(s.done)
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.exited)
	defer s.cancelWith(errEnded)

	idle := time.AfterFunc(s.cfg.IdleTimeout, func() {
		s.cancelWith(errIdleTimeout)
	})
	defer idle.Stop()
	touch := func() {
		idle.Reset(s.cfg.IdleTimeout)
	}

	start := time.Now()
	resp, err := s.client.Do(s.req.Clone(ctx))
	if err != nil {
		observability.RecordAPIRequest("stream.connect", 0, time.Since(start))
		s.terminate(s.classifyError(ctx, err, 0))
		return
	}
	defer resp.Body.Close()
	observability.RecordAPIRequest("stream.connect", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		s.terminate(Termination{
			Reason:     ReasonTransport,
			StatusCode: resp.StatusCode,
			Err:        api.DecodeError(resp.StatusCode, body),
		})
		return
	}

	s.openOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
		observability.RecordSessionOpened()
		s.logger.Info().Msg("stream.Session.run connected")
		close(s.opened)
	})
	touch()

	var body io.Reader = &activityReader{r: resp.Body, touch: touch}
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			s.terminate(s.classifyError(ctx, err, resp.StatusCode))
			return
		}
		defer gz.Close()
		body = gz
	}

	// The scanner honors the larger of max and cap(buf), so the initial
	// buffer must not exceed MaxLineBytes.
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, min(64<<10, s.cfg.MaxLineBytes)), s.cfg.MaxLineBytes)
	for scanner.Scan() {
		if !s.handleChunk(ctx, scanner.Bytes()) {
			return
		}
	}
	err = scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		observability.RecordOversizeLine()
		s.logger.Warn().
			Int("max_line_bytes", s.cfg.MaxLineBytes).
			Int64("records", s.Records()).
			Msg("stream.Session.run line exceeds max_line_bytes, dropping connection")
		err = fmt.Errorf("stream: line exceeds %d bytes: %w", s.cfg.MaxLineBytes, err)
	}
	if err == nil {
		err = io.EOF
	}
	s.terminate(s.classifyError(ctx, err, resp.StatusCode))
}

// handleChunk processes one line and reports whether reading continues.
func (s *Session) handleChunk(ctx context.Context, chunk []byte) bool {
	if s.State() == StateTerminated {
		return false
	}
	switch Classify(chunk, s.cfg.IssueField) {
	case KindHeartbeat:
		s.heartbeats.Add(1)
		observability.RecordHeartbeat()
		s.logger.Trace().Msg("stream.Session heartbeat")
		return true
	case KindIssueSignal:
		s.terminate(Termination{Reason: ReasonIssueSignal, Err: errIssueSignal})
		s.cancelWith(errIssueSignal)
		return false
	default:
		raw := make([]byte, len(chunk))
		copy(raw, chunk)
		rec := Record{
			SessionID:  s.id,
			Raw:        trimJSON(raw),
			ReceivedAt: time.Now(),
		}
		s.records.Add(1)
		observability.RecordRecord()
		if err := s.sink.Emit(ctx, rec); err != nil {
			observability.RecordSinkError()
			s.logger.Warn().Err(err).Msg("stream.Session sink rejected record")
		}
		return true
	}
}

func (s *Session) classifyError(ctx context.Context, err error, status int) Termination {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errIdleTimeout):
		return Termination{Reason: ReasonTimeout, StatusCode: status, Err: errIdleTimeout}
	case errors.Is(cause, errIssueSignal):
		return Termination{Reason: ReasonIssueSignal, StatusCode: status, Err: errIssueSignal}
	case errors.Is(cause, errAborted), ctx.Err() != nil:
		return Termination{Reason: ReasonAborted, StatusCode: status, Err: cause}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Termination{Reason: ReasonTimeout, StatusCode: status, Err: err}
	}
	return Termination{Reason: ReasonTransport, StatusCode: status, Err: err}
}

func trimJSON(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// activityReader reports every successful read so the idle timer restarts
// on heartbeats and partial payloads alike.
type activityReader struct {
	r     io.Reader
	touch func()
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.touch()
	}
	return n, err
}
