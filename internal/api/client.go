package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/streamctl/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultUserAgent      = "streamctl/1"
	defaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 4 << 20
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// HTTPClient is shared by one-shot calls and the stream. It must not
	// carry an overall Timeout or the long-lived stream would be cut.
	HTTPClient *http.Client
	// RequestTimeout bounds each one-shot call. Default: 30s.
	RequestTimeout time.Duration
	UserAgent      string
	Logger         *zerolog.Logger
}

// Client executes one-shot calls against the remote API.
type Client struct {
	httpClient     *http.Client
	requestTimeout time.Duration
	userAgent      string
	logger         zerolog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Client{
		httpClient:     httpClient,
		requestTimeout: timeout,
		userAgent:      userAgent,
		logger:         logger.With().Str("component", "api").Logger(),
	}
}

// HTTPClient exposes the transport so the stream session shares connections.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) UserAgent() string {
	return c.userAgent
}

// Request describes one outbound call. At most one of Form and JSON is set.
type Request struct {
	// Op labels the call in logs and metrics, e.g. "rules.list".
	Op     string
	Method string
	URL    string
	Bearer string
	Basic  *BasicAuth
	Form   url.Values
	JSON   any
}

type BasicAuth struct {
	User     string
	Password string
}

// Response is a fully read response body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends req and reads the whole response. Only transport failures are
// returned as errors; status handling belongs to the caller.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded;charset=UTF-8"
	case req.JSON != nil:
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("api: encode %s body: %w", req.Op, err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("api: build %s request: %w", req.Op, err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Basic != nil {
		httpReq.SetBasicAuth(req.Basic.User, req.Basic.Password)
	}
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.RecordAPIRequest(req.Op, 0, time.Since(start))
		return nil, fmt.Errorf("api: %s %s failed: %w", req.Method, req.Op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	observability.RecordAPIRequest(req.Op, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("api: read %s response: %w", req.Op, err)
	}
	c.logger.Debug().
		Str("op", req.Op).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Int("bytes", len(data)).
		Msg("api.Client.Do")
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
