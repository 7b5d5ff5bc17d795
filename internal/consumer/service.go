// Package consumer runs the stream consumer end to end: token exchange,
// rule convergence, then a reconnecting stream session with an optional
// local status API.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/rules"
	"github.com/danmuck/streamctl/internal/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrServiceConfig = errors.New("consumer: invalid service config")

// ServiceConfig is everything one consumer process needs.
type ServiceConfig struct {
	Credential     auth.Credential
	Endpoints      api.Endpoints
	Rules          []rules.Rule
	SkipRuleSync   bool
	Stream         stream.Config
	RequestTimeout time.Duration
	UserAgent      string
	Version        string
	// StatusAddr enables the status API when non-empty.
	StatusAddr string
	HTTPClient *http.Client
	Sink       stream.Sink
	Logger     *zerolog.Logger
}

type Service struct {
	cfg       ServiceConfig
	client    *api.Client
	exchanger *auth.Exchanger
	base      zerolog.Logger
	logger    zerolog.Logger

	controller *Controller
	ready      chan struct{}
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Endpoints.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceConfig, err)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: missing sink", ErrServiceConfig)
	}
	cfg.Stream.URL = cfg.Endpoints.StreamURL
	cfg.Stream = cfg.Stream.WithDefaults()

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	client := api.NewClient(api.ClientConfig{
		HTTPClient:     cfg.HTTPClient,
		RequestTimeout: cfg.RequestTimeout,
		UserAgent:      cfg.UserAgent,
		Logger:         &logger,
	})
	return &Service{
		cfg:       cfg,
		client:    client,
		exchanger: auth.NewExchanger(client, cfg.Endpoints.TokenURL),
		base:      logger,
		logger:    logger.With().Str("component", "consumer").Logger(),
		ready:     make(chan struct{}),
	}, nil
}

// Authenticate exchanges the configured credential for a bearer token.
func (s *Service) Authenticate(ctx context.Context) (auth.AccessToken, error) {
	return s.exchanger.Exchange(ctx, s.cfg.Credential)
}

func (s *Service) Rules(token auth.AccessToken) *rules.Manager {
	return rules.NewManager(s.client, s.cfg.Endpoints.RulesURL, token)
}

// Run bootstraps and then streams until ctx is cancelled. Only bootstrap
// failures are returned.
func (s *Service) Run(ctx context.Context) error {
	token, err := s.bootstrap(ctx)
	if err != nil {
		return err
	}
	return s.serve(ctx, token)
}

// Controller returns the running controller, or nil before bootstrap
// finishes.
func (s *Service) Controller() *Controller {
	select {
	case <-s.ready:
		return s.controller
	default:
		return nil
	}
}

// Ready closes once bootstrap has finished and the controller exists.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) bootstrap(ctx context.Context) (auth.AccessToken, error) {
	s.logger.Info().Str("credential", s.cfg.Credential.String()).Msg("consumer.Service.bootstrap exchanging token")
	token, err := s.Authenticate(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("consumer.Service.bootstrap token exchange failed")
		return auth.AccessToken{}, err
	}
	s.logger.Info().Str("token", token.String()).Msg("consumer.Service.bootstrap token acquired")

	if s.cfg.SkipRuleSync {
		s.logger.Info().Msg("consumer.Service.bootstrap rule sync skipped")
		return token, nil
	}
	res, err := s.Rules(token).Converge(ctx, s.cfg.Rules)
	if err != nil {
		s.logger.Error().Err(err).Msg("consumer.Service.bootstrap rule convergence failed")
		return auth.AccessToken{}, err
	}
	s.logger.Info().Int("deleted", res.Deleted).Int("added", res.Added).Msg("consumer.Service.bootstrap filters set")
	return token, nil
}

func (s *Service) serve(ctx context.Context, token auth.AccessToken) error {
	ctrl, err := NewController(ControllerConfig{
		Stream:     s.cfg.Stream,
		HTTPClient: s.client.HTTPClient(),
		UserAgent:  s.client.UserAgent(),
		Token:      token,
		Sink:       s.cfg.Sink,
		Logger:     &s.base,
	})
	if err != nil {
		return err
	}
	s.controller = ctrl
	close(s.ready)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	statusDone := make(chan struct{})
	if addr := strings.TrimSpace(s.cfg.StatusAddr); addr != "" {
		router := NewStatusRouter(ctrl, s.cfg.Version, s.logger)
		go func() {
			defer close(statusDone)
			if err := serveStatus(ctx, addr, router, s.logger); err != nil {
				s.logger.Warn().Err(err).Str("addr", addr).Msg("consumer.Service.serve status server stopped")
			}
		}()
	} else {
		close(statusDone)
	}

	runErr := ctrl.Run(ctx)
	cancel()
	<-statusDone
	s.logger.Info().Msg("consumer.Service.serve shutdown")
	return runErr
}
