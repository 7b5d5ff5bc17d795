package api

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultTokenURL  = "https://api.twitter.com/oauth2/token"
	DefaultRulesURL  = "https://api.twitter.com/2/tweets/search/stream/rules"
	DefaultStreamURL = "https://api.twitter.com/2/tweets/search/stream"
)

var ErrInvalidEndpoint = errors.New("api: invalid endpoint")

// Endpoints are the three remote URLs the process talks to.
type Endpoints struct {
	TokenURL  string
	RulesURL  string
	StreamURL string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		TokenURL:  DefaultTokenURL,
		RulesURL:  DefaultRulesURL,
		StreamURL: DefaultStreamURL,
	}
}

func (e Endpoints) Validate() error {
	for name, raw := range map[string]string{
		"token_url":  e.TokenURL,
		"rules_url":  e.RulesURL,
		"stream_url": e.StreamURL,
	} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidEndpoint, name, err)
		}
	}
	return nil
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("missing")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
