// Package auth exchanges static consumer credentials for a bearer token.
//
// The exchange runs once per process. Failures are not retried: a rejected
// credential is an operator configuration error.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/observability"
	"github.com/rs/zerolog"
)

var ErrAuth = errors.New("auth: token exchange failed")

// Credential is the consumer key/secret pair supplied at startup.
type Credential struct {
	Key    string
	Secret string
}

func (c Credential) Validate() error {
	if strings.TrimSpace(c.Key) == "" {
		return fmt.Errorf("%w: missing consumer key", ErrAuth)
	}
	if strings.TrimSpace(c.Secret) == "" {
		return fmt.Errorf("%w: missing consumer secret", ErrAuth)
	}
	return nil
}

// String never reveals the secret and only a prefix of the key.
func (c Credential) String() string {
	return fmt.Sprintf("key=%s secret=%s", redact(c.Key), redact(c.Secret))
}

// AccessToken is the bearer credential. Expiry is not tracked; it is
// treated as valid until a call rejects it.
type AccessToken struct {
	value string
}

func NewAccessToken(value string) AccessToken {
	return AccessToken{value: value}
}

// Value returns the raw bearer for the Authorization header.
func (t AccessToken) Value() string {
	return t.value
}

func (t AccessToken) IsZero() bool {
	return t.value == ""
}

func (t AccessToken) String() string {
	return redact(t.value)
}

func redact(s string) string {
	switch n := len(s); {
	case n == 0:
		return `""`
	case n <= 8:
		return "***"
	default:
		return fmt.Sprintf("%s...(%d)", s[:4], n)
	}
}

// Exchanger performs the client-credentials grant.
type Exchanger struct {
	client   *api.Client
	tokenURL string
	logger   zerolog.Logger
}

func NewExchanger(client *api.Client, tokenURL string) *Exchanger {
	return &Exchanger{
		client:   client,
		tokenURL: strings.TrimSpace(tokenURL),
		logger:   observability.Component("auth"),
	}
}

type tokenResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// Exchange trades cred for a bearer token with one outbound call.
func (e *Exchanger) Exchange(ctx context.Context, cred Credential) (AccessToken, error) {
	if err := cred.Validate(); err != nil {
		return AccessToken{}, err
	}
	resp, err := e.client.Do(ctx, api.Request{
		Op:     "token.exchange",
		Method: http.MethodPost,
		URL:    e.tokenURL,
		Basic:  &api.BasicAuth{User: cred.Key, Password: cred.Secret},
		Form:   url.Values{"grant_type": {"client_credentials"}},
	})
	if err != nil {
		return AccessToken{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if resp.StatusCode != http.StatusOK {
		return AccessToken{}, fmt.Errorf("%w: %w", ErrAuth, api.DecodeError(resp.StatusCode, resp.Body))
	}

	var body tokenResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return AccessToken{}, fmt.Errorf("%w: parse response: %v", ErrAuth, err)
	}
	if body.TokenType != "" && !strings.EqualFold(body.TokenType, "bearer") {
		return AccessToken{}, fmt.Errorf("%w: unexpected token_type %q", ErrAuth, body.TokenType)
	}
	if body.AccessToken == "" {
		return AccessToken{}, fmt.Errorf("%w: empty access_token", ErrAuth)
	}

	token := NewAccessToken(body.AccessToken)
	e.logger.Info().Str("credential", cred.String()).Str("token", token.String()).Msg("auth.Exchanger.Exchange token acquired")
	return token, nil
}
