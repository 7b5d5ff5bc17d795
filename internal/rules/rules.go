// Package rules manages the remote filter rule set that decides which
// records the stream delivers.
//
// Convergence is full replacement: list, delete everything, add the desired
// set. Each call is a single request with no internal retry.
package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/observability"
	"github.com/rs/zerolog"
)

var (
	ErrRuleQuery    = errors.New("rules: query failed")
	ErrRuleMutation = errors.New("rules: mutation failed")
	ErrInvalidRule  = errors.New("rules: invalid rule")
)

// Rule is one server-side filter predicate. ID is assigned by the server.
type Rule struct {
	ID    string `json:"id,omitempty" toml:"-"`
	Value string `json:"value" toml:"value" validate:"required"`
	Tag   string `json:"tag,omitempty" toml:"tag"`
}

func (r Rule) Validate() error {
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("%w: missing value", ErrInvalidRule)
	}
	return nil
}

// ListMeta is the metadata block of a list response.
type ListMeta struct {
	Sent        string `json:"sent,omitempty"`
	ResultCount int    `json:"result_count,omitempty"`
}

// RuleSet is a listing. Rules is nil when the response carried no usable
// "data" array.
type RuleSet struct {
	Rules []Rule
	Meta  ListMeta
}

func (s RuleSet) IDs() []string {
	ids := make([]string, 0, len(s.Rules))
	for _, r := range s.Rules {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Summary counts the effect of a mutation.
type Summary struct {
	Created    int `json:"created,omitempty"`
	NotCreated int `json:"not_created,omitempty"`
	Valid      int `json:"valid,omitempty"`
	Invalid    int `json:"invalid,omitempty"`
	Deleted    int `json:"deleted,omitempty"`
	NotDeleted int `json:"not_deleted,omitempty"`
}

// Ack is the server's answer to a mutation.
type Ack struct {
	Rules []Rule `json:"data,omitempty"`
	Meta  struct {
		Sent    string  `json:"sent,omitempty"`
		Summary Summary `json:"summary"`
	} `json:"meta"`
	Errors []api.ErrorDetail `json:"errors,omitempty"`
}

// Manager issues rule calls with a bearer token.
type Manager struct {
	client   *api.Client
	rulesURL string
	token    auth.AccessToken
	logger   zerolog.Logger
}

func NewManager(client *api.Client, rulesURL string, token auth.AccessToken) *Manager {
	return &Manager{
		client:   client,
		rulesURL: strings.TrimSpace(rulesURL),
		token:    token,
		logger:   observability.Component("rules"),
	}
}

// WithLogger replaces the manager's logger.
func (m *Manager) WithLogger(logger zerolog.Logger) *Manager {
	m.logger = logger
	return m
}

type listResponse struct {
	Data json.RawMessage `json:"data"`
	Meta ListMeta        `json:"meta"`
}

// List fetches the current remote rule set.
func (m *Manager) List(ctx context.Context) (RuleSet, error) {
	resp, err := m.client.Do(ctx, api.Request{
		Op:     "rules.list",
		Method: http.MethodGet,
		URL:    m.rulesURL,
		Bearer: m.token.Value(),
	})
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: %w", ErrRuleQuery, err)
	}
	if resp.StatusCode != http.StatusOK {
		return RuleSet{}, fmt.Errorf("%w: %w", ErrRuleQuery, api.DecodeError(resp.StatusCode, resp.Body))
	}
	var body listResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return RuleSet{}, fmt.Errorf("%w: parse response: %v", ErrRuleQuery, err)
	}
	set := RuleSet{Meta: body.Meta}
	if data := bytes.TrimSpace(body.Data); len(data) > 0 && data[0] == '[' {
		var list []Rule
		if err := json.Unmarshal(data, &list); err == nil {
			set.Rules = list
		}
	}
	return set, nil
}

// DeleteAll removes every rule in set. An empty or malformed set is a no-op
// that returns a nil Ack.
func (m *Manager) DeleteAll(ctx context.Context, set RuleSet) (*Ack, error) {
	ids := set.IDs()
	if missing := len(set.Rules) - len(ids); missing > 0 {
		m.logger.Warn().
			Int("listed", len(set.Rules)).
			Int("without_id", missing).
			Msg("rules.Manager.DeleteAll rules without an id stay on the server")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	payload := map[string]any{"delete": map[string][]string{"ids": ids}}
	return m.mutate(ctx, "rules.delete", payload, http.StatusOK)
}

// Add registers rules. An empty slice is a no-op that returns a nil Ack.
func (m *Manager) Add(ctx context.Context, rules []Rule) (*Ack, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	add := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule[%d]: %w", i, err)
		}
		add = append(add, Rule{Value: r.Value, Tag: r.Tag})
	}
	return m.mutate(ctx, "rules.add", map[string]any{"add": add}, http.StatusCreated)
}

func (m *Manager) mutate(ctx context.Context, op string, payload any, want int) (*Ack, error) {
	resp, err := m.client.Do(ctx, api.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    m.rulesURL,
		Bearer: m.token.Value(),
		JSON:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuleMutation, err)
	}
	if resp.StatusCode != want {
		return nil, fmt.Errorf("%w: %s: %w", ErrRuleMutation, op, api.DecodeError(resp.StatusCode, resp.Body))
	}
	var ack Ack
	if len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, &ack); err != nil {
			return nil, fmt.Errorf("%w: %s: parse response: %v", ErrRuleMutation, op, err)
		}
	}
	return &ack, nil
}

// Result reports what a convergence changed.
type Result struct {
	Deleted int    `json:"deleted"`
	Added   int    `json:"added"`
	Rules   []Rule `json:"rules"`
}

// Converge replaces the remote rule set with desired.
func (m *Manager) Converge(ctx context.Context, desired []Rule) (Result, error) {
	for i, r := range desired {
		if err := r.Validate(); err != nil {
			return Result{}, fmt.Errorf("rule[%d]: %w", i, err)
		}
	}
	current, err := m.List(ctx)
	if err != nil {
		return Result{}, err
	}
	var res Result
	delAck, err := m.DeleteAll(ctx, current)
	if err != nil {
		return Result{}, err
	}
	if delAck != nil {
		res.Deleted = delAck.Meta.Summary.Deleted
	}
	addAck, err := m.Add(ctx, desired)
	if err != nil {
		return Result{}, err
	}
	if addAck != nil {
		res.Added = addAck.Meta.Summary.Created
		res.Rules = addAck.Rules
	}
	m.logger.Info().
		Int("existing", len(current.Rules)).
		Int("deleted", res.Deleted).
		Int("added", res.Added).
		Msg("rules.Manager.Converge filters set")
	return res, nil
}
