// Package config loads the streamctl TOML file, applies environment
// overrides for secrets and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/rules"
	"github.com/danmuck/streamctl/internal/stream"
	"github.com/go-playground/validator/v10"
)

const (
	EnvConsumerKey    = "STREAMCTL_CONSUMER_KEY"
	EnvConsumerSecret = "STREAMCTL_CONSUMER_SECRET"

	defaultRequestTimeout = 30 * time.Second
)

var ErrInvalidConfig = errors.New("config: invalid")

type Config struct {
	ConsumerKey    string `toml:"consumer_key" validate:"required"`
	ConsumerSecret string `toml:"consumer_secret" validate:"required"`

	TokenURL  string `toml:"token_url" validate:"required,url"`
	RulesURL  string `toml:"rules_url" validate:"required,url"`
	StreamURL string `toml:"stream_url" validate:"required,url"`

	IdleTimeout  time.Duration `toml:"idle_timeout" validate:"gt=0"`
	IssueField   string        `toml:"issue_field" validate:"required"`
	Compression  bool          `toml:"compression"`
	MaxLineBytes int           `toml:"max_line_bytes" validate:"gte=1024"`

	BackoffBase           time.Duration `toml:"backoff_base" validate:"gt=0"`
	BackoffMultiplier     float64       `toml:"backoff_multiplier" validate:"gte=1"`
	BackoffMax            time.Duration `toml:"backoff_max" validate:"gte=0"`
	BackoffResetOnConnect bool          `toml:"backoff_reset_on_connect"`

	RequestTimeout time.Duration `toml:"request_timeout" validate:"gt=0"`
	UserAgent      string        `toml:"user_agent"`
	StatusAddr     string        `toml:"status_addr" validate:"omitempty,hostname_port"`
	OutputEnvelope bool          `toml:"output_envelope"`

	Rules        []rules.Rule `toml:"rules" validate:"dive"`
	SkipRuleSync bool         `toml:"skip_rule_sync"`
}

// DefaultRules is the sample filter set registered when the file names none.
func DefaultRules() []rules.Rule {
	return []rules.Rule{
		{Value: "dog has:images", Tag: "dog pictures"},
		{Value: "cat has:images -grumpy", Tag: "cat pictures"},
	}
}

func Default() Config {
	sc := stream.DefaultConfig()
	return Config{
		TokenURL:          api.DefaultTokenURL,
		RulesURL:          api.DefaultRulesURL,
		StreamURL:         api.DefaultStreamURL,
		IdleTimeout:       sc.IdleTimeout,
		IssueField:        sc.IssueField,
		MaxLineBytes:      sc.MaxLineBytes,
		BackoffBase:       sc.Backoff.Base,
		BackoffMultiplier: sc.Backoff.Multiplier,
		BackoffMax:        sc.Backoff.MaxDelay,
		RequestTimeout:    defaultRequestTimeout,
		Rules:             DefaultRules(),
	}
}

// fileConfig is the on-disk shape. Durations are strings like "20s".
type fileConfig struct {
	ConsumerKey           string       `toml:"consumer_key"`
	ConsumerSecret        string       `toml:"consumer_secret"`
	TokenURL              string       `toml:"token_url"`
	RulesURL              string       `toml:"rules_url"`
	StreamURL             string       `toml:"stream_url"`
	IdleTimeout           string       `toml:"idle_timeout"`
	IssueField            string       `toml:"issue_field"`
	Compression           bool         `toml:"compression"`
	MaxLineBytes          int          `toml:"max_line_bytes"`
	BackoffBase           string       `toml:"backoff_base"`
	BackoffMultiplier     float64      `toml:"backoff_multiplier"`
	BackoffMax            string       `toml:"backoff_max"`
	BackoffResetOnConnect bool         `toml:"backoff_reset_on_connect"`
	RequestTimeout        string       `toml:"request_timeout"`
	UserAgent             string       `toml:"user_agent,omitempty"`
	StatusAddr            string       `toml:"status_addr,omitempty"`
	OutputEnvelope        bool         `toml:"output_envelope"`
	SkipRuleSync          bool         `toml:"skip_rule_sync"`
	Rules                 []rules.Rule `toml:"rules"`
}

// Load reads path over Default, applies env overrides and validates. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		var err error
		cfg, err = decodeFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys: %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	setString := func(key string, dst *string, v string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("consumer_key", &cfg.ConsumerKey, raw.ConsumerKey)
	setString("consumer_secret", &cfg.ConsumerSecret, raw.ConsumerSecret)
	setString("token_url", &cfg.TokenURL, raw.TokenURL)
	setString("rules_url", &cfg.RulesURL, raw.RulesURL)
	setString("stream_url", &cfg.StreamURL, raw.StreamURL)
	setString("issue_field", &cfg.IssueField, raw.IssueField)
	setString("user_agent", &cfg.UserAgent, raw.UserAgent)
	setString("status_addr", &cfg.StatusAddr, raw.StatusAddr)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"idle_timeout", raw.IdleTimeout, &cfg.IdleTimeout},
		{"backoff_base", raw.BackoffBase, &cfg.BackoffBase},
		{"backoff_max", raw.BackoffMax, &cfg.BackoffMax},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("compression") {
		cfg.Compression = raw.Compression
	}
	if meta.IsDefined("max_line_bytes") {
		cfg.MaxLineBytes = raw.MaxLineBytes
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.BackoffMultiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_reset_on_connect") {
		cfg.BackoffResetOnConnect = raw.BackoffResetOnConnect
	}
	if meta.IsDefined("output_envelope") {
		cfg.OutputEnvelope = raw.OutputEnvelope
	}
	if meta.IsDefined("skip_rule_sync") {
		cfg.SkipRuleSync = raw.SkipRuleSync
	}
	if meta.IsDefined("rules") {
		cfg.Rules = normalizeRules(raw.Rules)
	}
	return cfg, nil
}

func normalizeRules(in []rules.Rule) []rules.Rule {
	out := make([]rules.Rule, 0, len(in))
	for _, r := range in {
		out = append(out, rules.Rule{
			Value: strings.TrimSpace(r.Value),
			Tag:   strings.TrimSpace(r.Tag),
		})
	}
	return out
}

// ApplyEnv overrides credentials from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvConsumerKey); ok && strings.TrimSpace(v) != "" {
		c.ConsumerKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvConsumerSecret); ok && strings.TrimSpace(v) != "" {
		c.ConsumerSecret = strings.TrimSpace(v)
	}
}

// Validate checks struct tags and reports every failing field by its TOML
// key.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(tomlName)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func tomlName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		messages = append(messages, formatFieldError(e))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		if field == "consumer_key" || field == "consumer_secret" {
			return fmt.Sprintf("%s is required (or set %s)", field, envFor(field))
		}
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL, got %q", field, e.Value())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", field, e.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", field, e.Param(), e.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", field, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, e.Tag())
	}
}

func envFor(field string) string {
	if field == "consumer_key" {
		return EnvConsumerKey
	}
	return EnvConsumerSecret
}
