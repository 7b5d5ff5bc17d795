package config

import (
	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/consumer"
	"github.com/danmuck/streamctl/internal/stream"
)

func (c Config) Credential() auth.Credential {
	return auth.Credential{Key: c.ConsumerKey, Secret: c.ConsumerSecret}
}

func (c Config) Endpoints() api.Endpoints {
	return api.Endpoints{
		TokenURL:  c.TokenURL,
		RulesURL:  c.RulesURL,
		StreamURL: c.StreamURL,
	}
}

func (c Config) Stream() stream.Config {
	return stream.Config{
		URL:          c.StreamURL,
		IdleTimeout:  c.IdleTimeout,
		IssueField:   c.IssueField,
		Compression:  c.Compression,
		MaxLineBytes: c.MaxLineBytes,
		Backoff: stream.BackoffConfig{
			Base:           c.BackoffBase,
			Multiplier:     c.BackoffMultiplier,
			MaxDelay:       c.BackoffMax,
			ResetOnConnect: c.BackoffResetOnConnect,
		},
	}
}

// Service maps the file config onto a consumer.ServiceConfig. The caller
// supplies the sink and transport.
func (c Config) Service(sink stream.Sink, version string) consumer.ServiceConfig {
	return consumer.ServiceConfig{
		Credential:     c.Credential(),
		Endpoints:      c.Endpoints(),
		Rules:          normalizeRules(c.Rules),
		SkipRuleSync:   c.SkipRuleSync,
		Stream:         c.Stream(),
		RequestTimeout: c.RequestTimeout,
		UserAgent:      c.UserAgent,
		Version:        version,
		StatusAddr:     c.StatusAddr,
		Sink:           sink,
	}
}
