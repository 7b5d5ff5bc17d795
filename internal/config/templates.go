package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	placeholderKey    = "YOUR_CONSUMER_KEY"
	placeholderSecret = "YOUR_CONSUMER_SECRET"
	redacted          = "<redacted>"
)

const templateHeader = `# streamctl configuration.
# consumer_key and consumer_secret may be left as placeholders and supplied
# through STREAMCTL_CONSUMER_KEY and STREAMCTL_CONSUMER_SECRET instead.
# Durations use Go syntax: "500ms", "20s", "5m". backoff_max = "0s" leaves
# reconnect backoff unbounded.

`

func (c Config) toFile(redactSecrets bool) fileConfig {
	f := fileConfig{
		ConsumerKey:           c.ConsumerKey,
		ConsumerSecret:        c.ConsumerSecret,
		TokenURL:              c.TokenURL,
		RulesURL:              c.RulesURL,
		StreamURL:             c.StreamURL,
		IdleTimeout:           formatDuration(c.IdleTimeout),
		IssueField:            c.IssueField,
		Compression:           c.Compression,
		MaxLineBytes:          c.MaxLineBytes,
		BackoffBase:           formatDuration(c.BackoffBase),
		BackoffMultiplier:     c.BackoffMultiplier,
		BackoffMax:            formatDuration(c.BackoffMax),
		BackoffResetOnConnect: c.BackoffResetOnConnect,
		RequestTimeout:        formatDuration(c.RequestTimeout),
		UserAgent:             c.UserAgent,
		StatusAddr:            c.StatusAddr,
		OutputEnvelope:        c.OutputEnvelope,
		SkipRuleSync:          c.SkipRuleSync,
		Rules:                 normalizeRules(c.Rules),
	}
	if redactSecrets {
		if f.ConsumerKey != "" {
			f.ConsumerKey = redacted
		}
		if f.ConsumerSecret != "" {
			f.ConsumerSecret = redacted
		}
	}
	return f
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	return d.String()
}

// Render encodes cfg in the on-disk format.
func Render(cfg Config, redactSecrets bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(cfg.toFile(redactSecrets)); err != nil {
		return nil, fmt.Errorf("config: render: %w", err)
	}
	return buf.Bytes(), nil
}

// Template returns a commented starter file built from Default.
func Template() (string, error) {
	cfg := Default()
	cfg.ConsumerKey = placeholderKey
	cfg.ConsumerSecret = placeholderSecret
	body, err := Render(cfg, false)
	if err != nil {
		return "", err
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
