package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/testutil/testlog"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvConsumerKey, "")
	t.Setenv(EnvConsumerSecret, "")
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	path := writeFile(t, `
consumer_key = " key "
consumer_secret = "secret"
idle_timeout = "45s"
backoff_max = "10m"
backoff_reset_on_connect = true
compression = true
status_addr = "127.0.0.1:7400"

[[rules]]
value = "bird has:media"
tag = "birds"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConsumerKey != "key" || cfg.ConsumerSecret != "secret" {
		t.Fatalf("unexpected credentials: %q %q", cfg.ConsumerKey, cfg.ConsumerSecret)
	}
	if cfg.IdleTimeout != 45*time.Second || cfg.BackoffMax != 10*time.Minute || !cfg.BackoffResetOnConnect {
		t.Fatalf("unexpected stream overrides: %+v", cfg)
	}
	if !cfg.Compression || cfg.StatusAddr != "127.0.0.1:7400" {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
	if cfg.StreamURL != api.DefaultStreamURL || cfg.BackoffBase != time.Second || cfg.BackoffMultiplier != 2 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Value != "bird has:media" || cfg.Rules[0].Tag != "birds" {
		t.Fatalf("unexpected rules: %+v", cfg.Rules)
	}

	sc := cfg.Stream()
	if sc.URL != api.DefaultStreamURL || sc.IdleTimeout != 45*time.Second || sc.Backoff.MaxDelay != 10*time.Minute || !sc.Backoff.ResetOnConnect {
		t.Fatalf("unexpected stream config: %+v", sc)
	}
	svc := cfg.Service(nil, "v1")
	if svc.Credential.Key != "key" || svc.Endpoints.TokenURL != api.DefaultTokenURL || svc.Version != "v1" || svc.StatusAddr != "127.0.0.1:7400" {
		t.Fatalf("unexpected service config: %+v", svc)
	}
}

func TestLoadKeepsSampleRulesWhenUnset(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	path := writeFile(t, "consumer_key = \"k\"\nconsumer_secret = \"s\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Rules) != 2 || cfg.Rules[0].Value != "dog has:images" || cfg.Rules[1].Tag != "cat pictures" {
		t.Fatalf("unexpected default rules: %+v", cfg.Rules)
	}
	if cfg.IdleTimeout != 20*time.Second || cfg.BackoffMax != 0 || cfg.BackoffResetOnConnect {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConsumerKey, "env-key")
	t.Setenv(EnvConsumerSecret, "env-secret")
	path := writeFile(t, "consumer_key = \"file-key\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConsumerKey != "env-key" || cfg.ConsumerSecret != "env-secret" {
		t.Fatalf("env did not override: %q %q", cfg.ConsumerKey, cfg.ConsumerSecret)
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.ConsumerKey != "env-key" {
		t.Fatalf("env-only load failed: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	cases := map[string]struct {
		body string
		want string
	}{
		"missing secret": {body: "consumer_key = \"k\"\n", want: "consumer_secret is required"},
		"bad url":        {body: "consumer_key = \"k\"\nconsumer_secret = \"s\"\nstream_url = \"nope\"\n", want: "stream_url must be a valid URL"},
		"bad duration":   {body: "consumer_key = \"k\"\nconsumer_secret = \"s\"\nidle_timeout = \"soon\"\n", want: "parse idle_timeout"},
		"zero timeout":   {body: "consumer_key = \"k\"\nconsumer_secret = \"s\"\nidle_timeout = \"0s\"\n", want: "idle_timeout must be greater than 0"},
		"low multiplier": {body: "consumer_key = \"k\"\nconsumer_secret = \"s\"\nbackoff_multiplier = 0.5\n", want: "backoff_multiplier must be at least 1"},
		"bad status":     {body: "consumer_key = \"k\"\nconsumer_secret = \"s\"\nstatus_addr = \"localhost\"\n", want: "status_addr must be host:port"},
		"empty rule":     {body: "consumer_key = \"k\"\nconsumer_secret = \"s\"\n[[rules]]\ntag = \"x\"\n", want: "rules[0].value is required"},
		"unknown key":    {body: "consumer_key = \"k\"\nconsumer_secret = \"s\"\nbogus = 1\n", want: "unknown keys: bogus"},
	}
	for name, tc := range cases {
		_, err := Load(writeFile(t, tc.body))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got=%v", name, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected %q in %q", name, tc.want, err.Error())
		}
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRenderRoundTrip(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	cfg := Default()
	cfg.ConsumerKey = "k"
	cfg.ConsumerSecret = "s"
	cfg.BackoffMax = 90 * time.Second
	cfg.OutputEnvelope = true

	body, err := Render(cfg, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	got, err := Load(writeFile(t, string(body)))
	if err != nil {
		t.Fatalf("load rendered: %v\n%s", err, body)
	}
	if got.BackoffMax != 90*time.Second || !got.OutputEnvelope || len(got.Rules) != 2 || got.ConsumerSecret != "s" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	redactedBody, err := Render(cfg, true)
	if err != nil {
		t.Fatalf("render redacted: %v", err)
	}
	if strings.Contains(string(redactedBody), "consumer_secret = 's'") || !strings.Contains(string(redactedBody), redacted) {
		t.Fatalf("secrets not redacted:\n%s", redactedBody)
	}
}

func TestWriteTemplate(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "streamctl.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("template should load: %v", err)
	}
	if cfg.ConsumerKey != placeholderKey || len(cfg.Rules) != 2 {
		t.Fatalf("unexpected template config: %+v", cfg)
	}
}
