package consumer

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/rules"
	"github.com/danmuck/streamctl/internal/testutil/fakeapi"
	"github.com/danmuck/streamctl/internal/testutil/testlog"
)

var sampleRules = []rules.Rule{
	{Value: "dog has:images", Tag: "dog pictures"},
	{Value: "cat has:images -grumpy", Tag: "cat pictures"},
}

func newTestService(t *testing.T, fake *fakeapi.Server, mutate func(*ServiceConfig)) (*Service, *recordingSink) {
	t.Helper()
	sink := newRecordingSink()
	cfg := ServiceConfig{
		Credential: auth.Credential{Key: fakeapi.Key, Secret: fakeapi.Secret},
		Endpoints:  fake.Endpoints(),
		Rules:      sampleRules,
		HTTPClient: fake.Client(),
		Sink:       sink,
		Version:    "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, sink
}

func runService(svc *Service, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()
	return errCh
}

func TestServiceRunBootstrapsThenStreams(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	fake.SeedRules(fakeapi.Rule{Value: "stale"})
	fake.Script(fakeapi.Lines(`{"data":{"id":"1","text":"a dog"}}`))
	svc, sink := newTestService(t, fake, func(cfg *ServiceConfig) {
		cfg.StatusAddr = "127.0.0.1:0"
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := runService(svc, ctx)

	if got := sink.next(t); got != `{"data":{"id":"1","text":"a dog"}}` {
		t.Fatalf("unexpected record: %s", got)
	}
	stored := fake.Rules()
	values := make([]string, 0, len(stored))
	for _, r := range stored {
		values = append(values, r.Value)
	}
	sort.Strings(values)
	if len(values) != 2 || values[0] != "cat has:images -grumpy" || values[1] != "dog has:images" {
		t.Fatalf("rules not converged: %v", values)
	}
	if svc.Controller() == nil {
		t.Fatalf("controller should exist after bootstrap")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(waitLimit):
		t.Fatalf("service did not stop")
	}
}

func TestServiceRunAuthFailure(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	svc, _ := newTestService(t, fake, func(cfg *ServiceConfig) {
		cfg.Credential.Secret = "wrong"
	})

	err := svc.Run(context.Background())
	if !errors.Is(err, auth.ErrAuth) {
		t.Fatalf("expected ErrAuth, got=%v", err)
	}
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 api error, got=%v", err)
	}
	if fake.RulePosts() != 0 || fake.StreamConnections() != 0 {
		t.Fatalf("auth failure must stop before rules or stream")
	}
	if svc.Controller() != nil {
		t.Fatalf("controller must not exist after failed bootstrap")
	}
}

func TestServiceRunRuleFailure(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	fake.ListStatus = http.StatusServiceUnavailable
	svc, _ := newTestService(t, fake, nil)

	if err := svc.Run(context.Background()); !errors.Is(err, rules.ErrRuleQuery) {
		t.Fatalf("expected ErrRuleQuery, got=%v", err)
	}
	if fake.StreamConnections() != 0 {
		t.Fatalf("rule failure must stop before streaming")
	}
}

func TestServiceSkipRuleSync(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	fake.Script(fakeapi.Lines(`{"n":1}`))
	svc, sink := newTestService(t, fake, func(cfg *ServiceConfig) {
		cfg.SkipRuleSync = true
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := runService(svc, ctx)
	sink.next(t)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.RulePosts() != 0 {
		t.Fatalf("rule sync should be skipped, posts=%d", fake.RulePosts())
	}
}

func TestNewServiceValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := NewService(ServiceConfig{Endpoints: api.DefaultEndpoints()}); !errors.Is(err, ErrServiceConfig) {
		t.Fatalf("expected ErrServiceConfig for missing sink, got=%v", err)
	}
	bad := api.DefaultEndpoints()
	bad.TokenURL = "not a url"
	if _, err := NewService(ServiceConfig{Endpoints: bad, Sink: newRecordingSink()}); !errors.Is(err, api.ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got=%v", err)
	}
}
