package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/testutil/fakeapi"
	"github.com/danmuck/streamctl/internal/testutil/testlog"
)

func TestExchangeSuccess(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	ex := NewExchanger(api.NewClient(api.ClientConfig{HTTPClient: fake.Client()}), fake.Endpoints().TokenURL)

	token, err := ex.Exchange(context.Background(), Credential{Key: fakeapi.Key, Secret: fakeapi.Secret})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if token.Value() != fakeapi.Token {
		t.Fatalf("unexpected token value=%q", token.Value())
	}
	if strings.Contains(token.String(), fakeapi.Token) {
		t.Fatalf("token string leaks value: %s", token.String())
	}
}

func TestExchangeRejectedCredentials(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	ex := NewExchanger(api.NewClient(api.ClientConfig{HTTPClient: fake.Client()}), fake.Endpoints().TokenURL)

	_, err := ex.Exchange(context.Background(), Credential{Key: "wrong", Secret: "wrong"})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
	if d, ok := apiErr.Last(); !ok || d.Code != 99 {
		t.Fatalf("unexpected error detail: %+v", d)
	}
}

func TestExchangeMalformedBodies(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>"},
		{name: "empty token", body: `{"token_type":"bearer","access_token":""}`},
		{name: "wrong type", body: `{"token_type":"mac","access_token":"abc"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			ex := NewExchanger(api.NewClient(api.ClientConfig{HTTPClient: srv.Client()}), srv.URL)
			if _, err := ex.Exchange(context.Background(), Credential{Key: "k", Secret: "s"}); !errors.Is(err, ErrAuth) {
				t.Fatalf("expected ErrAuth, got %v", err)
			}
		})
	}
}

func TestExchangeBlankCredentialSkipsNetwork(t *testing.T) {
	testlog.Start(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()
	ex := NewExchanger(api.NewClient(api.ClientConfig{HTTPClient: srv.Client()}), srv.URL)

	if _, err := ex.Exchange(context.Background(), Credential{Key: "k"}); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no outbound call, got %d", calls)
	}
}

func TestCredentialStringRedacts(t *testing.T) {
	testlog.Start(t)
	cred := Credential{Key: "consumer-key-123456", Secret: "consumer-secret-abcdef"}
	s := cred.String()
	if strings.Contains(s, cred.Key) || strings.Contains(s, cred.Secret) {
		t.Fatalf("credential string leaks: %s", s)
	}
	if got := (Credential{Key: "short", Secret: ""}).String(); got != `key=*** secret=""` {
		t.Fatalf("unexpected short redaction: %s", got)
	}
}
