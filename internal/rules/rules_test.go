package rules

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/danmuck/streamctl/internal/api"
	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/testutil/fakeapi"
	"github.com/danmuck/streamctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

var sampleRules = []Rule{
	{Value: "dog has:images", Tag: "dog pictures"},
	{Value: "cat has:images -grumpy", Tag: "cat pictures"},
}

func newManager(t *testing.T, fake *fakeapi.Server) *Manager {
	t.Helper()
	client := api.NewClient(api.ClientConfig{HTTPClient: fake.Client()})
	return NewManager(client, fake.Endpoints().RulesURL, auth.NewAccessToken(fakeapi.Token))
}

func valueTags(rules []Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Value+"|"+r.Tag)
	}
	sort.Strings(out)
	return out
}

func fakeValueTags(rules []fakeapi.Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Value+"|"+r.Tag)
	}
	sort.Strings(out)
	return out
}

func TestEmptyRuleListThenAdd(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	m := newManager(t, fake)
	ctx := context.Background()

	current, err := m.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if current.Rules != nil {
		t.Fatalf("expected nil rules for empty listing, got %+v", current.Rules)
	}

	ack, err := m.DeleteAll(ctx, current)
	if err != nil || ack != nil {
		t.Fatalf("expected delete no-op, ack=%+v err=%v", ack, err)
	}
	if fake.RulePosts() != 0 {
		t.Fatalf("delete no-op must not call the server, posts=%d", fake.RulePosts())
	}

	ack, err = m.Add(ctx, sampleRules)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if ack == nil || ack.Meta.Summary.Created != 2 || len(ack.Rules) != 2 {
		t.Fatalf("unexpected add ack: %+v", ack)
	}

	after, err := m.List(ctx)
	if err != nil {
		t.Fatalf("list after add: %v", err)
	}
	got := valueTags(after.Rules)
	want := valueTags(sampleRules)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected rules after add got=%v want=%v", got, want)
	}
	for _, r := range after.Rules {
		if r.ID == "" {
			t.Fatalf("listed rule missing server id: %+v", r)
		}
	}
}

func TestConvergeIsIdempotent(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	fake.SeedRules(fakeapi.Rule{Value: "bird", Tag: "old"}, fakeapi.Rule{Value: "fish", Tag: "old"}, fakeapi.Rule{Value: "frog"})
	m := newManager(t, fake)
	ctx := context.Background()

	first, err := m.Converge(ctx, sampleRules)
	if err != nil {
		t.Fatalf("first converge: %v", err)
	}
	if first.Deleted != 3 || first.Added != 2 {
		t.Fatalf("unexpected first result: %+v", first)
	}
	firstState := fakeValueTags(fake.Rules())

	second, err := m.Converge(ctx, sampleRules)
	if err != nil {
		t.Fatalf("second converge: %v", err)
	}
	if second.Deleted != 2 || second.Added != 2 {
		t.Fatalf("unexpected second result: %+v", second)
	}
	secondState := fakeValueTags(fake.Rules())

	if len(firstState) != 2 || len(secondState) != 2 {
		t.Fatalf("unexpected state sizes first=%v second=%v", firstState, secondState)
	}
	for i := range firstState {
		if firstState[i] != secondState[i] {
			t.Fatalf("converge not idempotent first=%v second=%v", firstState, secondState)
		}
	}
}

func TestDeleteAllMalformedSetIsNoop(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	m := newManager(t, fake)

	for _, set := range []RuleSet{{}, {Rules: []Rule{}}, {Rules: []Rule{{Value: "no id"}}}} {
		ack, err := m.DeleteAll(context.Background(), set)
		if err != nil || ack != nil {
			t.Fatalf("expected no-op for %+v, ack=%+v err=%v", set, ack, err)
		}
	}
	if fake.RulePosts() != 0 {
		t.Fatalf("expected no posts, got %d", fake.RulePosts())
	}
}

func TestDeleteAllWarnsOnRulesWithoutID(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	var logs bytes.Buffer
	m := newManager(t, fake).WithLogger(zerolog.New(&logs))

	set := RuleSet{Rules: []Rule{{Value: "dog has:images"}, {Value: "cat has:images"}}}
	ack, err := m.DeleteAll(context.Background(), set)
	if err != nil || ack != nil {
		t.Fatalf("expected no-op, ack=%+v err=%v", ack, err)
	}
	if !strings.Contains(logs.String(), `"without_id":2`) || !strings.Contains(logs.String(), `"level":"warn"`) {
		t.Fatalf("expected warning for id-less rules, logs=%s", logs.String())
	}

	logs.Reset()
	if _, err := m.DeleteAll(context.Background(), RuleSet{}); err != nil {
		t.Fatalf("empty delete: %v", err)
	}
	if logs.Len() != 0 {
		t.Fatalf("empty set should not warn, logs=%s", logs.String())
	}
}

func TestListFailure(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	fake.ListStatus = http.StatusServiceUnavailable
	m := newManager(t, fake)

	_, err := m.List(context.Background())
	if !errors.Is(err, ErrRuleQuery) {
		t.Fatalf("expected ErrRuleQuery, got %v", err)
	}
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected api error with status, got %v", err)
	}

	if _, err := m.Converge(context.Background(), sampleRules); !errors.Is(err, ErrRuleQuery) {
		t.Fatalf("converge should surface ErrRuleQuery, got %v", err)
	}
}

func TestUnauthorizedTokenFailsQuery(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	client := api.NewClient(api.ClientConfig{HTTPClient: fake.Client()})
	m := NewManager(client, fake.Endpoints().RulesURL, auth.NewAccessToken("stale"))

	if _, err := m.List(context.Background()); !errors.Is(err, ErrRuleQuery) {
		t.Fatalf("expected ErrRuleQuery, got %v", err)
	}
}

func TestAddRequiresCreatedStatus(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	fake.AddStatus = http.StatusOK
	m := newManager(t, fake)

	if _, err := m.Add(context.Background(), sampleRules); !errors.Is(err, ErrRuleMutation) {
		t.Fatalf("expected ErrRuleMutation for non-201 add, got %v", err)
	}
}

func TestDeleteFailure(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	fake.SeedRules(fakeapi.Rule{Value: "bird"})
	fake.DeleteStatus = http.StatusBadRequest
	m := newManager(t, fake)

	if _, err := m.Converge(context.Background(), sampleRules); !errors.Is(err, ErrRuleMutation) {
		t.Fatalf("expected ErrRuleMutation, got %v", err)
	}
	if len(fake.Rules()) != 1 {
		t.Fatalf("failed delete must leave rules untouched")
	}
}

func TestAddRejectsBlankValue(t *testing.T) {
	testlog.Start(t)
	fake := fakeapi.New(t)
	m := newManager(t, fake)

	_, err := m.Add(context.Background(), []Rule{{Value: "ok"}, {Value: "  ", Tag: "blank"}})
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if fake.RulePosts() != 0 {
		t.Fatalf("invalid rule must not reach the server")
	}
	if ack, err := m.Add(context.Background(), nil); ack != nil || err != nil {
		t.Fatalf("expected empty add no-op, ack=%+v err=%v", ack, err)
	}
}
