// Package fakeapi is an in-process stand-in for the remote token, rules and
// stream endpoints. Rules live in memory; stream connections follow scripts.
package fakeapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/streamctl/internal/api"
)

const (
	Key    = "test-key"
	Secret = "test-secret"
	Token  = "AAAAtest-bearer-token"
)

// Rule mirrors the wire shape of one stored rule.
type Rule struct {
	ID    string `json:"id,omitempty"`
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

// Script drives one stream connection. done closes when the fake shuts down.
type Script func(w http.ResponseWriter, r *http.Request, done <-chan struct{})

type Server struct {
	srv  *httptest.Server
	done chan struct{}
	once sync.Once

	mu          sync.Mutex
	rules       []Rule
	nextID      int
	scripts     []Script
	connections int
	posts       int

	// Status overrides; zero means normal behavior.
	TokenStatus  int
	ListStatus   int
	DeleteStatus int
	AddStatus    int
}

func New(t testing.TB) *Server {
	t.Helper()
	return start(t, false)
}

// NewTLS serves over HTTPS. Client trusts the server certificate.
func NewTLS(t testing.TB) *Server {
	t.Helper()
	return start(t, true)
}

func start(t testing.TB, useTLS bool) *Server {
	s := &Server{
		done:   make(chan struct{}),
		nextID: 1000,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", s.handleToken)
	mux.HandleFunc("/rules", s.handleRules)
	mux.HandleFunc("/stream", s.handleStream)
	if useTLS {
		s.srv = httptest.NewTLSServer(mux)
	} else {
		s.srv = httptest.NewServer(mux)
	}
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Close() {
	s.once.Do(func() {
		close(s.done)
		s.srv.CloseClientConnections()
		s.srv.Close()
	})
}

func (s *Server) URL() string {
	return s.srv.URL
}

func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

func (s *Server) Endpoints() api.Endpoints {
	return api.Endpoints{
		TokenURL:  s.srv.URL + "/oauth2/token",
		RulesURL:  s.srv.URL + "/rules",
		StreamURL: s.srv.URL + "/stream",
	}
}

// SeedRules stores rules as if a previous run had added them.
func (s *Server) SeedRules(rules ...Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		s.nextID++
		r.ID = strconv.Itoa(s.nextID)
		s.rules = append(s.rules, r)
	}
}

func (s *Server) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// RulePosts counts mutation calls against the rules endpoint.
func (s *Server) RulePosts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts
}

// Script queues behaviors for successive stream connections. The last script
// repeats once the queue is exhausted.
func (s *Server) Script(scripts ...Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, scripts...)
}

func (s *Server) StreamConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.TokenStatus != 0 {
		writeJSON(w, s.TokenStatus, map[string]any{
			"errors": []map[string]any{{"code": 99, "message": "Unable to verify your credentials"}},
		})
		return
	}
	user, pass, ok := r.BasicAuth()
	if r.Method != http.MethodPost || !ok || user != Key || pass != Secret {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"errors": []map[string]any{{"code": 99, "message": "Unable to verify your credentials"}},
		})
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errors": []map[string]any{{"code": 170, "message": "Missing required parameter: grant_type"}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token_type": "bearer", "access_token": Token})
}

func (s *Server) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+Token
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"title": "Unauthorized", "detail": "Unauthorized"})
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.listRules(w)
	case http.MethodPost:
		s.mutateRules(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) listRules(w http.ResponseWriter) {
	if s.ListStatus != 0 {
		writeJSON(w, s.ListStatus, map[string]any{"title": "Service Unavailable"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := map[string]any{"sent": time.Now().UTC().Format(time.RFC3339), "result_count": len(s.rules)}
	if len(s.rules) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"meta": meta})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.rules, "meta": meta})
}

type mutation struct {
	Add    []Rule `json:"add"`
	Delete *struct {
		IDs []string `json:"ids"`
	} `json:"delete"`
}

func (s *Server) mutateRules(w http.ResponseWriter, r *http.Request) {
	var req mutation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"title": "Invalid Request", "detail": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts++
	sent := time.Now().UTC().Format(time.RFC3339)

	if req.Delete != nil {
		if s.DeleteStatus != 0 {
			writeJSON(w, s.DeleteStatus, map[string]any{"title": "Delete Failed"})
			return
		}
		drop := make(map[string]struct{}, len(req.Delete.IDs))
		for _, id := range req.Delete.IDs {
			drop[id] = struct{}{}
		}
		kept := s.rules[:0]
		deleted := 0
		for _, rule := range s.rules {
			if _, ok := drop[rule.ID]; ok {
				deleted++
				continue
			}
			kept = append(kept, rule)
		}
		s.rules = kept
		writeJSON(w, http.StatusOK, map[string]any{
			"meta": map[string]any{
				"sent":    sent,
				"summary": map[string]int{"deleted": deleted, "not_deleted": len(req.Delete.IDs) - deleted},
			},
		})
		return
	}

	if len(req.Add) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"title": "Invalid Request", "detail": "empty request"})
		return
	}
	if s.AddStatus != 0 {
		writeJSON(w, s.AddStatus, map[string]any{"title": "Add Failed"})
		return
	}
	created := make([]Rule, 0, len(req.Add))
	for _, rule := range req.Add {
		s.nextID++
		rule.ID = strconv.Itoa(s.nextID)
		s.rules = append(s.rules, rule)
		created = append(created, rule)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"data": created,
		"meta": map[string]any{
			"sent":    sent,
			"summary": map[string]int{"created": len(created), "not_created": 0, "valid": len(created), "invalid": 0},
		},
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"title": "Unauthorized", "detail": "Unauthorized"})
		return
	}
	s.mu.Lock()
	idx := s.connections
	s.connections++
	var script Script
	switch {
	case len(s.scripts) == 0:
		script = Hold()
	case idx < len(s.scripts):
		script = s.scripts[idx]
	default:
		script = s.scripts[len(s.scripts)-1]
	}
	s.mu.Unlock()
	script(w, r, s.done)
}

// Lines writes each line followed by "\r\n", flushing after each, then holds
// the connection open until the client goes away.
func Lines(lines ...string) Script {
	return func(w http.ResponseWriter, r *http.Request, done <-chan struct{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		flush(w)
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\r\n"))
			flush(w)
		}
		wait(r, done)
	}
}

// LinesThenClose writes lines and ends the response, producing a clean EOF.
func LinesThenClose(lines ...string) Script {
	return func(w http.ResponseWriter, r *http.Request, done <-chan struct{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\r\n"))
			flush(w)
		}
	}
}

// Hold answers 200 and sends nothing, which trips the idle timeout.
func Hold() Script {
	return Lines()
}

// Status answers with a non-success status and a problem body.
func Status(code int, title string) Script {
	return func(w http.ResponseWriter, r *http.Request, done <-chan struct{}) {
		writeJSON(w, code, map[string]any{"title": title, "detail": strings.ToLower(title)})
	}
}

func wait(r *http.Request, done <-chan struct{}) {
	select {
	case <-r.Context().Done():
	case <-done:
	}
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
