package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"options-core/internal/events"
	"options-core/internal/monitor"
	"options-core/internal/orchestrator"
	"options-core/internal/session"
	"options-core/pkg/db"
	"options-core/pkg/venue"
)

type stubControl struct {
	running     map[string]bool
	startErr    error
	stopErr     error
	updateErr   error
	lastUpdate  *session.Update
	lastCreds   venue.Credentials
	lastAccount string
}

func (s *stubControl) Start(ctx context.Context, account string, creds venue.Credentials, pushToken string, update *session.Update) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.lastAccount = account
	s.lastCreds = creds
	s.lastUpdate = update
	s.running[strings.ToLower(account)] = true
	return nil
}

func (s *stubControl) Stop(account string) error {
	if s.stopErr != nil {
		return s.stopErr
	}
	delete(s.running, strings.ToLower(account))
	return nil
}

func (s *stubControl) Update(account string, u session.Update) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.lastUpdate = &u
	return nil
}

func (s *stubControl) Status(ctx context.Context, account string) session.Status {
	state := session.StateStopped
	if s.running[strings.ToLower(account)] {
		state = session.StateIdle
	}
	return session.Status{Account: strings.ToLower(account), State: state, UpdatedAt: time.Now()}
}

func (s *stubControl) Logs(account string) []string {
	if s.running[strings.ToLower(account)] {
		return []string{"connected", "scanning"}
	}
	return nil
}

func (s *stubControl) Signals(ctx context.Context, account string) ([]byte, error) {
	return []byte(`[]`), nil
}

func (s *stubControl) List() []session.Status {
	out := make([]session.Status, 0, len(s.running))
	for acct := range s.running {
		out = append(out, session.Status{Account: acct, State: session.StateIdle})
	}
	return out
}

func (s *stubControl) Running(account string) bool {
	return s.running[strings.ToLower(account)]
}

func newTestServer(t *testing.T, control Controller) *Server {
	t.Helper()
	return NewServer(events.NewBus(), nil, control, monitor.NewSystemMetrics(), "test-secret")
}

func authHeader(t *testing.T, secret string) string {
	t.Helper()
	token, err := generateToken("user-1", secret, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("generateToken: %v", err)
	}
	return "Bearer " + token
}

func doRequest(t *testing.T, srv *Server, method, path, body, auth string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubControl{running: map[string]bool{}})
	w := doRequest(t, srv, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", w.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv := newTestServer(t, &stubControl{running: map[string]bool{}})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/sessions"},
		{http.MethodPost, "/api/sessions/acct/start"},
		{http.MethodPost, "/api/sessions/acct/stop"},
		{http.MethodGet, "/api/sessions/acct/status"},
		{http.MethodGet, "/api/metrics"},
	}
	for _, p := range paths {
		w := doRequest(t, srv, p.method, p.path, "{}", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", p.method, p.path, w.Code)
		}
	}
}

func TestStartSession(t *testing.T) {
	control := &stubControl{running: map[string]bool{}}
	srv := newTestServer(t, control)
	auth := authHeader(t, srv.JWTSecret)

	body := `{"identifier":"trader@example.com","secret":"pw","config":{"strategy":"rsi_reversal"}}`
	w := doRequest(t, srv, http.MethodPost, "/api/sessions/Trader1/start", body, auth)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body %s", w.Code, w.Body.String())
	}
	if !control.running["trader1"] {
		t.Error("controller never saw the start")
	}
	if control.lastCreds.Identifier != "trader@example.com" {
		t.Errorf("credentials not forwarded: %+v", control.lastCreds)
	}
	if control.lastUpdate == nil || control.lastUpdate.Strategy == nil || *control.lastUpdate.Strategy != "rsi_reversal" {
		t.Errorf("config update not forwarded: %+v", control.lastUpdate)
	}
}

func TestStartSessionRejectsMissingCredentials(t *testing.T) {
	srv := newTestServer(t, &stubControl{running: map[string]bool{}})
	auth := authHeader(t, srv.JWTSecret)

	w := doRequest(t, srv, http.MethodPost, "/api/sessions/acct/start", `{"identifier":""}`, auth)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("start without credentials = %d, want 400", w.Code)
	}
}

func TestStartSessionConflict(t *testing.T) {
	control := &stubControl{running: map[string]bool{}, startErr: orchestrator.ErrAlreadyRunning}
	srv := newTestServer(t, control)
	auth := authHeader(t, srv.JWTSecret)

	body := `{"identifier":"a","secret":"b"}`
	w := doRequest(t, srv, http.MethodPost, "/api/sessions/acct/start", body, auth)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate start = %d, want 409", w.Code)
	}
}

func TestStopSessionNotRunning(t *testing.T) {
	control := &stubControl{running: map[string]bool{}, stopErr: orchestrator.ErrNotRunning}
	srv := newTestServer(t, control)
	auth := authHeader(t, srv.JWTSecret)

	w := doRequest(t, srv, http.MethodPost, "/api/sessions/acct/stop", "", auth)
	if w.Code != http.StatusNotFound {
		t.Fatalf("stop of idle account = %d, want 404", w.Code)
	}
}

func TestUpdateSessionConfig(t *testing.T) {
	control := &stubControl{running: map[string]bool{"acct": true}}
	srv := newTestServer(t, control)
	auth := authHeader(t, srv.JWTSecret)

	w := doRequest(t, srv, http.MethodPut, "/api/sessions/acct/config", `{"amount": 2.5}`, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("config update = %d, body %s", w.Code, w.Body.String())
	}
	if control.lastUpdate == nil || control.lastUpdate.Amount == nil || *control.lastUpdate.Amount != 2.5 {
		t.Errorf("update not forwarded: %+v", control.lastUpdate)
	}
}

func TestSessionStatusIncludesRunningFlag(t *testing.T) {
	control := &stubControl{running: map[string]bool{"acct": true}}
	srv := newTestServer(t, control)
	auth := authHeader(t, srv.JWTSecret)

	w := doRequest(t, srv, http.MethodGet, "/api/sessions/acct/status", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Running bool            `json:"running"`
		Status  json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Running {
		t.Error("running flag not set for live session")
	}
}

func TestSessionLogsEmptyWhenStopped(t *testing.T) {
	srv := newTestServer(t, &stubControl{running: map[string]bool{}})
	auth := authHeader(t, srv.JWTSecret)

	w := doRequest(t, srv, http.MethodGet, "/api/sessions/acct/logs", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("logs = %d", w.Code)
	}
	var resp struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Logs == nil {
		t.Error("logs should be an empty array, not null")
	}
}

func TestAccountParamIsNormalized(t *testing.T) {
	control := &stubControl{running: map[string]bool{}}
	srv := newTestServer(t, control)
	auth := authHeader(t, srv.JWTSecret)

	body := `{"identifier":"a","secret":"b"}`
	w := doRequest(t, srv, http.MethodPost, "/api/sessions/User@Example.COM/start", body, auth)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start = %d, body %s", w.Code, w.Body.String())
	}
	if control.lastAccount != "user@example.com" {
		t.Errorf("controller saw account %q, want user@example.com", control.lastAccount)
	}
}

func TestBlankAccountRejected(t *testing.T) {
	srv := newTestServer(t, &stubControl{running: map[string]bool{}})
	auth := authHeader(t, srv.JWTSecret)

	// A whitespace-only path segment normalizes to nothing.
	w := doRequest(t, srv, http.MethodPost, "/api/sessions/%20/start", `{"identifier":"a","secret":"b"}`, auth)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank account = %d, want 400", w.Code)
	}
}

func TestUpdatePushToken(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	ctx := context.Background()
	user := db.User{ID: "user-1", Email: "a@x.com", PasswordHash: "h", PushToken: "old"}
	if err := database.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	srv := NewServer(events.NewBus(), database, &stubControl{running: map[string]bool{}}, monitor.NewSystemMetrics(), "test-secret")
	auth := authHeader(t, srv.JWTSecret) // token carries user-1

	w := doRequest(t, srv, http.MethodPut, "/api/profile/push-token", `{"push_token":"ExponentPushToken[new]"}`, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("push token update = %d, body %s", w.Code, w.Body.String())
	}
	got, err := database.GetUserByEmail(ctx, "a@x.com")
	if err != nil || got == nil {
		t.Fatalf("GetUserByEmail: (%+v, %v)", got, err)
	}
	if got.PushToken != "ExponentPushToken[new]" {
		t.Errorf("push token = %q, want ExponentPushToken[new]", got.PushToken)
	}

	// Empty token is rejected, stored value untouched.
	w = doRequest(t, srv, http.MethodPut, "/api/profile/push-token", `{"push_token":""}`, auth)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty push token = %d, want 400", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubControl{running: map[string]bool{}})
	auth := authHeader(t, srv.JWTSecret)

	w := doRequest(t, srv, http.MethodGet, "/api/metrics", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "scans_completed") {
		t.Errorf("metrics payload missing counters: %s", w.Body.String())
	}
}
