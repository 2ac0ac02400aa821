package app

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"replyguard/config"
)

type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, prompt string) (string, error) {
	// Reply with the masked content so restoration is observable.
	idx := strings.Index(prompt, "Original email: \n")
	return "Re: " + prompt[idx+len("Original email: \n"):], nil
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Auth.Users = map[string]string{"alice": string(hash)}
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}

	a, err := New(context.Background(), cfg, Options{Completer: echoCompleter{}})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func serve(a *App, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestNew_RejectsBadUserHash(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Users = map[string]string{"alice": "not-a-hash"}

	_, err := New(context.Background(), cfg, Options{Completer: echoCompleter{}})
	assert.ErrorContains(t, err, "authentication")
}

func TestApp_GenerateRoundTrip(t *testing.T) {
	a := newTestApp(t, nil)

	rec := serve(a, http.MethodPost, "/api/email/generate",
		`{"emailContent":"Call me on +91 9876543210 or mail ravi@example.com"}`, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Re: Call me on +91 9876543210 or mail ravi@example.com", rec.Body.String())
}

func TestApp_LoginThenGenerateUsesOwnQuota(t *testing.T) {
	a := newTestApp(t, nil)

	for i := 0; i < 4; i++ {
		rec := serve(a, http.MethodPost, "/api/email/generate", `{"emailContent":"hi"}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := serve(a, http.MethodPost, "/api/email/generate", `{"emailContent":"hi"}`, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	login := serve(a, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"pw"}`, "")
	require.Equal(t, http.StatusOK, login.Code)
	token := strings.Split(strings.Split(login.Body.String(), `"token":"`)[1], `"`)[0]

	rec = serve(a, http.MethodPost, "/api/email/generate", `{"emailContent":"hi"}`, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_MetricsExposeDecisions(t *testing.T) {
	a := newTestApp(t, nil)

	serve(a, http.MethodPost, "/api/email/generate", `{"emailContent":"mail a@b.com"}`, "")

	rec := serve(a, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `replyguard_ratelimit_decisions_total{pool="generation",result="permitted"} 1`)
	assert.Contains(t, body, `replyguard_masked_spans_total{category="EMAIL"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestApp_ShutdownIdempotent(t *testing.T) {
	a := newTestApp(t, nil)

	require.NoError(t, a.Shutdown(context.Background()))
	assert.NoError(t, a.Shutdown(context.Background()))
}

func TestApp_AuditLogPersistsOutcomes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.StorageType = "sqlite"
		cfg.Audit.SQLitePath = dbPath
	})

	serve(a, http.MethodPost, "/api/email/generate", `{"emailContent":"mail a@b.com"}`, "")
	serve(a, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong"}`, "")

	// Shutdown flushes the buffered entries.
	require.NoError(t, a.Shutdown(context.Background()))

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT action, identity, outcome, masked_spans FROM audit_logs ORDER BY action")
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		action, identity, outcome string
		spans                     int
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.action, &r.identity, &r.outcome, &r.spans))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []row{
		{"generate", "anonymous", "ok", 1},
		{"login", "alice", "invalid_credentials", 0},
	}, got)
}
