package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pillara/pillara/internal/config"
	"github.com/pillara/pillara/internal/platform/auth"
	"github.com/pillara/pillara/internal/platform/db"
	"github.com/pillara/pillara/internal/platform/events"
	"github.com/pillara/pillara/internal/platform/metrics"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:            env,
		StoreDriver:    config.DriverMemory,
		CORSOrigins:    []string{"*"},
		RequestTimeout: 5 * time.Second,
		BodyLimit:      "1M",
		JWTSigningKey:  testSigningKey,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	t.Cleanup(st.Close)
	return newServer(cfg, serverDeps{
		store:   st,
		logger:  zerolog.Nop(),
		metrics: metrics.New(),
		pub:     events.Nop{},
		loc:     time.UTC,
	})
}

func call(e *echo.Echo, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	e := newTestServer(t, testConfig("development"))

	rec := call(e, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("/health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("global middleware missing: %v", rec.Header())
	}

	rec = call(e, http.MethodGet, "/health/db", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"memory"`) {
		t.Errorf("/health/db = %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_MedicationAndDoseFlow(t *testing.T) {
	e := newTestServer(t, testConfig("development"))
	user := map[string]string{auth.DevUserHeader: "alice"}

	rec := call(e, http.MethodPost, "/api/v1/medications",
		`{"name":"Amlodipine","dosage":"5mg","frequency":"Daily","pill_count":5}`, user)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var med struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &med)

	rec = call(e, http.MethodPost, "/api/v1/doses", `{"medication_id":"`+med.ID+`","status":"Taken"}`, user)
	if rec.Code != http.StatusCreated {
		t.Fatalf("log dose: %d %s", rec.Code, rec.Body.String())
	}

	// The decrement bumped the version, so version 1 is stale now.
	rec = call(e, http.MethodPut, "/api/v1/medications/"+med.ID, `{"version":1,"dosage":"10mg"}`, user)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale update: expected 409, got %d %s", rec.Code, rec.Body.String())
	}
	rec = call(e, http.MethodPut, "/api/v1/medications/"+med.ID, `{"version":2,"dosage":"10mg"}`, user)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh update: %d %s", rec.Code, rec.Body.String())
	}

	rec = call(e, http.MethodGet, "/api/v1/doses/adherence?days=abc", "", user)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"adherence_percent":100`) {
		t.Errorf("adherence: %d %s", rec.Code, rec.Body.String())
	}

	rec = call(e, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pillara_medication_update_conflicts_total 1") {
		t.Errorf("metrics missing conflict count: %d", rec.Code)
	}
}

func TestServer_RequiresTokenOutsideDevelopment(t *testing.T) {
	cfg := testConfig("production")
	e := newTestServer(t, cfg)

	rec := call(e, http.MethodGet, "/api/v1/medications", "", map[string]string{auth.DevUserHeader: "alice"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, err := auth.IssueToken(jwtConfig(cfg), "alice", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	rec = call(e, http.MethodGet, "/api/v1/medications", "", map[string]string{echo.HeaderAuthorization: "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig("development")
	cfg.StoreDriver = config.DriverSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "pillara.db")
	st, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	if err := st.health.Ping(ctx); err != nil {
		t.Errorf("sqlite ping: %v", err)
	}
	st.Close()

	cfg.StoreDriver = "cassandra"
	if _, err := openStore(ctx, cfg); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestMigrationSource_Embedded(t *testing.T) {
	data, err := fs.ReadFile(migrationSource(""), "001_medication.sql")
	if err != nil {
		t.Fatalf("read embedded migration: %v", err)
	}
	if !strings.Contains(string(data), "version") {
		t.Error("medication migration lacks the version column")
	}
}

func TestPrintStatus(t *testing.T) {
	applied := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, "public", []db.MigrationStatus{
		{Version: 1, Name: "001_medication.sql", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "002_dose_log.sql"},
	})
	out := buf.String()
	if !strings.Contains(out, "2024-03-01 10:00:00") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected status output:\n%s", out)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("STORE_DRIVER", config.DriverMemory)
	t.Setenv("JWT_SIGNING_KEY", testSigningKey)

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--user", "alice", "--ttl", "5m"})
	if err := root.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out.String()), "."); len(parts) != 3 {
		t.Errorf("expected a JWT, got %q", out.String())
	}

	root = rootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token"})
	if err := root.Execute(); err == nil {
		t.Error("expected error without --user")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	jsonLog := newLogger(&buf, false)
	jsonLog.Info().Msg("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON, got %q", buf.String())
	}
	buf.Reset()
	consoleLog := newLogger(&buf, true)
	consoleLog.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected console output, got %q", buf.String())
	}
}
