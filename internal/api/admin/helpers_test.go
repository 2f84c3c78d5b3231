package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"

	"github.com/naap-platform/naap-runtime/internal/audit"
	"github.com/naap-platform/naap-runtime/internal/auth"
	"github.com/naap-platform/naap-runtime/internal/crypto"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/gateway/guard"
	"github.com/naap-platform/naap-runtime/internal/gateway/probe"
	"github.com/naap-platform/naap-runtime/internal/gateway/resolve"
	"github.com/naap-platform/naap-runtime/internal/gateway/templates"
	"github.com/naap-platform/naap-runtime/internal/jobs"
)

const (
	testJWTSecret = "admin-test-jwt-secret"
	testTeamID    = "team-alpha"
	testUserID    = "user-1"
	testCron      = "cron-shared-secret"
	knownID       = "11111111-2222-3333-4444-555555555555"
)

var errDB = errors.New("db failure")

func jsonBody(v interface{}) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

// mintSession signs an HS256 session token the way the identity service does.
func mintSession(t *testing.T, userID string, teams ...string) string {
	t.Helper()
	claims := auth.SessionClaims{
		Email:   userID + "@example.com",
		TeamIDs: teams,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign session token: %v", err)
	}
	return token
}

// authedRequest carries a valid session for testUserID and the team header.
func authedRequest(t *testing.T, method, target string, body io.Reader) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+mintSession(t, testUserID, testTeamID))
	req.Header.Set("x-team-id", testTeamID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// adminEnv assembles the full admin surface against one sqlmock database.
type adminEnv struct {
	mock     sqlmock.Sqlmock
	router   *gin.Engine
	resolver *resolve.Cache
	cipher   *crypto.SecretCipher
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	db, mock := newMockDB(t)

	connectorRepo := repositories.NewConnectorRepository(db)
	templateRepo := repositories.NewTemplateRepository(db)
	planRepo := repositories.NewPlanRepository(db)
	keyRepo := repositories.NewGatewayKeyRepository(db)
	healthRepo := repositories.NewHealthCheckRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	cipher, err := crypto.NewSecretCipher(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("NewSecretCipher: %v", err)
	}

	sessions := auth.NewSessionValidator(testJWTSecret, "")
	teamGuard := guard.New(sessions, connectorRepo)
	resolver := resolve.New(connectorRepo, time.Minute)
	tester := probe.NewTester(time.Second, 500*time.Millisecond, cipher)
	templateSvc := templates.NewService(templateRepo, connectorRepo)
	auditor := audit.NewLogger(auditRepo)
	healthJob := jobs.NewHealthCheckJob(connectorRepo, healthRepo, tester, jobs.Config{
		Concurrency:  2,
		ProbeTimeout: time.Second,
	})

	connectorHandlers := NewConnectorHandlers(teamGuard, connectorRepo, healthRepo, resolver, tester, cipher, auditor)
	templateHandlers := NewTemplateHandlers(templateSvc, resolver, auditor)
	keyHandlers := NewKeyHandlers(teamGuard, keyRepo, planRepo, auditor)
	planHandlers := NewPlanHandlers(planRepo, auditor)
	healthHandlers := NewHealthCheckHandlers(teamGuard, healthJob, testCron, auditor)
	auditHandlers := NewAuditHandlers(auditRepo)

	r := gin.New()
	r.POST("/api/v1/gw/admin/health/check", healthHandlers.Run())
	grp := r.Group("/api/v1/gw/admin")
	grp.Use(teamGuard.Middleware())
	{
		grp.GET("/connectors", connectorHandlers.List())
		grp.POST("/connectors", connectorHandlers.Create())
		grp.GET("/connectors/:id", connectorHandlers.Get())
		grp.PUT("/connectors/:id", connectorHandlers.Update())
		grp.DELETE("/connectors/:id", connectorHandlers.Delete())
		grp.POST("/connectors/:id/test", connectorHandlers.Test())
		grp.GET("/connectors/:id/health", connectorHandlers.Health())

		grp.GET("/templates", templateHandlers.List())
		grp.POST("/templates", templateHandlers.Apply())

		grp.GET("/keys", keyHandlers.List())
		grp.POST("/keys", keyHandlers.Create())
		grp.DELETE("/keys/:id", keyHandlers.Revoke())

		grp.GET("/plans", planHandlers.List())
		grp.POST("/plans", planHandlers.Create())
		grp.GET("/plans/:id", planHandlers.Get())
		grp.PUT("/plans/:id", planHandlers.Update())
		grp.DELETE("/plans/:id", planHandlers.Delete())

		grp.GET("/audit", auditHandlers.List())
	}

	return &adminEnv{mock: mock, router: r, resolver: resolver, cipher: cipher}
}

// Column sets matching the repository SELECT lists.

var connectorCols = []string{
	"id", "slug", "name", "team_id", "owner_user_id", "upstream_base_url",
	"allowed_hosts", "auth_type", "auth_config", "secret_refs",
	"health_check_path", "status", "version", "created_at", "updated_at",
}

var planCols = []string{
	"id", "team_id", "name", "requests_per_minute", "burst", "quota_per_day",
	"created_at", "updated_at",
}

var keyCols = []string{
	"id", "team_id", "connector_id", "plan_id", "name", "key_hash", "key_prefix",
	"expires_at", "last_used_at", "created_at",
}

var auditCols = []string{
	"id", "action", "resource", "resource_id", "user_id", "team_id",
	"ip_address", "user_agent", "details", "status", "created_at",
}

func connectorRow(id, slug, status string) *sqlmock.Rows {
	return sqlmock.NewRows(connectorCols).AddRow(
		id, slug, "Weather API", testTeamID, nil, "https://api.example.com",
		[]byte(`["api.example.com"]`), "api_key", []byte(`{"key":"plain-secret"}`), []byte(`[]`),
		"/status", status, 1, time.Now(), time.Now(),
	)
}

func planRow(id, name string, rpm, burst int) *sqlmock.Rows {
	return sqlmock.NewRows(planCols).AddRow(
		id, testTeamID, name, rpm, burst, nil, time.Now(), time.Now(),
	)
}

func keyRow(id, connectorID, planID string) *sqlmock.Rows {
	return sqlmock.NewRows(keyCols).AddRow(
		id, testTeamID, connectorID, planID, "ci key", "$2a$12$fakehash", "ngk_abcdefgh",
		nil, nil, time.Now(),
	)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response body: %v: %s", err, w.Body.String())
	}
	return out
}
