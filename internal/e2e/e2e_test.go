package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/config"
	"github.com/pledgeflow/reconciler/internal/idgen"
	"github.com/pledgeflow/reconciler/internal/migration"
	"github.com/pledgeflow/reconciler/internal/observability"
	"github.com/pledgeflow/reconciler/internal/scheduler"
	"github.com/pledgeflow/reconciler/internal/seed"
	"github.com/pledgeflow/reconciler/internal/server"
	"github.com/pledgeflow/reconciler/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app       *fx.App
	db        *gorm.DB
	baseURL   string
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resetDatabase(t, env.db)

	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_BootstrapDefaultOrgAndAdmin(t *testing.T) {
	resetDatabase(t, env.db)

	org := struct {
		ID        int64
		Name      string
		Slug      string
		IsDefault bool
	}{}
	if err := env.db.Raw(
		`SELECT id, name, slug, is_default FROM organizations WHERE slug = ?`,
		"main",
	).Scan(&org).Error; err != nil {
		t.Fatalf("query default org: %v", err)
	}
	if org.ID == 0 || !org.IsDefault {
		t.Fatalf("default org not found")
	}

	user := struct {
		ID        int64
		Email     string
		IsDefault bool
	}{}
	if err := env.db.Raw(
		`SELECT id, email, is_default FROM users WHERE email = ?`,
		"admin@pledgeflow.local",
	).Scan(&user).Error; err != nil {
		t.Fatalf("query admin user: %v", err)
	}
	if user.ID == 0 || !user.IsDefault {
		t.Fatalf("default admin not found")
	}

	client, orgID := loginAdmin(t)
	if orgID == "" {
		t.Fatalf("expected org id after login")
	}

	reqURL := env.baseURL + "/auth/user/orgs"
	resp, body := doJSON(t, client, http.MethodGet, reqURL, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for orgs, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_PledgeWebhookIngest(t *testing.T) {
	resetDatabase(t, env.db)

	client, orgID := loginAdmin(t)
	apiKey := createAPIKey(t, client, orgID)

	donorEmail := fmt.Sprintf("e2e-%d@example.com", time.Now().UnixNano())
	webhookReq := map[string]any{
		"donor_name":  "E2E Donor",
		"donor_email": donorEmail,
		"country":     "US",
		"chapter":     "East",
		"affiliation": "Alumni",
		"duration":    "Month",
		"pledge_type": "One-Time",
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/api/webhooks/pledge-form", webhookReq, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for pledge webhook, got %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		PledgeRef string `json:"pledge_ref"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode pledge webhook response: %v", err)
	}
	if strings.TrimSpace(payload.PledgeRef) == "" {
		t.Fatalf("expected pledge_ref in response")
	}

	if countRows(t, env.db, "pledges", "donor_email = ?", donorEmail) != 1 {
		t.Fatalf("expected pledge row persisted for donor")
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/api/webhooks/pledge-form", webhookReq, map[string]string{
		"Authorization": "Bearer invalid",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for invalid api key, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/api/summary", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for read api summary, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_AuditLog(t *testing.T) {
	resetDatabase(t, env.db)

	client, orgID := loginAdmin(t)
	apiKey := createAPIKey(t, client, orgID)

	donorEmail := fmt.Sprintf("e2e-audit-%d@example.com", time.Now().UnixNano())
	webhookReq := map[string]any{
		"donor_name":  "E2E Audit Donor",
		"donor_email": donorEmail,
		"country":     "US",
		"chapter":     "East",
		"affiliation": "Alumni",
		"duration":    "Month",
		"pledge_type": "One-Time",
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/api/webhooks/pledge-form", webhookReq, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for pledge webhook, got %d: %s", resp.StatusCode, string(body))
	}

	logEntry := auditdomain.AuditLog{}
	if err := env.db.Raw(
		`SELECT id, actor_type, target_type, action FROM audit_logs WHERE action = ? ORDER BY created_at DESC LIMIT 1`,
		"pledge_created",
	).Scan(&logEntry).Error; err != nil {
		t.Fatalf("query audit log: %v", err)
	}
	if logEntry.ID == 0 {
		t.Fatalf("expected audit log entry")
	}
	if logEntry.ActorType != auditdomain.ActorTypeSystem {
		t.Fatalf("expected actor_type system, got %s", logEntry.ActorType)
	}
	if logEntry.TargetType != "pledge" {
		t.Fatalf("expected target_type pledge, got %s", logEntry.TargetType)
	}
}

func TestE2E_SchedulerRunOnce(t *testing.T) {
	resetDatabase(t, env.db)

	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
}

func startEnv() (*testEnv, error) {
	var (
		engine      *gin.Engine
		dbConn      *gorm.DB
		cfg         config.Config
		schedulerSv *scheduler.Scheduler
	)

	app := fx.New(
		observability.Module,
		idgen.Module,
		db.Module,
		clock.Module,
		server.Module,
		scheduler.Module,
		migration.Module,
		fx.Populate(&engine, &cfg, &schedulerSv),
		fx.Populate(fx.Annotated{Name: "operations", Target: &dbConn}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if strings.ToLower(strings.TrimSpace(cfg.Operations.Type)) != "postgres" {
		app.Stop(context.Background())
		return nil, fmt.Errorf("expected postgres db, got %s", cfg.Operations.Type)
	}

	httpSrv := httptest.NewServer(engine)

	return &testEnv{
		app:       app,
		db:        dbConn,
		baseURL:   httpSrv.URL,
		scheduler: schedulerSv,
		httpSrv:   httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("APP_MODE", "oss")
	setEnvIfEmpty("ENSURE_DEFAULT_ORG_AND_USER", "true")
	setEnvIfEmpty("AUTH_COOKIE_SECURE", "false")
	setEnvIfEmpty("LOG_LEVEL", "error")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	if err := truncateAllTables(dbConn); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	if err := seed.EnsureMainOrgAndAdmin(dbConn); err != nil {
		t.Fatalf("seed default org and admin: %v", err)
	}
}

func truncateAllTables(dbConn *gorm.DB) error {
	type tableRow struct {
		Name string `gorm:"column:tablename"`
	}
	var rows []tableRow
	if err := dbConn.Raw(
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename <> 'schema_migrations'`,
	).Scan(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Name) == "" {
			continue
		}
		tables = append(tables, `"`+row.Name+`"`)
	}
	if len(tables) == 0 {
		return nil
	}

	stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	return dbConn.Exec(stmt).Error
}

func loginAdmin(t *testing.T) (*http.Client, string) {
	t.Helper()
	client := newHTTPClient()

	req := map[string]any{
		"email":    "admin@pledgeflow.local",
		"password": "admin",
	}
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/auth/login", req, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d: %s", resp.StatusCode, string(body))
	}

	baseURL, err := url.Parse(env.baseURL)
	if err == nil {
		cookies := client.Jar.Cookies(baseURL)
		found := false
		for _, cookie := range cookies {
			if cookie.Name == "_sid" && strings.TrimSpace(cookie.Value) != "" {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected session cookie after login")
		}
	}

	reqURL := env.baseURL + "/auth/user/orgs"
	resp, body = doJSON(t, client, http.MethodGet, reqURL, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list orgs failed: %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Orgs []struct {
			ID string `json:"id"`
		} `json:"orgs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode orgs: %v", err)
	}
	if len(payload.Orgs) == 0 {
		t.Fatalf("no orgs returned")
	}

	orgID := strings.TrimSpace(payload.Orgs[0].ID)

	useURL := env.baseURL + "/auth/user/using/" + orgID
	resp, body = doJSON(t, client, http.MethodPost, useURL, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("use org failed: %d: %s", resp.StatusCode, string(body))
	}

	return client, orgID
}

func createAPIKey(t *testing.T, client *http.Client, orgID string) string {
	t.Helper()
	headers := map[string]string{server.HeaderOrg: orgID}
	req := map[string]any{"name": "E2E Key"}
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/admin/api-keys", req, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create api key failed: %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode api key response: %v", err)
	}
	if strings.TrimSpace(payload.APIKey) == "" {
		t.Fatalf("expected api key value")
	}
	return payload.APIKey
}

func countRows(t *testing.T, dbConn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := dbConn.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func mustParseID(t *testing.T, value string) snowflake.ID {
	t.Helper()
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		t.Fatalf("invalid snowflake id: %s", value)
	}
	return parsed
}

func doJSON(t *testing.T, client *http.Client, method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func newHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: 15 * time.Second,
		Jar:     jar,
	}
}
