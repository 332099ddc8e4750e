package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onevisitor/onevisitor/internal/app"
	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/domain/analytics"
	"github.com/onevisitor/onevisitor/internal/logging"
)

const chromeUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:  "test-secret",
			Issuer:     "onevisitor",
			AccessTTL:  time.Minute,
			RefreshTTL: time.Hour,
		},
		Tracking: config.TrackingConfig{
			SessionIdleTimeout: 30 * time.Minute,
			MaxMetadataBytes:   1024,
		},
		CORS:      config.CORSConfig{AllowedOrigins: "*"},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
	application, err := app.New(cfg, app.Stores{}, logging.NewDefault("test"))
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	return NewHandler(application, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", chromeUA)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// registerAndLogin provisions an account and returns its access token.
func registerAndLogin(t *testing.T, handler http.Handler, email string) string {
	t.Helper()
	rec := doJSON(t, handler, "POST", "/api/v1/auth/register", "", map[string]string{
		"email": email, "password": "swordfish-42",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, "POST", "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": "swordfish-42",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	decodeBody(t, rec, &login)
	if login.Tokens.AccessToken == "" {
		t.Fatal("login returned no access token")
	}
	return login.Tokens.AccessToken
}

// createSite provisions a site and returns its ID and tracking code.
func createSite(t *testing.T, handler http.Handler, token, domain string) (string, string) {
	t.Helper()
	rec := doJSON(t, handler, "POST", "/api/v1/sites", token, map[string]string{
		"name": "Test Site", "domain": domain,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create site: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID           string `json:"id"`
		TrackingCode string `json:"tracking_code"`
	}
	decodeBody(t, rec, &created)
	return created.ID, created.TrackingCode
}

func TestHealthAndReady(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
	rec = doJSON(t, handler, "GET", "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /ready, got %d", rec.Code)
	}
}

func TestReadinessFailure(t *testing.T) {
	cfg := &config.Config{
		Auth:      config.AuthConfig{JWTSecret: "test-secret"},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
	application, err := app.New(cfg, app.Stores{}, logging.NewDefault("test"))
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	handler := NewHandler(application, func(context.Context) error {
		return errors.New("database is down")
	})

	rec := doJSON(t, handler, "GET", "/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the store is unreachable, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, "GET", "/api/v1/sites", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "owner@example.com")

	rec := doJSON(t, handler, "GET", "/api/v1/users/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var me struct {
		Email string `json:"email"`
	}
	decodeBody(t, rec, &me)
	if me.Email != "owner@example.com" {
		t.Fatalf("expected own account, got %q", me.Email)
	}
}

func TestCollectFeedsAnalytics(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "owner@example.com")
	siteID, code := createSite(t, handler, token, "example.com")

	// the collect endpoint is public
	rec := doJSON(t, handler, "POST", "/api/v1/tracker/collect", "", map[string]string{
		"tracking_code": code,
		"url":           "https://example.com/pricing",
		"path":          "/pricing",
		"title":         "Pricing",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("collect: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, "GET", fmt.Sprintf("/api/v1/sites/%s/analytics/summary", siteID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary analytics.Summary
	decodeBody(t, rec, &summary)
	if summary.PageViews != 1 || summary.UniqueVisitors != 1 {
		t.Fatalf("expected one view by one visitor, got %+v", summary)
	}

	rec = doJSON(t, handler, "GET", fmt.Sprintf("/api/v1/sites/%s/analytics/pages", siteID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pages: expected 200, got %d", rec.Code)
	}
	var pages []analytics.PageStat
	decodeBody(t, rec, &pages)
	if len(pages) != 1 || pages[0].Path != "/pricing" {
		t.Fatalf("expected /pricing in top pages, got %+v", pages)
	}
}

func TestCollectRejectionsStayQuiet(t *testing.T) {
	handler := newTestHandler(t)

	// unknown tracking codes must not be distinguishable from accepted hits
	rec := doJSON(t, handler, "POST", "/api/v1/tracker/collect", "", map[string]string{
		"tracking_code": "ov-ffffffffffffffff",
		"url":           "https://example.com/",
		"path":          "/",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for unknown code, got %d", rec.Code)
	}
}

func TestAnalyticsAccessControl(t *testing.T) {
	handler := newTestHandler(t)
	owner := registerAndLogin(t, handler, "owner@example.com")
	outsider := registerAndLogin(t, handler, "outsider@example.com")
	siteID, _ := createSite(t, handler, owner, "example.com")

	rec := doJSON(t, handler, "GET", fmt.Sprintf("/api/v1/sites/%s/analytics/summary", siteID), outsider, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for outsider, got %d", rec.Code)
	}
}

func TestAnalyticsRejectsBadRange(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "owner@example.com")
	siteID, _ := createSite(t, handler, token, "example.com")

	rec := doJSON(t, handler, "GET", fmt.Sprintf("/api/v1/sites/%s/analytics/summary?start=yesterday", siteID), token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed start, got %d", rec.Code)
	}
}

func TestSiteSnippet(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "owner@example.com")
	siteID, code := createSite(t, handler, token, "example.com")

	rec := doJSON(t, handler, "GET", fmt.Sprintf("/api/v1/sites/%s/snippet", siteID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snippet struct {
		TrackingCode string `json:"tracking_code"`
		Snippet      string `json:"snippet"`
	}
	decodeBody(t, rec, &snippet)
	if snippet.TrackingCode != code {
		t.Fatalf("expected code %q, got %q", code, snippet.TrackingCode)
	}
	if !strings.Contains(snippet.Snippet, code) || !strings.Contains(snippet.Snippet, "tracker.js") {
		t.Fatalf("snippet does not reference the tracker script: %q", snippet.Snippet)
	}
}

func TestTrackerScriptServed(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, "GET", "/tracker.js", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/javascript") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "tracker/collect") {
		t.Fatal("script does not point at the collect endpoint")
	}
}

func TestAdminEndpointsRequireStaff(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "regular@example.com")

	rec := doJSON(t, handler, "GET", "/api/v1/admin/system", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-staff, got %d", rec.Code)
	}
}

func TestLiveFeedStreamsHits(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "owner@example.com")
	siteID, code := createSite(t, handler, token, "example.com")

	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") +
		fmt.Sprintf("/api/v1/tracker/live/%s?token=%s", siteID, token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial live feed: %v", err)
	}
	defer conn.Close()

	// give the server goroutine a beat to register the subscription
	time.Sleep(100 * time.Millisecond)

	rec := doJSON(t, handler, "POST", "/api/v1/tracker/collect", "", map[string]string{
		"tracking_code": code,
		"url":           "https://example.com/",
		"path":          "/",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("collect: expected 204, got %d", rec.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg liveMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read live message: %v", err)
	}
	if msg.SiteID != siteID || msg.Kind != "pageview" || msg.Path != "/" {
		t.Fatalf("unexpected live message %+v", msg)
	}
}

func TestLiveFeedRejectsBadToken(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "owner@example.com")
	siteID, _ := createSite(t, handler, token, "example.com")

	rec := doJSON(t, handler, "GET", fmt.Sprintf("/api/v1/tracker/live/%s?token=garbage", siteID), "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}
