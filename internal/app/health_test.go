package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"helppages/api/internal/metrics"
	"helppages/api/internal/subdomain"
)

func newTestServer(svc *Service) *HTTPServer {
	return NewHTTPServer(svc, ServerOptions{CORSOrigin: "*", RootDomain: "helppages.test"})
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newTestService(&fakeStore{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected a generated X-Request-ID header")
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error {
			return nil
		},
	}
	server := newTestServer(newTestService(fs, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}
	checks, _ := response["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["status"] != "ok" {
		t.Errorf("expected database.status=ok, got %v", database["status"])
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	server := newTestServer(newTestService(fs, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["ok"] != false || response["status"] != "not_ready" {
		t.Errorf("expected ok=false status=not_ready, got %v %v", response["ok"], response["status"])
	}
	checks, _ := response["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["error"] != "connection refused" {
		t.Errorf("expected database error to be reported, got %v", database["error"])
	}
}

func TestOptionsPreflight(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, nil), ServerOptions{CORSOrigin: "https://app.helppages.test"})

	req := httptest.NewRequest(http.MethodOptions, "/api/docs", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.helppages.test" {
		t.Fatalf("unexpected CORS origin %q", got)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	server := newTestServer(newTestService(&fakeStore{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected X-Request-ID req-42, got %q", got)
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	server := newTestServer(newTestService(&fakeStore{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	server := NewHTTPServer(newTestService(&fakeStore{}, nil), ServerOptions{Metrics: m})

	server.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "helppages_http_requests_total") {
		t.Fatalf("expected request counter in metrics output, got %s", rr.Body.String())
	}
}

type recordingHandler struct {
	path string
	slug string
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.path = r.URL.Path
	h.slug = subdomain.FromRequest(r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}

func TestSubdomainRequestsReachSite(t *testing.T) {
	site := &recordingHandler{}
	server := NewHTTPServer(newTestService(&fakeStore{}, nil), ServerOptions{RootDomain: "helppages.test", Site: site})

	req := httptest.NewRequest(http.MethodGet, "/guides/setup", nil)
	req.Host = "acme.helppages.test"
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if site.path != "/_site/acme/guides/setup" || site.slug != "acme" {
		t.Fatalf("unexpected rewrite path=%q slug=%q", site.path, site.slug)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("expected site content type, got %q", ct)
	}
}

func TestDirectSitePathIsBlocked(t *testing.T) {
	site := &recordingHandler{}
	server := NewHTTPServer(newTestService(&fakeStore{}, nil), ServerOptions{RootDomain: "helppages.test", Site: site})

	req := httptest.NewRequest(http.MethodGet, "/_site/acme/", nil)
	req.Host = "helppages.test"
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if site.path != "" {
		t.Fatalf("site handler should not be reached, got %q", site.path)
	}
}
