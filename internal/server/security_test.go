package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func applyHeaders(t *testing.T, cfg SecurityConfig) http.Header {
	t.Helper()
	handler := securityHeaders(cfg)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler(inner).ServeHTTP(rec, req)
	return rec.Header()
}

func TestSecurityHeaders_CSPOmitsUnsafeInline(t *testing.T) {
	csp := applyHeaders(t, SecurityConfig{BaseURL: "https://app.test"}).Get("Content-Security-Policy")
	if strings.Contains(csp, "'unsafe-inline'") {
		t.Errorf("CSP should not contain 'unsafe-inline', got: %s", csp)
	}
}

func TestSecurityHeaders_CSPIncludesStorageEndpoint(t *testing.T) {
	csp := applyHeaders(t, SecurityConfig{
		BaseURL:         "https://app.test",
		StorageEndpoint: "https://storage.example.com",
	}).Get("Content-Security-Policy")

	if !strings.Contains(csp, "media-src 'self' blob: data: https://storage.example.com") {
		t.Errorf("CSP media-src should include storage endpoint, got: %s", csp)
	}
	if !strings.Contains(csp, "img-src 'self' data: https://storage.example.com") {
		t.Errorf("CSP img-src should include storage endpoint, got: %s", csp)
	}
	if !strings.Contains(csp, "connect-src 'self' ws: wss: https://storage.example.com") {
		t.Errorf("CSP connect-src should include storage endpoint, got: %s", csp)
	}
}

func TestSecurityHeaders_CSPAllowsWebsockets(t *testing.T) {
	csp := applyHeaders(t, SecurityConfig{BaseURL: "https://app.test"}).Get("Content-Security-Policy")
	if !strings.Contains(csp, "connect-src 'self' ws: wss:") {
		t.Errorf("CSP connect-src should allow websockets, got: %s", csp)
	}
}

func TestSecurityHeaders_CSPAllowsBlobMedia(t *testing.T) {
	// Preloaded videos are handed to the player as blob sources.
	csp := applyHeaders(t, SecurityConfig{BaseURL: "https://app.test"}).Get("Content-Security-Policy")
	if !strings.Contains(csp, "media-src 'self' blob:") {
		t.Errorf("CSP media-src should allow blob:, got: %s", csp)
	}
}

func TestSecurityHeaders_HSTSOnHTTPS(t *testing.T) {
	hsts := applyHeaders(t, SecurityConfig{BaseURL: "https://app.test"}).Get("Strict-Transport-Security")
	if hsts == "" {
		t.Error("expected HSTS header for HTTPS base URL")
	}
}

func TestSecurityHeaders_NoHSTSOnHTTP(t *testing.T) {
	hsts := applyHeaders(t, SecurityConfig{BaseURL: "http://localhost:8080"}).Get("Strict-Transport-Security")
	if hsts != "" {
		t.Errorf("expected no HSTS for HTTP base URL, got: %s", hsts)
	}
}

func TestSecurityHeaders_FrameAncestors(t *testing.T) {
	csp := applyHeaders(t, SecurityConfig{BaseURL: "https://app.test"}).Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-ancestors 'self'") {
		t.Errorf("CSP should contain frame-ancestors 'self', got: %s", csp)
	}
}

func TestSecurityHeaders_PermissionsPolicyDeniesCapture(t *testing.T) {
	pp := applyHeaders(t, SecurityConfig{BaseURL: "https://app.test"}).Get("Permissions-Policy")
	if !strings.Contains(pp, "camera=()") || !strings.Contains(pp, "microphone=()") {
		t.Errorf("Permissions-Policy should deny camera and microphone, got: %s", pp)
	}
	if !strings.Contains(pp, "screen-wake-lock=(self)") {
		t.Errorf("Permissions-Policy should allow wake lock for tour playback, got: %s", pp)
	}
}
