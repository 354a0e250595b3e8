package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServer_Handler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()
	m.TemplatesTotal.Set(4)

	s, err := NewServer(m, ":0", "/metrics", []string{"10.0.0.0/8"}, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		wantStatus int
		wantBody   string
	}{
		{"allowed scrape", "/metrics", "10.0.0.5:1234", http.StatusOK, "ultrazend_templates_total 4"},
		{"denied scrape", "/metrics", "192.168.0.5:1234", http.StatusForbidden, ""},
		{"health is open", "/health", "192.168.0.5:1234", http.StatusOK, "OK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body missing %q:\n%s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestNewServer_InvalidAllowedIPs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewServer(New(), ":0", "", []string{"bogus"}, logger); err == nil {
		t.Error("NewServer() expected error for invalid allowed_ips")
	}
}
