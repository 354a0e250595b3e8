package ipfilter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		allowed   []string
		wantCount int
		wantErr   bool
	}{
		{"empty list", nil, 0, false},
		{"single IP", []string{"192.168.1.1"}, 1, false},
		{"CIDR range", []string{"10.0.0.0/8"}, 1, false},
		{"with whitespace", []string{"  192.168.1.1  ", " 10.0.0.0/8 ", ""}, 2, false},
		{"IPv6", []string{"::1", "2001:db8::/32"}, 2, false},
		{"invalid IP", []string{"192.168.1.1", "invalid"}, 0, true},
		{"invalid CIDR", []string{"10.0.0.0/33"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.allowed, newTestLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && f.Count() != tt.wantCount {
				t.Errorf("Count() = %d, want %d", f.Count(), tt.wantCount)
			}
		})
	}
}

func TestFilter_Allows(t *testing.T) {
	f, err := New([]string{"192.168.1.100", "10.0.0.0/8", "::1", "fe80::/10"}, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.100", true},
		{"192.168.1.101", false},
		{"10.20.30.40", true},
		{"11.0.0.1", false},
		{"::ffff:10.0.0.1", true},
		{"::1", true},
		{"fe80::1", true},
		{"2001:db8::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := f.Allows(netip.MustParseAddr(tt.ip)); got != tt.want {
				t.Errorf("Allows(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}

	open, _ := New(nil, newTestLogger())
	if !open.Allows(netip.MustParseAddr("203.0.113.9")) {
		t.Error("empty filter should allow everyone")
	}
}

func TestFilter_Middleware(t *testing.T) {
	f, err := New([]string{"10.0.0.0/8"}, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}

	handler := f.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       int
	}{
		{"allowed", "10.1.2.3:5555", "", http.StatusOK},
		{"denied", "192.168.1.1:5555", "", http.StatusForbidden},
		{"forwarded header is not trusted", "192.168.1.1:5555", "10.1.2.3", http.StatusForbidden},
		{"no port", "10.1.2.3", "", http.StatusOK},
		{"garbage", "not-an-ip", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
