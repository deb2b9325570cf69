package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPDialerHealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	dialer := NewHTTPDialer(server.URL)
	result := dialer.Dial(context.Background())

	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
	if result.Duration <= 0 {
		t.Error("expected positive duration")
	}
}

func TestHTTPDialerUnhealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dialer := NewHTTPDialer(server.URL)
	result := dialer.Dial(context.Background())

	if result.Healthy {
		t.Errorf("expected unhealthy, got healthy: %s", result.Message)
	}
}

func TestHTTPDialerNotModifiedIsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	dialer := NewHTTPDialer(server.URL)
	result := dialer.Dial(context.Background())

	if !result.Healthy {
		t.Errorf("expected 304 Not Modified to be healthy for a conditional GET, got: %s", result.Message)
	}
}

func TestHTTPDialerTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dialer := NewHTTPDialer(server.URL).WithTimeout(50 * time.Millisecond)
	result := dialer.Dial(context.Background())

	if result.Healthy {
		t.Errorf("expected unhealthy due to timeout, got healthy: %s", result.Message)
	}
}

func TestHTTPDialerCustomHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != `"abc123"` {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	dialer := NewHTTPDialer(server.URL).WithHeader("If-None-Match", `"abc123"`)
	result := dialer.Dial(context.Background())

	if !result.Healthy {
		t.Errorf("expected healthy with conditional header honored, got: %s", result.Message)
	}
}

func TestHTTPDialerPreflightFailsFastOnClosedPort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	closedURL := server.URL
	server.Close() // the listener is now closed; the port should refuse connections

	dialer := NewHTTPDialer(closedURL).WithTimeout(2 * time.Second)
	start := time.Now()
	result := dialer.Dial(context.Background())
	elapsed := time.Since(start)

	if result.Healthy {
		t.Error("expected unhealthy against a closed port")
	}
	if elapsed >= 2*time.Second {
		t.Errorf("expected the TCP preflight to fail well inside the HTTP client timeout, took %s", elapsed)
	}
}

func TestHTTPHostPortDefaultsByScheme(t *testing.T) {
	cases := map[string]string{
		"http://rpki.example/notify.xml":      "rpki.example:80",
		"https://rpki.example/notify.xml":     "rpki.example:443",
		"https://rpki.example:8443/notify.xml": "rpki.example:8443",
		"not a url":                            "",
	}
	for rawURL, want := range cases {
		if got := httpHostPort(rawURL); got != want {
			t.Errorf("httpHostPort(%q) = %q, want %q", rawURL, got, want)
		}
	}
}

func TestHTTPDialerProtocol(t *testing.T) {
	dialer := NewHTTPDialer("https://rpki.example/notify.xml")
	if dialer.Protocol() != ProtocolRRDP {
		t.Errorf("expected protocol %s, got %s", ProtocolRRDP, dialer.Protocol())
	}
}
