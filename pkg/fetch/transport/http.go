package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPDialer performs the plain HTTP reachability probe used before an
// RRDP notification fetch: a conditional GET's success is judged purely
// on status code, leaving body parsing to pkg/rrdp. Dial runs a cheap
// TCP preflight against the URL's host first, the same pairing
// rsyncFetch does with TCPDialer ahead of the rsync child process, so a
// closed port fails fast with its own message instead of waiting out
// the full HTTP client timeout.
type HTTPDialer struct {
	// URL is the full HTTP URL to check (typically the RRDP notification
	// file's URL).
	URL string

	// Method is the HTTP method to use (default: GET).
	Method string

	// Headers are custom HTTP headers to include in the request, e.g.
	// If-None-Match / If-Modified-Since for a conditional GET.
	Headers map[string]string

	// ExpectedStatusMin/Max bound the acceptable HTTP status range
	// (default: 200-399, since 304 Not Modified is a healthy outcome
	// for a conditional RRDP fetch).
	ExpectedStatusMin int
	ExpectedStatusMax int

	// Client is the HTTP client to use (allows custom configuration).
	Client *http.Client

	// PreflightTimeout bounds the TCP preflight dial (default: 3s).
	PreflightTimeout time.Duration
}

// NewHTTPDialer creates a new HTTP dial primitive.
func NewHTTPDialer(rawURL string) *HTTPDialer {
	return &HTTPDialer{
		URL:               rawURL,
		Method:            "GET",
		Headers:           make(map[string]string),
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
		PreflightTimeout: 3 * time.Second,
	}
}

// Dial runs the TCP preflight, then the HTTP reachability probe.
func (h *HTTPDialer) Dial(ctx context.Context) Result {
	start := time.Now()

	if addr := httpHostPort(h.URL); addr != "" {
		probe := NewTCPDialer(addr).WithTimeout(h.PreflightTimeout)
		if pre := probe.Dial(ctx); !pre.Healthy {
			return finish(false, fmt.Sprintf("preflight: %s", pre.Message), start)
		}
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return finish(false, fmt.Sprintf("failed to create request: %v", err), start)
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return finish(false, fmt.Sprintf("request failed: %v", err), start)
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= h.ExpectedStatusMin && resp.StatusCode <= h.ExpectedStatusMax
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}
	return finish(healthy, message, start)
}

func finish(healthy bool, message string, start time.Time) Result {
	return Result{Healthy: healthy, Message: message, CheckedAt: start, Duration: time.Since(start)}
}

// httpHostPort derives the host:port an HTTP(S) URL's preflight should
// dial, defaulting the port by scheme when the URL omits one. Returns ""
// on an unparseable or hostless URL, in which case Dial skips the
// preflight and lets the HTTP request itself report the failure.
func httpHostPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return u.Hostname() + ":" + port
}

// Protocol reports this dialer's transport.
func (h *HTTPDialer) Protocol() Protocol {
	return ProtocolRRDP
}

// WithMethod sets the HTTP method.
func (h *HTTPDialer) WithMethod(method string) *HTTPDialer {
	h.Method = method
	return h
}

// WithHeader adds a custom HTTP header.
func (h *HTTPDialer) WithHeader(key, value string) *HTTPDialer {
	h.Headers[key] = value
	return h
}

// WithStatusRange sets the expected status code range.
func (h *HTTPDialer) WithStatusRange(min, max int) *HTTPDialer {
	h.ExpectedStatusMin = min
	h.ExpectedStatusMax = max
	return h
}

// WithTimeout sets the HTTP client timeout.
func (h *HTTPDialer) WithTimeout(timeout time.Duration) *HTTPDialer {
	h.Client.Timeout = timeout
	return h
}
