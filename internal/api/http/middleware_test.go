package apihttp

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	handler.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get(requestIDHeader) != "abc-123" {
		t.Fatalf("expected caller id to be kept, got ctx=%q header=%q", seen, rec.Header().Get(requestIDHeader))
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req.Header.Set(requestIDHeader, "has spaces in it")
	handler.ServeHTTP(rec, req)
	if seen == "" || seen == "has spaces in it" || len(seen) != 36 {
		t.Fatalf("expected a generated uuid, got %q", seen)
	}
	if rec.Header().Get(requestIDHeader) != seen {
		t.Fatalf("response id %q does not match context id %q", rec.Header().Get(requestIDHeader), seen)
	}
}

func TestClientLimiterIsPerClient(t *testing.T) {
	limiter := newClientLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("10.0.0.1") {
		t.Fatalf("first request should pass")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatalf("second request in the same instant should be limited")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatalf("another client must have its own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.allow("10.0.0.1") {
		t.Fatalf("bucket should refill after a second")
	}
}

func TestClientLimiterSweepsIdleBuckets(t *testing.T) {
	limiter := newClientLimiter(10, 10)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	limiter.allow("stale")
	now = now.Add(clientBucketIdle + time.Minute)
	limiter.allow("fresh")
	limiter.mu.Lock()
	limiter.sweepLocked(now)
	_, staleKept := limiter.buckets["stale"]
	_, freshKept := limiter.buckets["fresh"]
	limiter.mu.Unlock()
	if staleKept || !freshKept {
		t.Fatalf("unexpected buckets after sweep: stale=%v fresh=%v", staleKept, freshKept)
	}
}

func TestClientIPTrustsForwardingOnlyFromProxies(t *testing.T) {
	proxies, invalid := parseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.1 ", "not-an-ip"})
	if len(proxies) != 2 || len(invalid) != 1 || invalid[0] != "not-an-ip" {
		t.Fatalf("unexpected parse: proxies=%v invalid=%v", proxies, invalid)
	}

	cases := []struct {
		name   string
		remote string
		xff    string
		realIP string
		want   string
	}{
		{"direct client ignores headers", "203.0.113.9:4000", "198.51.100.1", "198.51.100.2", "203.0.113.9"},
		{"trusted proxy forwards client", "10.1.2.3:4000", "198.51.100.1", "", "198.51.100.1"},
		{"spoofed hop before proxy chain", "10.1.2.3:4000", "1.1.1.1, 198.51.100.1, 10.9.9.9", "", "198.51.100.1"},
		{"all hops trusted", "192.0.2.1:80", "10.0.0.5, 10.0.0.6", "", "10.0.0.5"},
		{"real ip from trusted proxy", "192.0.2.1:80", "", "198.51.100.7", "198.51.100.7"},
		{"trusted proxy without headers", "10.1.2.3:4000", "", "", "10.1.2.3"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		if tc.realIP != "" {
			req.Header.Set("X-Real-IP", tc.realIP)
		}
		if got := proxies.clientIP(req); got != tc.want {
			t.Errorf("%s: clientIP = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRateLimitIgnoresRotatedForwardedFor(t *testing.T) {
	handler := rateLimitMiddleware(newClientLimiter(1, 1), nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusNoContent || statuses[1] != http.StatusTooManyRequests || statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For must not reset the bucket: %v", statuses)
	}
}
