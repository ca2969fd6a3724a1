package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kuitang/carsphere-qa/internal/obs"
)

func clientGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`(session|ip):[a-z0-9]{8,32}`)
}

// =============================================================================
// Property: requests within the burst succeed
// =============================================================================

func testLimiter_WithinBurstAllowed(t *rapid.T) {
	burst := rapid.IntRange(1, 200).Draw(t, "burst")
	l := New(Config{RPS: 0.001, Burst: burst, CleanupInterval: time.Hour})
	defer l.Stop()

	client := clientGenerator().Draw(t, "client")
	for i := 0; i < burst; i++ {
		if !l.Allow(client) {
			t.Fatalf("request %d of burst %d was blocked", i+1, burst)
		}
	}
	if l.Allow(client) {
		t.Fatalf("request beyond burst %d was allowed", burst)
	}
}

func TestLimiter_WithinBurstAllowed(t *testing.T) {
	rapid.Check(t, testLimiter_WithinBurstAllowed)
}

// =============================================================================
// Property: clients have independent buckets
// =============================================================================

func testLimiter_ClientIndependence(t *rapid.T) {
	l := New(Config{RPS: 0.001, Burst: 3, CleanupInterval: time.Hour})
	defer l.Stop()

	a := clientGenerator().Draw(t, "a")
	b := clientGenerator().Filter(func(s string) bool { return s != a }).Draw(t, "b")

	for i := 0; i < 3; i++ {
		l.Allow(a)
	}
	if l.Allow(a) {
		t.Fatal("client a should be blocked after exhausting its burst")
	}
	if !l.Allow(b) {
		t.Fatal("client b should be unaffected by client a")
	}
	if got := l.Len(); got != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", got)
	}
}

func TestLimiter_ClientIndependence(t *testing.T) {
	rapid.Check(t, testLimiter_ClientIndependence)
}

func TestLimiter_CleanupForgetsIdleClients(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1, CleanupInterval: 20 * time.Millisecond})
	defer l.Stop()

	l.Allow("ip:127.0.0.1")
	if l.Len() != 1 {
		t.Fatalf("expected 1 client, got %d", l.Len())
	}
	time.Sleep(30 * time.Millisecond)
	l.Cleanup()
	if l.Len() != 0 {
		t.Fatalf("expected idle client to be forgotten, got %d", l.Len())
	}
}

func TestLimiter_ZeroCleanupIntervalUsesDefault(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	defer l.Stop()

	if l.config.CleanupInterval != DefaultConfig.CleanupInterval {
		t.Fatalf("cleanup interval mismatch: got=%v want=%v", l.config.CleanupInterval, DefaultConfig.CleanupInterval)
	}
	if !l.Allow("ip:127.0.0.1") {
		t.Fatal("first request should be allowed")
	}
}

func TestLimiter_StopTwice(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1, CleanupInterval: time.Hour})
	l.Stop()
	l.Stop()
}

func TestLimiter_ConcurrentClients(t *testing.T) {
	l := New(Config{RPS: 0.001, Burst: 10, CleanupInterval: time.Hour})
	defer l.Stop()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("session:shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := allowed.Load(); got != 10 {
		t.Fatalf("expected exactly the burst of 10 to pass, got %d", got)
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	if got := ClientKey(r); got != "ip:10.0.0.7" {
		t.Fatalf("ClientKey without session = %q", got)
	}
	r.Header.Set(obs.SessionHeader, "abc")
	if got := ClientKey(r); got != "session:abc" {
		t.Fatalf("ClientKey with session = %q", got)
	}
}

func TestMiddleware_Returns429WithRetryAfter(t *testing.T) {
	l := New(Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour})
	defer l.Stop()

	h := Middleware(l, ClientKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/get-users", nil)
		r.Header.Set(obs.SessionHeader, "s1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			if w.Header().Get("Retry-After") != "1" {
				t.Fatalf("missing Retry-After on 429")
			}
		} else if w.Header().Get("X-RateLimit-Remaining") == "" {
			t.Fatalf("missing X-RateLimit-Remaining on allowed request")
		}
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != 429 {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	// Another session is unaffected.
	r := httptest.NewRequest(http.MethodGet, "/get-users", nil)
	r.Header.Set(obs.SessionHeader, "s2")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("second session got %d", w.Code)
	}
}
