package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("k", "v")

	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("expected cached value, got %v ok=%v", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("remote:a", 1)
	c.Set("remote:b", 2)
	c.Set("local:a", 3)

	c.InvalidatePrefix("remote:")

	if _, ok := c.Get("remote:a"); ok {
		t.Error("expected remote:a invalidated")
	}
	if _, ok := c.Get("local:a"); !ok {
		t.Error("expected local:a retained")
	}
}

func TestRateLimiterBlocksAndRefills(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	// First two tokens are immediate.
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}

	// Third must wait for a refill.
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("third wait: %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Errorf("expected third token to wait for refill, waited %v", time.Since(start))
	}
}

func TestRateLimiterContextCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	_ = rl.Wait(context.Background()) // drain the only token

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context error when no tokens available")
	}
}

func TestInflightLimiterBoundsConcurrency(t *testing.T) {
	lim := NewInflightLimiter(2)
	ctx := context.Background()

	var inflight, peak int64
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_ = lim.Acquire(ctx)
			n := atomic.AddInt64(&inflight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&inflight, -1)
			lim.Release()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if p := atomic.LoadInt64(&peak); p > 2 {
		t.Errorf("in-flight budget exceeded: peak %d", p)
	}
}

func TestDoGetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, status, err := DoGet(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if status != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", status)
	}
	se, ok := err.(*HTTPStatusError)
	if !ok {
		t.Fatalf("expected *HTTPStatusError, got %T", err)
	}
	if !se.Retryable() {
		t.Error("429 should be retryable")
	}
}

func TestDoGetSendsHeaders(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, _, err := DoGet(context.Background(), srv.URL, map[string]string{"User-Agent": "finfiles-test"})
	if err != nil {
		t.Fatalf("DoGet failed: %v", err)
	}
	body.Close()
	if gotUA != "finfiles-test" {
		t.Errorf("expected custom user agent, got %q", gotUA)
	}
}
