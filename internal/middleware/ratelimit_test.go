package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/cortexsync/internal/model"
)

func testLimiterConfig(generalBurst, scanBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    generalBurst,
		ScanStartRate:   rate.Limit(10.0 / 60.0),
		ScanStartBurst:  scanBurst,
		CleanupInterval: time.Minute,
	}
}

func requestFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/scans", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 1))
	defer rl.Stop()

	count := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
	}))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:1234"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
	if count != 5 {
		t.Errorf("handler call count = %d, want 5", count)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(2, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.2:1"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.2:2"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
}

func TestRateLimitMiddleware_IndependentPerClient(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.3:1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.4:1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("別クライアントは独立して制限されるべき: status = %d", w.Result().StatusCode)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimitMiddleware_AuthenticatedKeyedByUser(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	withUser := func(addr string) *http.Request {
		req := requestFrom(addr)
		return req.WithContext(ContextWithIdentity(req.Context(), model.Identity{ID: 42}))
	}

	handler.ServeHTTP(httptest.NewRecorder(), withUser("10.0.0.5:1"))

	// 接続元が変わっても同じユーザーは同じ枠を消費する
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withUser("10.0.0.6:1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
}

func TestScanStartMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(100, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(rl.ScanStartMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.7:1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first scan start: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.7:1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("second scan start: status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
	// 10 req/min のRetry-Afterは6秒
	if got := w.Result().Header.Get("Retry-After"); got != "6" {
		t.Errorf("Retry-After = %q, want %q", got, "6")
	}
	if rl.ScanStartLimiterCount() != 1 {
		t.Errorf("ScanStartLimiterCount = %d, want 1", rl.ScanStartLimiterCount())
	}
}

func TestRateLimiter_CleanupEvictsStaleEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		ScanStartRate:   1,
		ScanStartBurst:  1,
		CleanupInterval: time.Hour,
	})
	defer rl.Stop()

	rl.general.get("ip:stale")
	rl.general.limiters["ip:stale"].lastAccess = time.Now().Add(-3 * time.Hour)
	rl.general.get("ip:fresh")

	rl.cleanup()

	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}
	if _, ok := rl.general.limiters["ip:fresh"]; !ok {
		t.Error("最近アクセスされたエントリは残るべき")
	}
}

func TestPerMinuteConfig(t *testing.T) {
	cfg := PerMinuteConfig(120, 10)
	if cfg.GeneralRate != rate.Limit(2) {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 || cfg.ScanStartBurst != 10 {
		t.Errorf("burst = %d/%d, want 120/10", cfg.GeneralBurst, cfg.ScanStartBurst)
	}

	// 0以下はデフォルトに戻す
	if got := PerMinuteConfig(0, -1); got.GeneralBurst != 120 || got.ScanStartBurst != 10 {
		t.Errorf("defaults = %d/%d, want 120/10", got.GeneralBurst, got.ScanStartBurst)
	}

	// Stopは複数回呼び出してもよい
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}
