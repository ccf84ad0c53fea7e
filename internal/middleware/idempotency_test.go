package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/showgrid/seat-reservation/internal/cache"
	"github.com/showgrid/seat-reservation/internal/config"
)

// memStore is an in-memory ResponseCache.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return nil
}

// memLock is an in-memory Locker.
type memLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLock() *memLock { return &memLock{held: make(map[string]bool)} }

func (m *memLock) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *memLock) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

func idemCfg() config.IdempotencyConfig {
	return config.IdempotencyConfig{
		ResponseTTL:  10 * time.Minute,
		LockTTL:      30 * time.Second,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  100 * time.Millisecond,
	}
}

// newIdemEcho builds an Echo app with one idempotent POST route whose
// handler counts executions.
func newIdemEcho(store ResponseCache, locks Locker, calls *int64, delay time.Duration) *echo.Echo {
	e := echo.New()
	auth := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(CtxUserID, uint64(7))
			return next(c)
		}
	}
	e.POST("/reserve", func(c echo.Context) error {
		atomic.AddInt64(calls, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return c.JSON(http.StatusCreated, echo.Map{"n": atomic.LoadInt64(calls)})
	}, auth, Idempotency(store, locks, idemCfg()))
	return e
}

func doPost(e *echo.Echo, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/reserve", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysCachedResponse(t *testing.T) {
	var calls int64
	e := newIdemEcho(newMemStore(), newMemLock(), &calls, 0)

	first := doPost(e, "k1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.Code)
	}
	second := doPost(e, "k1")
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", second.Code)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Error("replay missing X-Idempotent-Replay header")
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replay body %q differs from original %q", second.Body.String(), first.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestIdempotencyDistinctKeysExecuteSeparately(t *testing.T) {
	var calls int64
	e := newIdemEcho(newMemStore(), newMemLock(), &calls, 0)

	doPost(e, "k1")
	doPost(e, "k2")
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2 for distinct keys", calls)
	}
}

func TestIdempotencyNoHeaderPassesThrough(t *testing.T) {
	var calls int64
	e := newIdemEcho(newMemStore(), newMemLock(), &calls, 0)

	doPost(e, "")
	doPost(e, "")
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2 without a key", calls)
	}
}

func TestIdempotencyConcurrentRequestsRunOnce(t *testing.T) {
	var calls int64
	e := newIdemEcho(newMemStore(), newMemLock(), &calls, 20*time.Millisecond)

	const n = 8
	recs := make([]*httptest.ResponseRecorder, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			recs[i] = doPost(e, "same")
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	// every caller converges on the winner's exact response
	body := recs[0].Body.String()
	for i, rec := range recs {
		if rec.Code != http.StatusCreated {
			t.Errorf("request %d: status = %d, want 201 (replayed or original)", i, rec.Code)
		}
		if rec.Body.String() != body {
			t.Errorf("request %d: body %q differs from %q", i, rec.Body.String(), body)
		}
	}
}

func TestIdempotencyPollTimeoutConflicts(t *testing.T) {
	var calls int64
	store := newMemStore()
	locks := newMemLock()
	e := newIdemEcho(store, locks, &calls, 0)

	// simulate a winner that holds the lock and never finishes
	ok, _ := locks.Acquire(context.Background(), cache.KeyIdempotencyLock(7, "slow"), 0)
	if !ok {
		t.Fatal("setup: lock acquire failed")
	}

	rec := doPost(e, "slow")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 after poll timeout", rec.Code)
	}
	if calls != 0 {
		t.Fatalf("handler ran %d times behind a held lock, want 0", calls)
	}
}
