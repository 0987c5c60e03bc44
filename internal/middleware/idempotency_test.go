package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ecucondorSA/autorenta-payments/internal/middleware"
	"github.com/ecucondorSA/autorenta-payments/internal/repository"
)

type fakeIdemRepo struct {
	entries map[string]*repository.IdempotencyCacheEntry
}

func (f *fakeIdemRepo) Get(ctx context.Context, key string) (*repository.IdempotencyCacheEntry, error) {
	return f.entries[key], nil
}

func (f *fakeIdemRepo) Set(ctx context.Context, entry *repository.IdempotencyCacheEntry) error {
	f.entries[entry.Key] = entry
	return nil
}

func setupIdempotency() (http.Handler, *int) {
	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true}`))
	})
	repo := &fakeIdemRepo{entries: make(map[string]*repository.IdempotencyCacheEntry)}
	return middleware.Idempotency(repo)(inner), &calls
}

func TestIdempotencyReplaysCachedResponse(t *testing.T) {
	h, calls := setupIdempotency()

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/intents", strings.NewReader(`{"amount_minor":100}`))
		req.Header.Set("Idempotency-Key", "key-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, 1, *calls)

	second := do()
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, *calls)
}

func TestIdempotencyConflictOnDifferentBody(t *testing.T) {
	h, calls := setupIdempotency()

	req := httptest.NewRequest(http.MethodPost, "/intents", strings.NewReader(`{"amount_minor":100}`))
	req.Header.Set("Idempotency-Key", "key-2")
	h.ServeHTTP(httptest.NewRecorder(), req)

	other := httptest.NewRequest(http.MethodPost, "/intents", strings.NewReader(`{"amount_minor":999}`))
	other.Header.Set("Idempotency-Key", "key-2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, *calls)
}

func TestIdempotencyRequiresKey(t *testing.T) {
	h, calls := setupIdempotency()

	req := httptest.NewRequest(http.MethodPost, "/intents", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, *calls)
}

func TestIdempotencySkipsReads(t *testing.T) {
	h, calls := setupIdempotency()

	req := httptest.NewRequest(http.MethodGet, "/intents/abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, *calls)
}
