package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/pesalog/service/db"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	if sub != "" {
		claims["sub"] = sub
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func authedRequest(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuth_PinsUserToSubject(t *testing.T) {
	store := newMemStore()
	seed(t, store)
	cfg := testConfig()
	cfg.JWTSecret = testSecret
	h := newTestServer(t, store, cfg, nil)

	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "user-1")

	// user_id may be omitted once the token names the user.
	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest("GET", "/api/v1/transactions", token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 4.0, decode(t, w)["count"])

	w = httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest("GET", "/api/v1/transactions?user_id=user-2", token))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "user_id does not match token subject", decode(t, w)["error"])
}

func TestAuth_BulkRejectsForeignUser(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	cfg.JWTSecret = testSecret
	h := newTestServer(t, store, cfg, nil)

	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "user-2")
	req := httptest.NewRequest("POST", "/api/v1/transactions/bulk", strings.NewReader(`{"transactions":[`+mpesaJSON+`]}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "transactions[0]: user_id does not match token subject", decode(t, w)["error"])
	assert.Empty(t, store.rows)
}

func TestAuth_Rejections(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = testSecret
	h := newTestServer(t, newMemStore(), cfg, nil)

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"missing", "", "missing token"},
		{"wrong key", signToken(t, jwt.SigningMethodHS256, []byte("other"), "user-1"), "invalid token"},
		{"no subject", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), ""), "token has no subject"},
		{"garbage", "not.a.jwt", "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, authedRequest("GET", "/api/v1/summary", tt.token))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["error"])
		})
	}

	// Probes stay open.
	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest("GET", "/health", ""))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 2
	h := newTestServer(t, newMemStore(), cfg, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := do(t, h, "GET", "/api/v1/summary?user_id=u", "")
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "Too many requests, please try again later.", decode(t, w)["error"])
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health checks are never throttled.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(t, h, "GET", "/health", "").Code)
	}
}

func TestClientLimiter_PerClientAndSweep(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Now()

	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now), "buckets are per client")

	// A token refills after one second at 1 rps.
	assert.True(t, l.allow("10.0.0.1", now.Add(time.Second)))

	l.allow("10.0.0.3", now.Add(11*time.Minute))
	assert.Len(t, l.limiters, 1, "idle clients are swept")
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	assert.Equal(t, "192.0.2.7", clientKey(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", clientKey(req))
}

func TestSummaryCache(t *testing.T) {
	c, err := newSummaryCache(time.Minute)
	require.NoError(t, err)
	defer c.close()

	provider := "kcb"
	all := db.SummaryParams{UserID: "u1"}
	kcb := db.SummaryParams{UserID: "u1", Provider: &provider}
	other := db.SummaryParams{UserID: "u2"}

	assert.NotEqual(t, summaryCacheKey(all), summaryCacheKey(kcb))

	c.set(all, &db.Summary{Count: 3, TotalIncome: decimal.NewFromInt(10)}, c.generation("u1"))
	c.set(kcb, &db.Summary{Count: 1}, c.generation("u1"))
	c.set(other, &db.Summary{Count: 7}, c.generation("u2"))

	got, ok := c.get(all)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Count)

	c.invalidate("u1")
	_, ok = c.get(all)
	assert.False(t, ok)
	_, ok = c.get(kcb)
	assert.False(t, ok)

	got, ok = c.get(other)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Count)
}

func TestSummaryCache_SkipsStaleSet(t *testing.T) {
	c, err := newSummaryCache(time.Minute)
	require.NoError(t, err)
	defer c.close()

	p := db.SummaryParams{UserID: "u1"}
	gen := c.generation("u1")

	// A write lands while the summary is being computed.
	c.invalidate("u1")
	c.set(p, &db.Summary{Count: 1}, gen)
	_, ok := c.get(p)
	assert.False(t, ok)

	c.set(p, &db.Summary{Count: 2}, c.generation("u1"))
	got, ok := c.get(p)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Count)
}

func TestSummaryCache_NilSafe(t *testing.T) {
	var c *summaryCache
	_, ok := c.get(db.SummaryParams{UserID: "u"})
	assert.False(t, ok)
	assert.Equal(t, uint64(0), c.generation("u"))
	c.set(db.SummaryParams{UserID: "u"}, &db.Summary{}, 0)
	c.invalidate("u")
	c.close()
}
