package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

const secret = "s3cret"

func serve(e *echo.Echo, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func whoami(c echo.Context) error {
	return c.String(http.StatusOK, UserID(c)+"/"+Role(c))
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret))

	good, err := utils.NewAccessToken(secret, "u-42", RoleUser, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	expired, _ := utils.NewAccessToken(secret, "u-42", RoleUser, -time.Minute)
	otherKey, _ := utils.NewAccessToken("other", "u-42", RoleUser, time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u-42", "role": RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": RoleUser}).SignedString([]byte(secret))

	cases := []struct {
		name   string
		token  string
		status int
	}{
		{"valid", good.Token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"expired", expired.Token, http.StatusUnauthorized},
		{"wrong key", otherKey.Token, http.StatusUnauthorized},
		{"alg none", none, http.StatusUnauthorized},
		{"no subject", noSub, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(e, http.MethodGet, "/me", tc.token)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body)
			}
			if tc.status == http.StatusOK && rec.Body.String() != "u-42/user" {
				t.Fatalf("identity = %q", rec.Body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", whoami, JWTAuth(secret), RequireRole(RoleAdmin))

	admin, _ := utils.NewAccessToken(secret, "ops", RoleAdmin, time.Minute)
	user, _ := utils.NewAccessToken(secret, "u1", RoleUser, time.Minute)
	if rec := serve(e, http.MethodGet, "/admin", admin.Token); rec.Code != http.StatusOK {
		t.Fatalf("admin = %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/admin", user.Token); rec.Code != http.StatusForbidden {
		t.Fatalf("user = %d", rec.Code)
	}
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestTokenBucket(t *testing.T) {
	rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            2 * time.Hour,
		KeyStrategy:    "user",
		Prefix:         "rl:test",
	}
	e := echo.New()
	e.POST("/holds", whoami, JWTAuth(secret), NewTokenBucket(cfg, rdb, zap.NewNop()))

	u1, _ := utils.NewAccessToken(secret, "u1", RoleUser, time.Minute)
	u2, _ := utils.NewAccessToken(secret, "u2", RoleUser, time.Minute)

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		rec := serve(e, http.MethodPost, "/holds", u1.Token)
		if rec.Code != want {
			t.Fatalf("request %d = %d, want %d", i+1, rec.Code, want)
		}
		if want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Fatalf("missing Retry-After")
		}
	}
	// Buckets are per user.
	if rec := serve(e, http.MethodPost, "/holds", u2.Token); rec.Code != http.StatusOK {
		t.Fatalf("second user = %d", rec.Code)
	}
	if got := rdb.Exists(context.Background(), "rl:test:user:u1").Val(); got != 1 {
		t.Fatalf("bucket key missing")
	}
}

func TestTokenBucketFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
	e := echo.New()
	e.GET("/x", whoami, NewTokenBucket(cfg, rdb, zap.NewNop()))
	for i := 0; i < 3; i++ {
		if rec := serve(e, http.MethodGet, "/x", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
}

func TestRedisCache(t *testing.T) {
	rdb := newRedis(t)
	cfg := config.CacheConfig{
		Enabled:      true,
		Methods:      map[string]bool{http.MethodGet: true},
		TTL:          time.Minute,
		KeyStrategy:  "route_query",
		Prefix:       "cache:test",
		MaxBodyBytes: 1 << 10,
	}
	calls := 0
	e := echo.New()
	e.GET("/v1/buses", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"source": c.QueryParam("source")})
	}, NewRedisCache(cfg, rdb, zap.NewNop()))

	first := serve(e, http.MethodGet, "/v1/buses?source=Pune&destination=Goa", "")
	second := serve(e, http.MethodGet, "/v1/buses?destination=Goa&source=Pune", "")
	if first.Header().Get("X-Cache") != "MISS" || second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("X-Cache = %q then %q", first.Header().Get("X-Cache"), second.Header().Get("X-Cache"))
	}
	if calls != 1 || first.Body.String() != second.Body.String() {
		t.Fatalf("calls = %d, bodies %q vs %q", calls, first.Body, second.Body)
	}
	if ct := second.Header().Get(echo.HeaderContentType); ct != echo.MIMEApplicationJSON {
		t.Fatalf("cached content type = %q", ct)
	}

	n, err := PurgeCache(context.Background(), rdb, cfg.Prefix)
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	serve(e, http.MethodGet, "/v1/buses?source=Pune&destination=Goa", "")
	if calls != 2 {
		t.Fatalf("calls after purge = %d", calls)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	h := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, h, []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	status, hdr, body, ok := decodePayload(bs)
	if !ok || status != http.StatusOK || hdr.Get("Content-Type") != "application/json" || string(body) != `{"a":1}` {
		t.Fatalf("decoded %d %v %q %v", status, hdr, body, ok)
	}
	if _, _, _, ok := decodePayload(bs[:5]); ok {
		t.Fatal("short payload decoded")
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := echo.New()
	e.Use(RequestLogger(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/missing", func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound) })

	serve(e, http.MethodGet, "/ok", "")
	serve(e, http.MethodGet, "/missing", "")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["status"] != int64(http.StatusNoContent) {
		t.Fatalf("first entry = %+v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["status"] != int64(http.StatusNotFound) {
		t.Fatalf("second entry = %v %+v", entries[1].Level, entries[1].ContextMap())
	}
}
