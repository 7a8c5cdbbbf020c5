package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/config"
	"github.com/iliyamo/theater-booking/internal/model"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims, key string, method jwt.SigningMethod) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return tok
}

// whoami echoes the stored principal, or 418 when there is none.
func whoami(c echo.Context) error {
	p, ok := auth.From(c)
	if !ok {
		return c.NoContent(http.StatusTeapot)
	}
	fromCtx, _ := auth.FromContext(c.Request().Context())
	if fromCtx.UserID != p.UserID || fromCtx.Role != p.Role {
		return c.NoContent(http.StatusConflict)
	}
	return c.JSON(http.StatusOK, p)
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret))

	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name   string
		header string
		status int
		want   auth.Principal
	}{
		{"missing header", "", http.StatusUnauthorized, auth.Principal{}},
		{"not bearer", "Basic abc", http.StatusUnauthorized, auth.Principal{}},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized, auth.Principal{}},
		{"wrong key", "Bearer " + sign(t, jwt.MapClaims{"sub": "5", "exp": exp}, "other", jwt.SigningMethodHS256), http.StatusUnauthorized, auth.Principal{}},
		{"wrong alg", "Bearer " + sign(t, jwt.MapClaims{"sub": "5", "exp": exp}, secret, jwt.SigningMethodHS512), http.StatusUnauthorized, auth.Principal{}},
		{"expired", "Bearer " + sign(t, jwt.MapClaims{"sub": "5", "exp": time.Now().Add(-time.Minute).Unix()}, secret, jwt.SigningMethodHS256), http.StatusUnauthorized, auth.Principal{}},
		{"no sub", "Bearer " + sign(t, jwt.MapClaims{"role": "ADMIN"}, secret, jwt.SigningMethodHS256), http.StatusUnauthorized, auth.Principal{}},
		{"partner role by token", "Bearer " + sign(t, jwt.MapClaims{"sub": "5", "role": "PARTNER"}, secret, jwt.SigningMethodHS256), http.StatusUnauthorized, auth.Principal{}},
		{"bad org id", "Bearer " + sign(t, jwt.MapClaims{"sub": "5", "org_id": "x"}, secret, jwt.SigningMethodHS256), http.StatusUnauthorized, auth.Principal{}},
		{
			"individual requester",
			"Bearer " + sign(t, jwt.MapClaims{"sub": "5", "exp": exp}, secret, jwt.SigningMethodHS256),
			http.StatusOK,
			auth.Principal{UserID: 5, Role: auth.RoleRequester, Category: model.CategoryIndividual},
		},
		{
			"admin",
			"Bearer " + sign(t, jwt.MapClaims{"sub": "1", "role": "admin"}, secret, jwt.SigningMethodHS256),
			http.StatusOK,
			auth.Principal{UserID: 1, Role: auth.RoleAdmin},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := serve(e, req)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status == http.StatusOK {
				want := fmt.Sprintf(`{"UserID":%d,"Role":%q,"OrganizationID":null,"Category":%q}`, tc.want.UserID, tc.want.Role, tc.want.Category)
				assert.JSONEq(t, want, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
			}
		})
	}
}

func TestJWTAuthOrganizationMember(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret))

	tok := sign(t, jwt.MapClaims{"sub": "8", "role": "REQUESTER", "org_id": 12, "category": model.CategoryAssociation}, secret, jwt.SigningMethodHS256)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := serve(e, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"UserID":8,"Role":"REQUESTER","OrganizationID":12,"Category":"association"}`, rec.Body.String())
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", whoami, JWTAuth(secret), RequireRole(auth.RoleAdmin))
	e.GET("/open", whoami, RequireRole(auth.RoleAdmin))

	call := func(path, sub, role string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if sub != "" {
			req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": sub, "role": role}, secret, jwt.SigningMethodHS256))
		}
		return serve(e, req).Code
	}
	assert.Equal(t, http.StatusOK, call("/admin", "1", "ADMIN"))
	assert.Equal(t, http.StatusForbidden, call("/admin", "2", "REQUESTER"))
	assert.Equal(t, http.StatusForbidden, call("/open", "", ""))
}

type stubKeys map[string]auth.Principal

func (s stubKeys) AuthenticateAPIKey(_ context.Context, raw string) (auth.Principal, error) {
	if raw == "boom" {
		return auth.Principal{}, fmt.Errorf("%w: db down", model.ErrExternalService)
	}
	p, ok := s[raw]
	if !ok {
		return auth.Principal{}, fmt.Errorf("%w: unknown api key", model.ErrForbidden)
	}
	return p, nil
}

func TestPartnerAPIKey(t *testing.T) {
	org := uint64(3)
	keys := stubKeys{"3.secret": {Role: auth.RolePartner, OrganizationID: &org, Category: model.CategoryPartner}}
	e := echo.New()
	e.GET("/partner", whoami, PartnerAPIKey(keys), RequireRole(auth.RolePartner))

	call := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/partner", nil)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		return serve(e, req)
	}
	rec := call("3.secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"OrganizationID":3`)
	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("3.wrong").Code)
	assert.Equal(t, http.StatusBadGateway, call("boom").Code)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	e := echo.New()
	e.Use(RequestLogger(log))
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/fail", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "nope") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Contains(t, buf.String(), `"path":"/ok"`)
	assert.Contains(t, buf.String(), `"status":200`)

	buf.Reset()
	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-123")
	rec = serve(e, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(echo.HeaderXRequestID))
	assert.Contains(t, buf.String(), `"request_id":"req-123"`)
	assert.Contains(t, buf.String(), `"level":"warning"`)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}
	org := uint64(4)

	tests := []struct {
		name string
		p    *auth.Principal
		want string
	}{
		{"anonymous", nil, "rl:user:anon"},
		{"requester", &auth.Principal{UserID: 9, Role: auth.RoleRequester}, "rl:user:9"},
		{"partner", &auth.Principal{Role: auth.RolePartner, OrganizationID: &org}, "rl:user:partner-4"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/bookings", nil), httptest.NewRecorder())
			if tc.p != nil {
				auth.Set(c, *tc.p)
			}
			assert.Equal(t, tc.want, buildRateKey(cfg, c))
		})
	}

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/bookings", nil), httptest.NewRecorder())
	c.SetPath("/v1/bookings")
	assert.Equal(t, "rl:ip:192.0.2.1:route:POST /v1/bookings", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_route"}, c))
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	log := logrus.New()
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "x") },
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, log),
		NewCache(config.CacheConfig{Enabled: true, Methods: "GET"}, nil, log).Middleware())

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))

	var nilCache *Cache
	nilCache.Invalidate(context.Background())
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)
	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 0})
	assert.False(t, ok)
	_, _, _, ok = decodePayload([]byte{0, 0, 0, 200, 0, 0, 1, 0})
	assert.False(t, ok)
}

func TestCacheKeyChangesWithGeneration(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "cache"}
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/sessions/7?seats=3", nil), httptest.NewRecorder())
	c.SetPath("/v1/sessions/:id")

	k0 := cacheKeyFrom(cfg, "0", c)
	assert.Equal(t, k0, cacheKeyFrom(cfg, "0", c))
	assert.NotEqual(t, k0, cacheKeyFrom(cfg, "1", c))

	other := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/sessions/8?seats=3", nil), httptest.NewRecorder())
	other.SetPath("/v1/sessions/:id")
	assert.NotEqual(t, k0, cacheKeyFrom(cfg, "0", other))
}

func TestCacheWithRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	prefix := fmt.Sprintf("test-cache-%d", time.Now().UnixNano())

	cache := NewCache(config.CacheConfig{Enabled: true, Methods: "GET", Prefix: prefix, TTL: time.Minute}, rdb, logrus.New())
	hits := 0
	e := echo.New()
	e.GET("/v1/shows", func(c echo.Context) error {
		hits++
		return c.JSON(http.StatusOK, echo.Map{"hits": hits})
	}, cache.Middleware())

	first := serve(e, httptest.NewRequest(http.MethodGet, "/v1/shows", nil))
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := serve(e, httptest.NewRequest(http.MethodGet, "/v1/shows", nil))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	cache.Invalidate(context.Background())
	third := serve(e, httptest.NewRequest(http.MethodGet, "/v1/shows", nil))
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.Equal(t, 2, hits)

	require.NoError(t, rdb.Del(context.Background(), prefix+":gen").Err())
}
