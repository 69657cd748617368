package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/api"
	"github.com/BaSui01/browserflow/config"
	"github.com/BaSui01/browserflow/internal/ctxkeys"
	"github.com/BaSui01/browserflow/testutil"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp api.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(okHandler, mark("outer"), mark("inner")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

// =============================================================================
// 🧪 RequestID / Recovery
// =============================================================================

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	})

	t.Run("preserved", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "client-42")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, "client-42", seen)
		assert.Equal(t, "client-42", w.Header().Get("X-Request-ID"))
	})

	t.Run("oversized replaced", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", strings.Repeat("x", 200))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Len(t, seen, 36)
	})
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, w))
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

// =============================================================================
// 🧪 CORS
// =============================================================================

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example"})(okHandler)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
		{"allowed", http.MethodGet, "https://app.example", http.StatusOK, "https://app.example"},
		{"allowed preflight", http.MethodOptions, "https://app.example", http.StatusNoContent, "https://app.example"},
		{"unknown origin", http.MethodGet, "https://evil.example", http.StatusOK, ""},
		{"unknown preflight", http.MethodOptions, "https://evil.example", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/api/v1/plugins", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantAllow != "" {
				assert.Equal(t, "Origin", w.Header().Get("Vary"))
			}
		})
	}
}

// =============================================================================
// 🧪 RateLimiter
// =============================================================================

func TestRateLimiter(t *testing.T) {
	handler := RateLimiter(testutil.TestContext(t), 1, 1, zap.NewNop())(okHandler)

	newReq := func(addr string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		return r
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newReq("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newReq("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))

	// 不同 IP 独立计数
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newReq("10.0.0.2:1000"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(testutil.TestContext(t), 0, 0, zap.NewNop())(okHandler)
	for range 50 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

// =============================================================================
// 🧪 Auth
// =============================================================================

const testSecret = "test-secret-with-enough-entropy"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	cfg := config.AuthConfig{
		APIKeys:   []string{"key-one", "key-two"},
		JWTSecret: testSecret,
		JWTIssuer: "browserflow",
	}
	handler := Auth(cfg, zap.NewNop())(okHandler)

	now := time.Now()
	valid := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "ops",
		Issuer:    "browserflow",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	wrongIssuer := signToken(t, testSecret, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	expired := signToken(t, testSecret, jwt.RegisteredClaims{
		Issuer:    "browserflow",
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	})
	wrongSecret := signToken(t, "other-secret", jwt.RegisteredClaims{Issuer: "browserflow"})

	tests := []struct {
		name       string
		path       string
		apiKey     string
		bearer     string
		wantStatus int
		wantMsg    string
	}{
		{name: "api key", path: "/api/v1/plugins", apiKey: "key-two", wantStatus: http.StatusOK},
		{name: "wrong api key", path: "/api/v1/plugins", apiKey: "nope", wantStatus: http.StatusUnauthorized, wantMsg: "missing or invalid credentials"},
		{name: "no credentials", path: "/api/v1/plugins", wantStatus: http.StatusUnauthorized, wantMsg: "missing or invalid credentials"},
		{name: "valid jwt", path: "/api/v1/plugins", bearer: valid, wantStatus: http.StatusOK},
		{name: "wrong issuer", path: "/api/v1/plugins", bearer: wrongIssuer, wantStatus: http.StatusUnauthorized, wantMsg: "invalid token"},
		{name: "expired", path: "/api/v1/plugins", bearer: expired, wantStatus: http.StatusUnauthorized, wantMsg: "token expired"},
		{name: "wrong secret", path: "/api/v1/plugins", bearer: wrongSecret, wantStatus: http.StatusUnauthorized, wantMsg: "invalid token"},
		{name: "public probe", path: "/healthz", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.apiKey != "" {
				r.Header.Set("X-API-Key", tt.apiKey)
			}
			if tt.bearer != "" {
				r.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantMsg != "" {
				var resp api.Response
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				require.NotNil(t, resp.Error)
				assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
				assert.Equal(t, tt.wantMsg, resp.Error.Message)
			}
		})
	}
}

func TestAuth_ProtectHealth(t *testing.T) {
	handler := Auth(config.AuthConfig{APIKeys: []string{"k"}, ProtectHealth: true}, zap.NewNop())(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_Disabled(t *testing.T) {
	handler := Auth(config.AuthConfig{}, zap.NewNop())(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
