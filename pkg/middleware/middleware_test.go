package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()

	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)

	return s
}

func protectedRouter(extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(NewRequestIDMiddleware())

	handlers := append([]gin.HandlerFunc{NewJWTMiddleware(secret)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("userID")+"/"+c.GetString("role"))
	})
	r.GET("/", handlers...)

	return r
}

func TestJWTMiddleware(t *testing.T) {
	valid := jwt.MapClaims{"user_id": "u1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()}

	cases := []struct {
		name   string
		header string
		cookie string
		code   int
		body   string
	}{
		{name: "Bearer", header: "Bearer " + sign(t, jwt.SigningMethodHS256, secret, valid), code: http.StatusOK, body: "u1/admin"},
		{name: "Cookie", cookie: sign(t, jwt.SigningMethodHS256, secret, valid), code: http.StatusOK, body: "u1/admin"},
		{name: "Missing", code: http.StatusUnauthorized},
		{name: "WrongSecret", header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("nope"), valid), code: http.StatusUnauthorized},
		{name: "WrongAlg", header: "Bearer " + sign(t, jwt.SigningMethodHS512, secret, valid), code: http.StatusUnauthorized},
		{
			name:   "Expired",
			header: "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Minute).Unix()}),
			code:   http.StatusUnauthorized,
			body:   "expired",
		},
		{
			name:   "NoExpiry",
			header: "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"user_id": "u1"}),
			code:   http.StatusUnauthorized,
		},
		{
			name:   "NoUser",
			header: "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
			code:   http.StatusUnauthorized,
		},
	}

	r := protectedRouter()

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if c.header != "" {
				req.Header.Set("Authorization", c.header)
			}
			if c.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "auth_token", Value: c.cookie})
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, c.code, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
			if c.body != "" {
				assert.Contains(t, w.Body.String(), c.body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := protectedRouter(RequireRole(RoleAdmin))

	for role, code := range map[string]int{"admin": http.StatusOK, "student": http.StatusForbidden, "": http.StatusForbidden} {
		t.Run("Role_"+role, func(t *testing.T) {
			claims := jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(time.Hour).Unix()}
			if role != "" {
				claims["role"] = role
			}

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, secret, claims))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, code, w.Code)
		})
	}
}

func TestRateLimiter_KeyedBySubjectAndAction(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, Burst: 2})
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("u1", "upload"))
	assert.True(t, l.Allow("u1", "upload"))
	assert.False(t, l.Allow("u1", "upload"))

	// Other actions and other users have their own budget
	assert.True(t, l.Allow("u1", "thumbnail"))
	assert.True(t, l.Allow("u2", "upload"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("u1", "upload"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, TTL: time.Minute})
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("u1", "upload")
	l.Allow("u2", "upload")

	now = now.Add(30 * time.Second)
	l.Allow("u2", "upload")

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, l.Cleanup())
	assert.Len(t, l.visitors, 1)
}

func TestRateLimiter_Middleware(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, Burst: 1})

	r := gin.New()
	r.POST("/", l.Middleware("upload"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := []int{}
	for range 2 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestBodySizeLimiter(t *testing.T) {
	r := gin.New()
	r.POST("/", BodySizeLimiter(8), func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			if IsBodyTooLarge(err) {
				c.Status(http.StatusRequestEntityTooLarge)
				return
			}
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	t.Run("Small", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny")))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("DeclaredTooLarge", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("way too large")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("StreamedTooLarge", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("way too large"))
		req.ContentLength = -1

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}
