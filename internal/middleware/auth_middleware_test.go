package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.Claims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func userToken(t *testing.T, sub, role string, expiresIn time.Duration) string {
	return signToken(t, jwtClaims{
		Email: sub + "@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}, jwt.SigningMethodHS256, []byte(testSecret))
}

func TestJWTValidator(t *testing.T) {
	v := NewJWTValidator(testSecret)

	claims, err := v.Validate(context.Background(), userToken(t, "u1", "admin", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.Equal(t, domain.RoleAdmin, claims.Role)

	_, err = v.Validate(context.Background(), userToken(t, "u1", "", -time.Minute))
	assert.EqualError(t, err, "token expired")

	other := signToken(t, jwtClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}}, jwt.SigningMethodHS256, []byte("other"))
	_, err = v.Validate(context.Background(), other)
	assert.EqualError(t, err, "invalid token signature")

	_, err = v.Validate(context.Background(), "not-a-token")
	assert.EqualError(t, err, "malformed token")
}

func newTestRouter(t *testing.T) (*gin.Engine, *repository.InMemoryUserRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	users := repository.NewInMemoryUserRepository(log)
	auth := NewAuthMiddleware(NewJWTValidator(testSecret), users, log)

	r := gin.New()
	r.Use(RequestLogger(log))
	r.GET("/me", auth.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	r.GET("/admin", auth.RequireAuth(), auth.RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, users
}

func doRequest(r http.Handler, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, "/me", userToken(t, "u1", "", time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())

	w = doRequest(r, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthenticated")

	w = doRequest(r, "/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	r, users := newTestRouter(t)
	require.NoError(t, users.SaveUser(context.Background(), &domain.User{ID: "adm", Role: domain.RoleAdmin}))
	require.NoError(t, users.SaveUser(context.Background(), &domain.User{ID: "u1", Role: domain.RoleMember}))

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "admin claim", token: userToken(t, "ghost", "admin", time.Hour), status: http.StatusNoContent},
		{name: "admin by stored role", token: userToken(t, "adm", "", time.Hour), status: http.StatusNoContent},
		{name: "member", token: userToken(t, "u1", "", time.Hour), status: http.StatusForbidden},
		{name: "unknown user", token: userToken(t, "nobody", "", time.Hour), status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, "/admin", tt.token)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
