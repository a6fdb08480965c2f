package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/res"
)

// ContextKey тип для ключей контекста во избежание коллизий.
type ContextKey string

const (
	// ContextUserIDKey ключ для хранения ID пользователя в контексте gin.
	ContextUserIDKey ContextKey = "userID"
	ContextEmailKey  ContextKey = "userEmail"

	authHeaderPrefix = "Bearer "
)

// TokenClaims данные пользователя из проверенного токена.
type TokenClaims struct {
	UserID string
	Email  string
	Role   domain.Role
}

// TokenValidator проверяет токен и возвращает данные пользователя.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*TokenClaims, error)
}

// AuthMiddleware проверяет Bearer токен и права администратора.
type AuthMiddleware struct {
	validator TokenValidator
	users     repository.UserRepository
	log       *logger.Logger
}

// NewAuthMiddleware создает middleware аутентификации
func NewAuthMiddleware(validator TokenValidator, users repository.UserRepository, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		users:     users,
		log:       log,
	}
}

// RequireAuth пропускает запрос только с валидным токеном.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, authHeaderPrefix) {
			m.reject(c, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthenticated))
			return
		}

		claims, err := m.validator.Validate(c.Request.Context(), strings.TrimPrefix(authHeader, authHeaderPrefix))
		if err != nil {
			m.reject(c, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err))
			return
		}
		if claims.UserID == "" {
			m.reject(c, fmt.Errorf("%w: subject missing in token", domain.ErrUnauthenticated))
			return
		}

		c.Set(string(ContextUserIDKey), claims.UserID)
		c.Set(string(ContextEmailKey), claims.Email)
		if claims.Role != "" {
			c.Set("role", claims.Role)
		}
		c.Next()
	}
}

// RequireAdmin пропускает только администраторов. Роль из токена имеет приоритет,
// иначе берется роль из документа пользователя.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, ok := c.Get("role"); ok && role == domain.RoleAdmin {
			c.Next()
			return
		}

		user, err := m.users.GetUser(c.Request.Context(), UserID(c))
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			res.Error(c, err)
			return
		}
		if !user.IsAdmin() {
			m.log.Warnw("Admin route denied", "userID", UserID(c), "path", c.FullPath())
			res.Error(c, domain.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) reject(c *gin.Context, err error) {
	m.log.Warnw("HTTP authentication failed", "path", c.Request.URL.Path, "error", err)
	res.Error(c, err)
}

// UserID возвращает ID аутентифицированного пользователя.
func UserID(c *gin.Context) string {
	return c.GetString(string(ContextUserIDKey))
}

// JWTValidator проверяет токены HS256, выпущенные основным приложением.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator создает валидатор с общим секретом
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

type jwtClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Validate реализует TokenValidator
func (v *JWTValidator) Validate(_ context.Context, tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errors.New("malformed token")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.New("invalid token signature")
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, errors.New("token expired")
		default:
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return &TokenClaims{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   domain.Role(claims.Role),
	}, nil
}
