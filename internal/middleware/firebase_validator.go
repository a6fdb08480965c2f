package middleware

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
)

// FirebaseValidator проверяет ID токены Firebase Authentication.
type FirebaseValidator struct {
	client *auth.Client
}

// NewFirebaseValidator инициализирует Firebase App. Без файла учетных данных
// используются Application Default Credentials.
func NewFirebaseValidator(ctx context.Context, cfg config.AuthConfig) (*FirebaseValidator, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}

	return &FirebaseValidator{client: client}, nil
}

// Validate реализует TokenValidator
func (v *FirebaseValidator) Validate(ctx context.Context, idToken string) (*TokenClaims, error) {
	tok, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &TokenClaims{UserID: tok.UID}
	if email, ok := tok.Claims["email"].(string); ok {
		claims.Email = email
	}
	if role, ok := tok.Claims["role"].(string); ok {
		claims.Role = domain.Role(role)
	}
	return claims, nil
}
