package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, config.GatewayAsaas, cfg.Gateway.Provider)
	assert.Equal(t, 2*time.Second, cfg.Reconciliation.PollInterval)
	assert.Equal(t, 10, cfg.Reconciliation.PollAttempts)
	assert.Equal(t, 5*time.Second, cfg.Reconciliation.MaxPollInterval)
	assert.Equal(t, 72*time.Hour, cfg.Reconciliation.PendingAbandonAfter)
	assert.Equal(t, config.AuthJWT, cfg.Auth.Provider)
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("GATEWAY_ASAAS_APIKEY", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
app:
  port: "9000"
gateway:
  provider: stripe
  stripe:
    priceIds:
      annual: price_annual
reconciliation:
  pollInterval: 3s
  pollAttempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.App.Port)
	assert.Equal(t, config.GatewayStripe, cfg.Gateway.Provider)
	assert.Equal(t, "price_annual", cfg.Gateway.Stripe.PriceIDs["annual"])
	assert.Equal(t, 3*time.Second, cfg.Reconciliation.PollInterval)
	assert.Equal(t, 5, cfg.Reconciliation.PollAttempts)
	assert.Equal(t, "from-env", cfg.Gateway.Asaas.APIKey)
}

func TestLoadConfig_RejectsUnknownGateway(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("GATEWAY_PROVIDER", "paypal")

	_, err := config.LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paypal")
}
