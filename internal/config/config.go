package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Поддерживаемые платежные шлюзы и провайдеры аутентификации.
const (
	GatewayAsaas  = "asaas"
	GatewayStripe = "stripe"

	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
)

// Config представляет структуру конфигурации для приложения.
// Объект создается один раз в main и передается в конструкторы явно.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Mongo          MongoConfig          `mapstructure:"mongo"`
	Postgres       PostgresConfig       `mapstructure:"postgres"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Checkout       CheckoutConfig       `mapstructure:"checkout"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Webhook        WebhookConfig        `mapstructure:"webhook"`
	GRPC           GRPCConfig           `mapstructure:"grpc"`
	Auth           AuthConfig           `mapstructure:"auth"`
}

type AppConfig struct {
	Port     string `mapstructure:"port"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"logLevel"`
}

// MongoConfig настройки хранилища документов (пользователи и маппинги платежей).
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	MaxPoolSize    uint64        `mapstructure:"maxPoolSize"`
	MinPoolSize    uint64        `mapstructure:"minPoolSize"`
	RetryAttempts  int           `mapstructure:"retryAttempts"`
	RetryInterval  time.Duration `mapstructure:"retryInterval"`
}

// PostgresConfig настройки журнала вебхуков. Пустой DSN отключает журнал в Postgres.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"maxConns"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	CacheTTL  time.Duration `mapstructure:"cacheTtl"`
	DedupeTTL time.Duration `mapstructure:"dedupeTtl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
}

// GatewayConfig выбирает платежный шлюз и его параметры.
type GatewayConfig struct {
	Provider   string        `mapstructure:"provider"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"maxRetries"`
	Asaas      AsaasConfig   `mapstructure:"asaas"`
	Stripe     StripeConfig  `mapstructure:"stripe"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

type AsaasConfig struct {
	BaseURL      string `mapstructure:"baseUrl"`
	APIKey       string `mapstructure:"apiKey"`
	WebhookToken string `mapstructure:"webhookToken"`
}

type StripeConfig struct {
	APIKey        string `mapstructure:"apiKey"`
	WebhookSecret string `mapstructure:"webhookSecret"`
	Currency      string `mapstructure:"currency"`
	// PriceIDs сопоставляет тип плана с Price ID в Stripe.
	PriceIDs map[string]string `mapstructure:"priceIds"`
}

// BreakerConfig параметры circuit breaker вокруг вызовов шлюза.
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"maxRequests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failureThreshold"`
}

type CheckoutConfig struct {
	SuccessURL string `mapstructure:"successUrl"`
}

// ReconciliationConfig параметры опроса и фоновой сверки ожидающих платежей.
type ReconciliationConfig struct {
	PollInterval        time.Duration `mapstructure:"pollInterval"`
	MaxPollInterval     time.Duration `mapstructure:"maxPollInterval"`
	PollAttempts        int           `mapstructure:"pollAttempts"`
	MaxPollAttempts     int           `mapstructure:"maxPollAttempts"`
	PendingAbandonAfter time.Duration `mapstructure:"pendingAbandonAfter"`
	SweepInterval       time.Duration `mapstructure:"sweepInterval"`
	SweepBatch          int64         `mapstructure:"sweepBatch"`
	CASRetries          uint64        `mapstructure:"casRetries"`
}

type WebhookConfig struct {
	MaxAttempts   int           `mapstructure:"maxAttempts"`
	RetryInterval time.Duration `mapstructure:"retryInterval"`
}

type GRPCConfig struct {
	Host                string        `mapstructure:"host"`
	Port                string        `mapstructure:"port"`
	HealthCheckInterval time.Duration `mapstructure:"healthCheckInterval"`
}

type AuthConfig struct {
	Provider                string `mapstructure:"provider"`
	JWTSecret               string `mapstructure:"jwtSecret"`
	FirebaseProjectID       string `mapstructure:"firebaseProjectId"`
	FirebaseCredentialsFile string `mapstructure:"firebaseCredentialsFile"`
}

// setDefaults задает значения по умолчанию.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.logLevel", "info")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "jurispolicial")
	v.SetDefault("mongo.connectTimeout", 10*time.Second)
	v.SetDefault("mongo.maxPoolSize", 100)
	v.SetDefault("mongo.minPoolSize", 1)
	v.SetDefault("mongo.retryAttempts", 3)
	v.SetDefault("mongo.retryInterval", 5*time.Second)

	v.SetDefault("postgres.maxConns", 10)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cacheTtl", 15*time.Minute)
	v.SetDefault("redis.dedupeTtl", 72*time.Hour)

	v.SetDefault("kafka.enabled", false)

	v.SetDefault("gateway.provider", GatewayAsaas)
	v.SetDefault("gateway.timeout", 15*time.Second)
	v.SetDefault("gateway.maxRetries", 3)
	v.SetDefault("gateway.asaas.baseUrl", "https://api.asaas.com/v3")
	v.SetDefault("gateway.stripe.currency", "brl")
	v.SetDefault("gateway.breaker.maxRequests", 1)
	v.SetDefault("gateway.breaker.interval", time.Minute)
	v.SetDefault("gateway.breaker.timeout", 30*time.Second)
	v.SetDefault("gateway.breaker.failureThreshold", 5)

	v.SetDefault("checkout.successUrl", "http://localhost:3000/assinatura/sucesso")

	v.SetDefault("reconciliation.pollInterval", 2*time.Second)
	v.SetDefault("reconciliation.maxPollInterval", 5*time.Second)
	v.SetDefault("reconciliation.pollAttempts", 10)
	v.SetDefault("reconciliation.maxPollAttempts", 30)
	v.SetDefault("reconciliation.pendingAbandonAfter", 72*time.Hour)
	v.SetDefault("reconciliation.sweepInterval", 5*time.Minute)
	v.SetDefault("reconciliation.sweepBatch", 100)
	v.SetDefault("reconciliation.casRetries", 5)

	v.SetDefault("webhook.maxAttempts", 5)
	v.SetDefault("webhook.retryInterval", time.Minute)

	v.SetDefault("grpc.host", "")
	v.SetDefault("grpc.port", "9090")
	v.SetDefault("grpc.healthCheckInterval", 15*time.Second)

	v.SetDefault("auth.provider", AuthJWT)

	// Ключи без осмысленного значения по умолчанию регистрируются пустыми,
	// иначе AutomaticEnv не подхватит их при Unmarshal.
	for _, key := range []string{
		"postgres.dsn",
		"redis.addr", "redis.password",
		"kafka.brokers",
		"gateway.asaas.apiKey", "gateway.asaas.webhookToken",
		"gateway.stripe.apiKey", "gateway.stripe.webhookSecret",
		"auth.jwtSecret", "auth.firebaseProjectId", "auth.firebaseCredentialsFile",
	} {
		v.SetDefault(key, "")
	}
}

// LoadConfig загружает конфигурацию из файла или переменных окружения.
// Файл необязателен: без него используются значения по умолчанию и переменные окружения
// (ключ gateway.asaas.apiKey читается из GATEWAY_ASAAS_APIKEY).
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: failed to load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // Чтение переменных окружения

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	switch c.Gateway.Provider {
	case GatewayAsaas, GatewayStripe:
	default:
		return fmt.Errorf("config: unsupported gateway provider %q", c.Gateway.Provider)
	}

	switch c.Auth.Provider {
	case AuthJWT, AuthFirebase:
	default:
		return fmt.Errorf("config: unsupported auth provider %q", c.Auth.Provider)
	}

	if c.Reconciliation.PollAttempts <= 0 || c.Reconciliation.PollInterval <= 0 {
		return errors.New("config: reconciliation poll interval and attempts must be positive")
	}
	if c.Reconciliation.MaxPollAttempts < c.Reconciliation.PollAttempts {
		c.Reconciliation.MaxPollAttempts = c.Reconciliation.PollAttempts
	}
	if c.Reconciliation.MaxPollInterval < c.Reconciliation.PollInterval {
		c.Reconciliation.MaxPollInterval = c.Reconciliation.PollInterval
	}

	return nil
}

// IsProduction сообщает, запущено ли приложение в production окружении.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
