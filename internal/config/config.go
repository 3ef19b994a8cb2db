package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "BILLING"

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Playstore PlaystoreConfig `mapstructure:"playstore"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Billing   BillingConfig   `mapstructure:"billing"`
}

// AppConfig конфигурация HTTP сервера
type AppConfig struct {
	Env             string        `mapstructure:"env" validate:"oneof=development production test"`
	Port            string        `mapstructure:"port" validate:"required,numeric"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig конфигурация логгера
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error fatal"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// DatabaseConfig конфигурация базы данных. Пустой DSN включает хранилище в памяти.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig конфигурация кэша. Пустой адрес отключает кэш.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// KafkaConfig конфигурация брокера. Без брокеров события не публикуются.
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers" validate:"dive,hostname_port"`
	ClientID     string   `mapstructure:"client_id"`
	EnsureTopics bool     `mapstructure:"ensure_topics"`
}

// ProviderConfig выбор провайдера биллинга
type ProviderConfig struct {
	Name string `mapstructure:"name" validate:"oneof=fake playstore stripe"`
}

// PlaystoreConfig доступ к Google Play Developer API
type PlaystoreConfig struct {
	PackageName     string `mapstructure:"package_name"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// StripeConfig конфигурация Stripe
type StripeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	CustomerID    string `mapstructure:"customer_id"`
}

// AuthConfig конфигурация JWT
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// BillingConfig поведение координатора
type BillingConfig struct {
	Reconnect           bool          `mapstructure:"reconnect"`
	ReconnectInitial    time.Duration `mapstructure:"reconnect_initial" validate:"gt=0"`
	ReconnectMax        time.Duration `mapstructure:"reconnect_max" validate:"gtefield=ReconnectInitial"`
	ReconnectMaxElapsed time.Duration `mapstructure:"reconnect_max_elapsed" validate:"gte=0"`
	ReconnectMaxRetries uint64        `mapstructure:"reconnect_max_retries"`
	RefreshSchedule     string        `mapstructure:"refresh_schedule"`
	AutoAcknowledge     bool          `mapstructure:"auto_acknowledge"`
}

// IsProduction проверяет, запущено ли приложение в production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.read_timeout", 10*time.Second)
	v.SetDefault("app.write_timeout", 10*time.Second)
	v.SetDefault("app.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "billingd")
	v.SetDefault("kafka.ensure_topics", false)

	v.SetDefault("provider.name", "fake")

	v.SetDefault("playstore.package_name", "")
	v.SetDefault("playstore.credentials_file", "")

	v.SetDefault("stripe.api_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.customer_id", "")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("billing.reconnect", false)
	v.SetDefault("billing.reconnect_initial", time.Second)
	v.SetDefault("billing.reconnect_max", time.Minute)
	v.SetDefault("billing.reconnect_max_elapsed", 15*time.Minute)
	v.SetDefault("billing.reconnect_max_retries", 0)
	v.SetDefault("billing.refresh_schedule", "@every 15m")
	v.SetDefault("billing.auto_acknowledge", true)
}

// LoadConfig загружает конфигурацию: .env, затем config.yaml (если есть),
// затем переменные окружения BILLING_*. path указывает файл конфигурации,
// пустой path ищет config.yaml в текущей директории.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения и зависимости между секциями
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Provider.Name {
	case "playstore":
		if c.Playstore.PackageName == "" {
			return errors.New("invalid config: playstore.package_name is required for the playstore provider")
		}
	case "stripe":
		if c.Stripe.APIKey == "" || c.Stripe.CustomerID == "" {
			return errors.New("invalid config: stripe.api_key and stripe.customer_id are required for the stripe provider")
		}
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return errors.New("invalid config: auth.jwt_secret is required in production")
	}
	// fake принимает уведомления без подписи
	if c.IsProduction() && (c.Provider.Name == "fake" || c.Provider.Name == "") {
		return errors.New("invalid config: the fake provider is not allowed in production")
	}
	return nil
}
