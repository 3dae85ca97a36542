package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"wallet.hh/internal/gateway"
)

const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"

	envPrefix = "TOPUP"
)

type Config struct {
	HTTP        HTTPConfig      `mapstructure:"http"`
	Store       StoreConfig     `mapstructure:"store"`
	DatabaseURL string          `mapstructure:"database_url"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Gateway     GatewayConfig   `mapstructure:"gateway"`
	Webhook     WebhookConfig   `mapstructure:"webhook"`
	Topup       TopupConfig     `mapstructure:"topup"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	Sweep       SweepConfig     `mapstructure:"sweep"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port"`
}

type StoreConfig struct {
	Driver   string        `mapstructure:"driver"`
	BoltPath string        `mapstructure:"bolt_path"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type GatewayConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	MerchantCode       string        `mapstructure:"merchant_code"`
	Secret             string        `mapstructure:"secret"`
	SignatureAlgorithm string        `mapstructure:"signature_algorithm"`
	CallbackURL        string        `mapstructure:"callback_url"`
	ReturnURL          string        `mapstructure:"return_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type TopupConfig struct {
	MinAmount            int64         `mapstructure:"min_amount"`
	MaxAmount            int64         `mapstructure:"max_amount"`
	TTL                  time.Duration `mapstructure:"ttl"`
	DefaultPaymentMethod string        `mapstructure:"default_payment_method"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type SweepConfig struct {
	// Interval of zero disables the in-process sweeper.
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads defaults, then the optional YAML file at path, then TOPUP_*
// environment variables. DATABASE_URL, DB_* and PORT are honoured as well.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("http.port", envPrefix+"_HTTP_PORT", "PORT")
	_ = v.BindEnv("database_url", envPrefix+"_DATABASE_URL", "DATABASE_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" && cfg.Store.Driver == DriverPostgres {
		cfg.DatabaseURL = databaseURLFromEnv()
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.bolt_path", "topup.db")
	v.SetDefault("store.timeout", 5*time.Second)
	v.SetDefault("database_url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.merchant_code", "")
	v.SetDefault("gateway.secret", "")
	v.SetDefault("gateway.signature_algorithm", gateway.AlgorithmHMACSHA256)
	v.SetDefault("gateway.callback_url", "")
	v.SetDefault("gateway.return_url", "")
	v.SetDefault("gateway.timeout", gateway.DefaultTimeout)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("topup.min_amount", 10_000)
	v.SetDefault("topup.max_amount", 10_000_000)
	v.SetDefault("topup.ttl", time.Hour)
	v.SetDefault("topup.default_payment_method", "VC")
	v.SetDefault("ratelimit.per_second", 1.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("sweep.interval", time.Minute)
}

// databaseURLFromEnv builds a keyword DSN from DB_* variables. It returns ""
// when the required ones are missing so Validate can report it.
func databaseURLFromEnv() string {
	host := strings.TrimSpace(os.Getenv("DB_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("DB_PORT"))
	if port == "" {
		port = "5432"
	}
	user := strings.TrimSpace(os.Getenv("DB_USER"))
	password := strings.TrimSpace(os.Getenv("DB_PASSWORD"))
	name := strings.TrimSpace(os.Getenv("DB_NAME"))
	sslmode := strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	if sslmode == "" {
		sslmode = "disable"
	}
	if user == "" || password == "" || name == "" {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host,
		port,
		user,
		password,
		name,
		sslmode,
	)
}

// ValidateStore checks only what opening the store needs.
func (c Config) ValidateStore() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL or DB_USER/DB_PASSWORD/DB_NAME are required")
		}
	case DriverBolt:
		if strings.TrimSpace(c.Store.BoltPath) == "" {
			return errors.New("store.bolt_path is required for the bolt driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout must be positive")
	}
	return nil
}

// Validate checks everything the HTTP server needs.
func (c Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}

	var errs []error
	if strings.TrimSpace(c.HTTP.Port) == "" {
		errs = append(errs, errors.New("http.port is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Webhook.Secret == "" {
		errs = append(errs, errors.New("webhook.secret is required"))
	}
	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		errs = append(errs, errors.New("gateway.base_url is required"))
	}
	if strings.TrimSpace(c.Gateway.MerchantCode) == "" {
		errs = append(errs, errors.New("gateway.merchant_code is required"))
	}
	if c.Gateway.Secret == "" {
		errs = append(errs, errors.New("gateway.secret is required"))
	}
	switch c.Gateway.SignatureAlgorithm {
	case gateway.AlgorithmHMACSHA256, gateway.AlgorithmMD5:
	default:
		errs = append(errs, fmt.Errorf("unknown gateway.signature_algorithm %q", c.Gateway.SignatureAlgorithm))
	}
	if c.Topup.MinAmount <= 0 {
		errs = append(errs, errors.New("topup.min_amount must be positive"))
	}
	if c.Topup.MaxAmount < c.Topup.MinAmount {
		errs = append(errs, errors.New("topup.max_amount must not be below topup.min_amount"))
	}
	if c.Topup.TTL <= 0 {
		errs = append(errs, errors.New("topup.ttl must be positive"))
	}
	if c.RateLimit.PerSecond < 0 {
		errs = append(errs, errors.New("ratelimit.per_second must not be negative"))
	}
	if c.Sweep.Interval < 0 {
		errs = append(errs, errors.New("sweep.interval must not be negative"))
	}
	return errors.Join(errs...)
}
