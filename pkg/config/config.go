package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix  = "lunamail"
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	PayPal   PayPalConfig
	Sendgrid SendgridConfig
	Alerts   AlertsConfig
	Sync     SyncConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LUNAMAIL_APP_ENV" required:"true"`
	Port         string `envconfig:"LUNAMAIL_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LUNAMAIL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LUNAMAIL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LUNAMAIL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LUNAMAIL_DB_DSN"`
	Driver string `envconfig:"LUNAMAIL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LUNAMAIL_DB_HOST"`
	LegacyPort     int    `envconfig:"LUNAMAIL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LUNAMAIL_DB_USER"`
	LegacyPassword string `envconfig:"LUNAMAIL_DB_PASSWORD"`
	LegacyName     string `envconfig:"LUNAMAIL_DB_NAME"`
	LegacySSLMode  string `envconfig:"LUNAMAIL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LUNAMAIL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LUNAMAIL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LUNAMAIL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LUNAMAIL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LUNAMAIL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LUNAMAIL_REDIS_ADDR"`
	Password     string        `envconfig:"LUNAMAIL_REDIS_PASSWORD"`
	DB           int           `envconfig:"LUNAMAIL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LUNAMAIL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LUNAMAIL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LUNAMAIL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LUNAMAIL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LUNAMAIL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"LUNAMAIL_STRIPE_API_KEY"`
	Secret string `envconfig:"LUNAMAIL_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"LUNAMAIL_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	BaseURL      string        `envconfig:"LUNAMAIL_PAYPAL_BASE_URL" default:"https://api-m.paypal.com"`
	ClientID     string        `envconfig:"LUNAMAIL_PAYPAL_CLIENT_ID"`
	ClientSecret string        `envconfig:"LUNAMAIL_PAYPAL_CLIENT_SECRET"`
	WebhookID    string        `envconfig:"LUNAMAIL_PAYPAL_WEBHOOK_ID"`
	HTTPTimeout  time.Duration `envconfig:"LUNAMAIL_PAYPAL_HTTP_TIMEOUT" default:"30s"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"LUNAMAIL_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"LUNAMAIL_SENDGRID_FROM_EMAIL" default:"support@lunamail.io"`
}

type AlertsConfig struct {
	AdminEmail string `envconfig:"LUNAMAIL_ALERTS_ADMIN_EMAIL" default:"support@lunamail.io"`
}

type SyncConfig struct {
	Interval       time.Duration `envconfig:"LUNAMAIL_SYNC_INTERVAL" default:"24h"`
	ErrorThreshold int           `envconfig:"LUNAMAIL_SYNC_ERROR_THRESHOLD" default:"5"`
	DisputeDelay   time.Duration `envconfig:"LUNAMAIL_DISPUTE_REFUND_DELAY" default:"5s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		"LUNAMAIL_DB_HOST": db.LegacyHost,
		"LUNAMAIL_DB_USER": db.LegacyUser,
		"LUNAMAIL_DB_NAME": db.LegacyName,
	}
	for _, key := range []string{"LUNAMAIL_DB_HOST", "LUNAMAIL_DB_USER", "LUNAMAIL_DB_NAME"} {
		if legacyValues[key] == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either LUNAMAIL_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
