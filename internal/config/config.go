package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	JWTSecret  string `mapstructure:"JWT_SECRET"`
	CronSecret string `mapstructure:"CRON_SECRET"`

	DispatchInterval    time.Duration `mapstructure:"DISPATCH_INTERVAL"`
	DispatchGracePeriod time.Duration `mapstructure:"DISPATCH_GRACE_PERIOD"`
	DispatchBatchSize   int           `mapstructure:"DISPATCH_BATCH_SIZE"`
	DispatchConcurrency int           `mapstructure:"DISPATCH_CONCURRENCY"`

	GenerationInterval  time.Duration `mapstructure:"GENERATION_INTERVAL"`
	GenerationDaysAhead int           `mapstructure:"GENERATION_DAYS_AHEAD"`

	VAPIDPublicKey  string `mapstructure:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `mapstructure:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `mapstructure:"VAPID_SUBJECT"`

	SMSGatewayURL   string  `mapstructure:"SMS_GATEWAY_URL"`
	SMSAPIKey       string  `mapstructure:"SMS_API_KEY"`
	SMSUsername     string  `mapstructure:"SMS_USERNAME"`
	SMSSenderID     string  `mapstructure:"SMS_SENDER_ID"`
	SMSRateLimitRPS float64 `mapstructure:"SMS_RATE_LIMIT_RPS"`

	NotifyTemplatesFile string        `mapstructure:"NOTIFY_TEMPLATES_FILE"`
	ContactCacheTTL     time.Duration `mapstructure:"CONTACT_CACHE_TTL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("DISPATCH_INTERVAL", "1m")
	v.SetDefault("DISPATCH_GRACE_PERIOD", "15m")
	v.SetDefault("DISPATCH_BATCH_SIZE", 100)
	v.SetDefault("DISPATCH_CONCURRENCY", 4)
	v.SetDefault("GENERATION_INTERVAL", "24h")
	v.SetDefault("GENERATION_DAYS_AHEAD", 7)
	v.SetDefault("SMS_RATE_LIMIT_RPS", 10)
	v.SetDefault("CONTACT_CACHE_TTL", "5m")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CRON_SECRET")
	v.BindEnv("DISPATCH_INTERVAL")
	v.BindEnv("DISPATCH_GRACE_PERIOD")
	v.BindEnv("DISPATCH_BATCH_SIZE")
	v.BindEnv("DISPATCH_CONCURRENCY")
	v.BindEnv("GENERATION_INTERVAL")
	v.BindEnv("GENERATION_DAYS_AHEAD")
	v.BindEnv("VAPID_PUBLIC_KEY")
	v.BindEnv("VAPID_PRIVATE_KEY")
	v.BindEnv("VAPID_SUBJECT")
	v.BindEnv("SMS_GATEWAY_URL")
	v.BindEnv("SMS_API_KEY")
	v.BindEnv("SMS_USERNAME")
	v.BindEnv("SMS_SENDER_ID")
	v.BindEnv("SMS_RATE_LIMIT_RPS")
	v.BindEnv("NOTIFY_TEMPLATES_FILE")
	v.BindEnv("CONTACT_CACHE_TTL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests act as one account.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// JWT_SECRET must be set so that real bearer authentication is enforced, and
// the engine tuning values must be sane.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf(
			"JWT_SECRET must be set when ENV is %q. "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if c.DispatchInterval <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL must be positive, got %s", c.DispatchInterval)
	}
	if c.DispatchGracePeriod < 0 {
		return fmt.Errorf("DISPATCH_GRACE_PERIOD must not be negative, got %s", c.DispatchGracePeriod)
	}
	if c.DispatchBatchSize < 1 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be at least 1, got %d", c.DispatchBatchSize)
	}
	if c.DispatchConcurrency < 1 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1, got %d", c.DispatchConcurrency)
	}
	if c.GenerationInterval <= 0 {
		return fmt.Errorf("GENERATION_INTERVAL must be positive, got %s", c.GenerationInterval)
	}
	if c.GenerationDaysAhead < 1 || c.GenerationDaysAhead > 30 {
		return fmt.Errorf("GENERATION_DAYS_AHEAD must be between 1 and 30, got %d", c.GenerationDaysAhead)
	}

	// Web push requires the whole VAPID identity or none of it.
	vapidSet := 0
	for _, s := range []string{c.VAPIDPublicKey, c.VAPIDPrivateKey, c.VAPIDSubject} {
		if s != "" {
			vapidSet++
		}
	}
	if vapidSet != 0 && vapidSet != 3 {
		return fmt.Errorf("VAPID_PUBLIC_KEY, VAPID_PRIVATE_KEY and VAPID_SUBJECT must be set together")
	}

	return nil
}
