package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "evcharge/backend/libs/config"
	"evcharge/backend/services/charging-controller/internal/controller"
	"evcharge/backend/services/charging-controller/internal/models"
	"evcharge/backend/services/charging-controller/internal/navguard"
	"evcharge/backend/services/charging-controller/internal/store"
)

// Config defines charging controller configuration.
type Config struct {
	HTTP struct {
		Port    string `yaml:"port" env:"CHARGING_HTTP_PORT"`
		WebRoot string `yaml:"webRoot" env:"CHARGING_WEB_ROOT"`
	} `yaml:"http"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret" env:"JWT_SECRET"`
	} `yaml:"auth"`
	Backend struct {
		BaseURL string        `yaml:"baseURL" env:"CHARGING_BACKEND_URL"`
		Token   string        `yaml:"token" env:"CHARGING_BACKEND_TOKEN"`
		Timeout time.Duration `yaml:"timeout" env:"CHARGING_BACKEND_TIMEOUT"`
	} `yaml:"backend"`
	Store struct {
		Backend   string `yaml:"backend" env:"CHARGING_STORE_BACKEND"`
		Namespace string `yaml:"namespace" env:"CHARGING_STORE_NAMESPACE"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr" env:"CHARGING_REDIS_ADDR"`
		Password string `yaml:"password" env:"CHARGING_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"CHARGING_REDIS_DB"`
		TTL      int    `yaml:"ttlSeconds" env:"CHARGING_REDIS_TTL"`
	} `yaml:"redis"`
	Database struct {
		DSN string `yaml:"dsn" env:"CHARGING_POSTGRES_DSN"`
	} `yaml:"database"`
	Charging controller.Config `yaml:"charging"`
	Routes   navguard.Routes   `yaml:"routes"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Charging.Settlement.Routes = cfg.Routes
	return cfg, nil
}

// Default returns the stock configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "8086"
	cfg.Backend.Timeout = 10 * time.Second
	cfg.Store.Backend = store.BackendMemory
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.TTL = 7 * 24 * 3600
	cfg.Charging = controller.Config{
		Tick: controller.TickConfig{
			Interval:    time.Second,
			Increment:   0.45,
			FullEpsilon: 0.001,
		},
		TargetSOC:          1,
		MaxDeadlineDelay:   controller.DefaultMaxTimerDelay,
		CompletedRetention: controller.DefaultCompletedRetention,
		Settlement: controller.SettlementConfig{
			ImmediateMethods: []string{models.PaymentMethodWallet, models.PaymentMethodCashOnSite},
			ForcedMethod:     models.PaymentMethodCard,
			DefaultCurrency:  "RUB",
		},
	}
	cfg.Routes = navguard.DefaultRoutes()
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("config: backend base url required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: jwt secret required")
	}
	switch c.Store.Backend {
	case store.BackendMemory:
	case store.BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("config: redis addr required")
		}
	case store.BackendPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database dsn required")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	tick := c.Charging.Tick
	if tick.Interval <= 0 || tick.Increment <= 0 {
		return errors.New("config: tick interval and increment must be positive")
	}
	if tick.FullEpsilon < 0 || tick.FullEpsilon >= 1 {
		return errors.New("config: full epsilon must be in [0,1)")
	}
	if c.Charging.TargetSOC <= 0 || c.Charging.TargetSOC > 1 {
		return errors.New("config: target soc must be in (0,1]")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8086"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// StoreTTL returns redis record ttl as duration.
func (c *Config) StoreTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 0
	}
	return time.Duration(c.Redis.TTL) * time.Second
}
