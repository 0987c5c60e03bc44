package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	CardPayBaseURL       string `env:"CARDPAY_BASE_URL" envDefault:"https://api.cardpay.test/v1"`
	CardPayAccessToken   string `env:"CARDPAY_ACCESS_TOKEN,required"`
	CardPayWebhookSecret string `env:"CARDPAY_WEBHOOK_SECRET,required"`

	OrderPayBaseURL       string `env:"ORDERPAY_BASE_URL" envDefault:"https://api.orderpay.test/v2"`
	OrderPayAccessToken   string `env:"ORDERPAY_ACCESS_TOKEN,required"`
	OrderPayWebhookSecret string `env:"ORDERPAY_WEBHOOK_SECRET,required"`

	ProviderEnv     string        `env:"PROVIDER_ENV" envDefault:"sandbox"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	PlatformFeeBps    int64         `env:"PLATFORM_FEE_BPS" envDefault:"1500"`
	RateMaxAge        time.Duration `env:"RATE_MAX_AGE" envDefault:"48h"`
	MinAmountCardPay  int64         `env:"MIN_AMOUNT_CARDPAY" envDefault:"100"`
	MinAmountOrderPay int64         `env:"MIN_AMOUNT_ORDERPAY" envDefault:"50"`

	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL" envDefault:"10m"`
	ReconcileGraceWindow time.Duration `env:"RECONCILE_GRACE_WINDOW" envDefault:"5m"`
	ReconcileMaxAttempts int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"20"`
	ReconcileMaxAge      time.Duration `env:"RECONCILE_MAX_AGE" envDefault:"168h"`
	ReconcileBatchSize   int           `env:"RECONCILE_BATCH_SIZE" envDefault:"50"`
	OrphanRetention      time.Duration `env:"ORPHAN_RETENTION" envDefault:"72h"`

	DedupCacheSize int `env:"DEDUP_CACHE_SIZE" envDefault:"10000"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
