// Package config 从 config.yaml、.env 和环境变量读取配置
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Port             int      `mapstructure:"port"`
		LogLevel         string   `mapstructure:"log_level"`
		AdminAPIKey      string   `mapstructure:"admin_api_key"`
		AdminTelegramIDs []string `mapstructure:"admin_telegram_ids"`
	} `mapstructure:"app"`
	Database struct {
		Driver string `mapstructure:"driver"` // mysql / postgres / sqlite
		DSN    string `mapstructure:"dsn"`
		Debug  bool   `mapstructure:"debug"`
	} `mapstructure:"database"`
	TON struct {
		Network             string        `mapstructure:"network"` // mainnet / testnet
		Backend             string        `mapstructure:"backend"` // toncenter / liteserver
		Endpoint            string        `mapstructure:"endpoint"`
		APIKey              string        `mapstructure:"api_key"`
		ContractAddress     string        `mapstructure:"contract_address"`
		LiteserverConfigURL string        `mapstructure:"liteserver_config_url"`
		FetchLimit          int           `mapstructure:"fetch_limit"`
		RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
		HTTPTimeout         time.Duration `mapstructure:"http_timeout"`
	} `mapstructure:"ton"`
	Payment struct {
		PlatformFeePercent      float64       `mapstructure:"platform_fee_percent"`
		Currency                string        `mapstructure:"currency"`
		MatchRetries            int           `mapstructure:"match_retries"`
		MatchRetryDelay         time.Duration `mapstructure:"match_retry_delay"`
		AmountTolerancePercent  float64       `mapstructure:"amount_tolerance_percent"`
		RecencyWindow           time.Duration `mapstructure:"recency_window"`
		AllowAmountOnlyFallback bool          `mapstructure:"allow_amount_only_fallback"`
	} `mapstructure:"payment"`
	Telegram struct {
		BotToken           string        `mapstructure:"bot_token"`
		DeliveryRetries    int           `mapstructure:"delivery_retries"`
		DeliveryRetryDelay time.Duration `mapstructure:"delivery_retry_delay"`
	} `mapstructure:"telegram"`
	Redis struct {
		Addr     string        `mapstructure:"addr"` // 为空时使用进程内锁
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		LockTTL  time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", 3000)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.admin_api_key", "")
	v.SetDefault("app.admin_telegram_ids", []string{})

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.debug", false)

	v.SetDefault("ton.network", "testnet")
	v.SetDefault("ton.backend", "toncenter")
	v.SetDefault("ton.endpoint", "")
	v.SetDefault("ton.api_key", "")
	v.SetDefault("ton.contract_address", "")
	v.SetDefault("ton.liteserver_config_url", "")
	v.SetDefault("ton.fetch_limit", 50)
	v.SetDefault("ton.requests_per_second", 0)
	v.SetDefault("ton.http_timeout", 10*time.Second)

	v.SetDefault("payment.platform_fee_percent", 5)
	v.SetDefault("payment.currency", "TON")
	v.SetDefault("payment.match_retries", 10)
	v.SetDefault("payment.match_retry_delay", 3*time.Second)
	v.SetDefault("payment.amount_tolerance_percent", 10)
	v.SetDefault("payment.recency_window", 600*time.Second)
	v.SetDefault("payment.allow_amount_only_fallback", false)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.delivery_retries", 3)
	v.SetDefault("telegram.delivery_retry_delay", 2*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", time.Minute)
}

// 兼容旧部署使用的环境变量名
var legacyEnv = map[string]string{
	"app.port":                     "PORT",
	"app.admin_telegram_ids":       "ADMIN_TELEGRAM_IDS",
	"database.dsn":                 "DATABASE_URL",
	"ton.network":                  "TON_NETWORK",
	"ton.api_key":                  "TON_API_KEY",
	"ton.contract_address":         "PAYMENT_CONTRACT_ADDRESS",
	"payment.platform_fee_percent": "PLATFORM_FEE_PERCENT",
	"telegram.bot_token":           "TELEGRAM_BOT_TOKEN",
}

// Load 读取配置。path 为空时在当前目录查找 config.yaml，文件不存在不算错误。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, env := range legacyEnv {
		upper := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, upper, env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Payment.PlatformFeePercent < 0 || c.Payment.PlatformFeePercent >= 100 {
		return fmt.Errorf("payment.platform_fee_percent must be in [0, 100), got %v", c.Payment.PlatformFeePercent)
	}
	if c.Payment.AmountTolerancePercent <= 0 || c.Payment.AmountTolerancePercent >= 100 {
		return fmt.Errorf("payment.amount_tolerance_percent must be in (0, 100), got %v", c.Payment.AmountTolerancePercent)
	}
	switch c.TON.Network {
	case "mainnet", "testnet":
	default:
		return fmt.Errorf("ton.network must be mainnet or testnet, got %q", c.TON.Network)
	}
	switch c.TON.Backend {
	case "toncenter", "liteserver":
	default:
		return fmt.Errorf("ton.backend must be toncenter or liteserver, got %q", c.TON.Backend)
	}
	return nil
}

// FeePercent 平台费率
func (c *Config) FeePercent() decimal.Decimal {
	return decimal.NewFromFloat(c.Payment.PlatformFeePercent)
}

func (c *Config) TolerancePercent() decimal.Decimal {
	return decimal.NewFromFloat(c.Payment.AmountTolerancePercent)
}

// RequestsPerSecond 未显式配置时，有 API key 为 10，否则为 1
func (c *Config) RequestsPerSecond() float64 {
	if c.TON.RequestsPerSecond > 0 {
		return c.TON.RequestsPerSecond
	}
	if c.TON.APIKey != "" {
		return 10
	}
	return 1
}

// VerifyLockTTL 验证锁有效期，不短于一次完整匹配的最坏耗时（每次轮询超时加重试间隔，再留 30s 落账余量）
func (c *Config) VerifyLockTTL() time.Duration {
	retries := c.Payment.MatchRetries
	if retries <= 0 {
		retries = 1
	}
	budget := time.Duration(retries)*(c.TON.HTTPTimeout+c.Payment.MatchRetryDelay) + 30*time.Second
	if c.Redis.LockTTL > budget {
		return c.Redis.LockTTL
	}
	return budget
}
