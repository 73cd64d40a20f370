package main

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/chain"
	"github.com/rootp1/Tapp/internal/config"
	"github.com/rootp1/Tapp/internal/contract"
	"github.com/rootp1/Tapp/internal/db"
	"github.com/rootp1/Tapp/internal/notifier"
	"github.com/rootp1/Tapp/internal/services"
	"github.com/rootp1/Tapp/utils"
)

// app 进程内共享的依赖
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	redis      *redis.Client
	payments   *services.PaymentService
	settlement *services.SettlementService
	ledger     *services.LedgerService
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if err := utils.InitLogger(cfg.App.LogLevel); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := utils.L()

	conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Debug)
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	a := &app{cfg: cfg, db: conn}

	reader, err := newChainReader(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	var locker services.Locker
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis 连接失败: %w", err)
		}
		locker = services.NewRedisLocker(a.redis, cfg.VerifyLockTTL())
		log.Info("verify lock backed by redis", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.VerifyLockTTL()))
	} else {
		locker = services.NewLocalLocker()
	}

	n, err := newNotifier(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	matcher := services.NewPaymentMatcher(reader, services.MatcherConfig{
		MaxRetries:              cfg.Payment.MatchRetries,
		RetryDelay:              cfg.Payment.MatchRetryDelay,
		TolerancePercent:        cfg.TolerancePercent(),
		RecencyWindow:           cfg.Payment.RecencyWindow,
		FetchLimit:              cfg.TON.FetchLimit,
		AllowAmountOnlyFallback: cfg.Payment.AllowAmountOnlyFallback,
	}, log.Named("matcher"))

	a.payments = services.NewPaymentService(conn, reader, services.PaymentConfig{
		FeePercent: cfg.FeePercent(),
		Currency:   cfg.Payment.Currency,
	}, log.Named("payment"))
	a.settlement = services.NewSettlementService(conn, matcher, n, locker, log.Named("settlement"))
	a.ledger = services.NewLedgerService(conn, log.Named("ledger"))
	return a, nil
}

// newChainReader 未配置合约地址时返回 nil，支付接口会报 ErrContractNotConfigured
func newChainReader(ctx context.Context, cfg *config.Config, log *zap.Logger) (chain.Reader, error) {
	if cfg.TON.ContractAddress == "" {
		log.Warn("payment contract address not configured, payments disabled")
		return nil, nil
	}
	addr, err := contract.ParseAddress(cfg.TON.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("ton.contract_address: %w", err)
	}

	switch cfg.TON.Backend {
	case "liteserver":
		url := cfg.TON.LiteserverConfigURL
		if url == "" {
			url = chain.GlobalConfigForNetwork(cfg.TON.Network)
		}
		ls, err := chain.DialLiteserver(ctx, url, addr, log.Named("liteserver"))
		if err != nil {
			return nil, err
		}
		log.Info("chain reader ready", zap.String("backend", "liteserver"), zap.String("config", url))
		return ls, nil
	default:
		endpoint := cfg.TON.Endpoint
		if endpoint == "" {
			endpoint = chain.EndpointForNetwork(cfg.TON.Network)
		}
		tc, err := chain.NewToncenter(chain.ToncenterConfig{
			Endpoint:          endpoint,
			APIKey:            cfg.TON.APIKey,
			Contract:          addr,
			RequestsPerSecond: cfg.RequestsPerSecond(),
			Timeout:           cfg.TON.HTTPTimeout,
			Logger:            log.Named("toncenter"),
		})
		if err != nil {
			return nil, err
		}
		log.Info("chain reader ready", zap.String("backend", "toncenter"), zap.String("endpoint", endpoint))
		return tc, nil
	}
}

func newNotifier(cfg *config.Config, log *zap.Logger) (notifier.Notifier, error) {
	if cfg.Telegram.BotToken == "" {
		log.Warn("telegram bot token not configured, deliveries are logged only")
		return notifier.NewLogNotifier(log.Named("notifier")), nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot 初始化失败: %w", err)
	}
	log.Info("telegram notifier ready", zap.String("bot", bot.Self.UserName))
	return notifier.NewTelegramNotifier(bot, cfg.Telegram.DeliveryRetries, cfg.Telegram.DeliveryRetryDelay, log.Named("notifier")), nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	utils.Sync()
}
