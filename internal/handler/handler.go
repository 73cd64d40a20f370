package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/middleware"
	"github.com/rootp1/Tapp/internal/services"
)

// Handler 持有各接口依赖的服务
type Handler struct {
	payments   *services.PaymentService
	settlement *services.SettlementService
	ledger     *services.LedgerService
	db         *gorm.DB
	log        *zap.Logger

	startTime time.Time
	warmup    time.Duration
	adminKey  string
	adminIDs  []string
}

type Options struct {
	// Warmup 启动后多久 /readyz 才返回就绪，0 表示只检查数据库
	Warmup           time.Duration
	AdminAPIKey      string
	AdminTelegramIDs []string
}

func New(payments *services.PaymentService, settlement *services.SettlementService, ledger *services.LedgerService,
	conn *gorm.DB, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		payments:   payments,
		settlement: settlement,
		ledger:     ledger,
		db:         conn,
		log:        log,
		startTime:  time.Now(),
		warmup:     opts.Warmup,
		adminKey:   opts.AdminAPIKey,
		adminIDs:   opts.AdminTelegramIDs,
	}
}

// NewRouter 创建 gin engine 并注册全部路由
func NewRouter(h *Handler) (*gin.Engine, error) {
	if err := RegisterValidators(); err != nil {
		return nil, err
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log), gzip.Gzip(gzip.DefaultCompression))
	// 不信任任何代理头，管理接口的 loopback 判断依赖真实来源地址
	if err := r.SetTrustedProxies(nil); err != nil {
		return nil, err
	}
	h.RegisterRoutes(r)
	return r, nil
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readiness)

	payments := r.Group("/payments")
	payments.POST("/create", h.CreatePayment)
	payments.POST("/verify", h.VerifyPayment)
	payments.GET("/contract/health", h.ContractHealth)
	payments.GET("/contract/stats", h.ContractStats)
	payments.GET("/:transactionId/status", h.PaymentStatus)

	r.GET("/creator/stats", h.CreatorStats)
	r.POST("/creator/wallet", h.UpdateCreatorWallet)

	admin := r.Group("/admin", middleware.AdminOnly(h.adminKey, h.adminIDs))
	admin.GET("/stats", h.AdminStats)
	admin.GET("/transactions", h.RecentPayments)
	admin.POST("/posts/:postId/deactivate", h.DeactivatePost)
	admin.POST("/reconcile", h.Reconcile)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// statusFor 业务错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAlreadyProcessed),
		errors.Is(err, services.ErrAlreadyPurchased),
		errors.Is(err, services.ErrCreatorAddressMissing),
		errors.Is(err, services.ErrVerificationFailed),
		errors.Is(err, services.ErrInvalidAddress),
		errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrVerificationInProgress),
		errors.Is(err, services.ErrProofAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, services.ErrChainUnavailable),
		errors.Is(err, services.ErrContractNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
