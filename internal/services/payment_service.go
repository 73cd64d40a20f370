package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/chain"
	"github.com/rootp1/Tapp/internal/contract"
	"github.com/rootp1/Tapp/internal/db"
	"github.com/rootp1/Tapp/internal/models"
	"github.com/rootp1/Tapp/utils"
)

type PaymentConfig struct {
	FeePercent decimal.Decimal
	Currency   string
}

// PaymentService 创建支付意图、查询状态
type PaymentService struct {
	db     *gorm.DB
	reader chain.Reader
	cfg    PaymentConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewPaymentService(conn *gorm.DB, reader chain.Reader, cfg PaymentConfig, log *zap.Logger) *PaymentService {
	if cfg.Currency == "" {
		cfg.Currency = "TON"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{db: conn, reader: reader, cfg: cfg, log: log, now: time.Now}
}

// CreatePayment 创建 pending 状态的支付意图，并返回钱包需要附带的消息体
func (s *PaymentService) CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*models.CreatePaymentResponse, error) {
	if s.reader == nil || s.reader.ContractAddress() == nil {
		return nil, ErrContractNotConfigured
	}
	req.PostID = strings.TrimSpace(req.PostID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.PostID == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: postId and userId are required", ErrInvalidRequest)
	}
	if req.WalletAddress != "" && !contract.ValidAddress(req.WalletAddress) {
		return nil, fmt.Errorf("%w: walletAddress", ErrInvalidAddress)
	}
	if req.CreatorAddress != "" && !contract.ValidAddress(req.CreatorAddress) {
		return nil, fmt.Errorf("%w: creatorAddress", ErrInvalidAddress)
	}

	conn := s.db.WithContext(ctx)

	purchased, err := db.PurchaseExists(conn, req.UserID, req.PostID)
	if err != nil {
		return nil, err
	}
	if purchased {
		return nil, ErrAlreadyPurchased
	}

	post, err := db.GetPost(conn, req.PostID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !post.IsActive {
		return nil, ErrNotFound
	}

	creatorRaw, err := s.resolveCreatorAddress(conn, post, req.CreatorAddress)
	if err != nil {
		return nil, err
	}
	creator, err := contract.ParseAddress(creatorRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: creator: %v", ErrInvalidAddress, err)
	}

	buyerWallet := req.WalletAddress
	if buyerWallet == "" {
		if buyer, err := db.GetUser(conn, req.UserID); err == nil {
			buyerWallet = buyer.WalletAddress
		}
	}

	platformFee, creatorEarnings := utils.SplitFee(post.Price, s.cfg.FeePercent)
	queryID := uint64(s.now().UnixMilli())
	body, err := contract.EncodeBase64(queryID, contract.PostIDToHash(post.PostID), creator, nil)
	if err != nil {
		return nil, fmt.Errorf("encode payment body: %w", err)
	}

	intent := &models.PaymentIntent{
		TransactionID:      utils.GenerateID("tx"),
		PostID:             post.PostID,
		BuyerID:            req.UserID,
		CreatorID:          post.CreatorID,
		Amount:             post.Price,
		PlatformFee:        platformFee,
		CreatorEarnings:    creatorEarnings,
		Currency:           s.cfg.Currency,
		Status:             models.StatusPending,
		BuyerWalletAddress: buyerWallet,
		CreatorAddress:     creator.String(),
		QueryID:            queryID,
	}
	if err := db.CreatePaymentIntent(conn, intent); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	s.log.Info("payment intent created",
		zap.String("transaction_id", intent.TransactionID),
		zap.String("post_id", intent.PostID),
		zap.String("buyer_id", intent.BuyerID),
		zap.Int64("amount_nano", intent.Amount))

	return &models.CreatePaymentResponse{
		TransactionID:    intent.TransactionID,
		Amount:           utils.FromNano(intent.Amount).InexactFloat64(),
		AmountNano:       strconv.FormatInt(intent.Amount, 10),
		Currency:         intent.Currency,
		RecipientAddress: s.reader.ContractAddress().String(),
		MessageBody:      body,
		QueryID:          queryID,
	}, nil
}

// resolveCreatorAddress 内容上的快照 > 请求参数 > 创作者当前钱包
func (s *PaymentService) resolveCreatorAddress(conn *gorm.DB, post *models.Post, requested string) (string, error) {
	if post.CreatorWalletAddress != "" {
		return post.CreatorWalletAddress, nil
	}
	if requested != "" {
		return requested, nil
	}
	wallet, err := db.CreatorWallet(conn, post.CreatorID)
	if err != nil {
		return "", err
	}
	if wallet == "" {
		return "", ErrCreatorAddressMissing
	}
	return wallet, nil
}

func (s *PaymentService) GetStatus(ctx context.Context, transactionID string) (*models.PaymentIntent, error) {
	intent, err := db.GetPaymentIntent(s.db.WithContext(ctx), transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return intent, nil
}

// ContractHealth 合约地址已配置且链上读取正常时 ready=true
func (s *PaymentService) ContractHealth(ctx context.Context) (ready bool, address string) {
	if s.reader == nil || s.reader.ContractAddress() == nil {
		return false, ""
	}
	address = s.reader.ContractAddress().String()
	if err := chain.Ping(ctx, s.reader); err != nil {
		s.log.Warn("contract health check failed", zap.Error(err))
		return false, address
	}
	return true, address
}

// ContractStats 读取合约累计处理笔数、平台地址、费率和余额
func (s *PaymentService) ContractStats(ctx context.Context) (*models.ContractStatsResponse, error) {
	if s.reader == nil || s.reader.ContractAddress() == nil {
		return nil, ErrContractNotConfigured
	}
	sr, ok := s.reader.(chain.StatsReader)
	if !ok {
		return nil, ErrContractNotConfigured
	}
	stats, err := sr.ContractStats(ctx)
	if err != nil {
		s.log.Warn("read contract stats failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}

	out := &models.ContractStatsResponse{
		Balance: utils.FromNanoBig(stats.Balance).StringFixed(4),
	}
	if stats.TotalProcessed != nil {
		out.TotalProcessed = stats.TotalProcessed.Int64()
	}
	if stats.PlatformFeePercent != nil {
		out.PlatformFeePercent = stats.PlatformFeePercent.Int64()
	}
	if stats.PlatformAddress != nil {
		out.PlatformAddress = stats.PlatformAddress.String()
	}
	return out, nil
}
