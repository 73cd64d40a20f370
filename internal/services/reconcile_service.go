package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/contract"
	"github.com/rootp1/Tapp/internal/db"
	"github.com/rootp1/Tapp/internal/models"
	"github.com/rootp1/Tapp/utils"
)

// LedgerService 统计与对账。计数以 completed 状态的支付意图为准。
type LedgerService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewLedgerService(conn *gorm.DB, log *zap.Logger) *LedgerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerService{db: conn, log: log}
}

// Reconcile 在一个事务内重算 Post/User/Channel 的累计值
func (s *LedgerService) Reconcile(ctx context.Context) (*models.ReconcileResponse, error) {
	start := time.Now()
	var res *db.RecomputeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = db.RecomputeCounters(tx)
		return err
	})
	if err != nil {
		s.log.Error("reconcile ledger failed", zap.Error(err))
		return nil, err
	}
	s.log.Info("ledger reconciled",
		zap.Int("posts", res.Posts),
		zap.Int("users", res.Users),
		zap.Int("channels", res.Channels),
		zap.Duration("took", time.Since(start)))
	return &models.ReconcileResponse{Posts: res.Posts, Users: res.Users, Channels: res.Channels}, nil
}

func (s *LedgerService) CreatorStats(ctx context.Context, creatorID string) (*models.CreatorStatsResponse, error) {
	st, err := db.GetCreatorStats(s.db.WithContext(ctx), creatorID)
	if err != nil {
		return nil, err
	}
	return &models.CreatorStatsResponse{
		TotalPosts:     st.TotalPosts,
		TotalEarnings:  utils.FromNano(st.TotalEarnings).InexactFloat64(),
		TotalPurchases: st.TotalPurchases,
		TotalViews:     st.TotalViews,
	}, nil
}

func (s *LedgerService) AdminStats(ctx context.Context) (*models.AdminStatsResponse, error) {
	st, err := db.GetAdminStats(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &models.AdminStatsResponse{
		TotalUsers:        st.TotalUsers,
		TotalCreators:     st.TotalCreators,
		TotalPosts:        st.TotalPosts,
		TotalChannels:     st.TotalChannels,
		TotalTransactions: st.TotalTransactions,
		CompletedPayments: st.CompletedPayments,
		PendingPayments:   st.PendingPayments,
		FailedPayments:    st.FailedPayments,
		TotalVolume:       utils.FromNano(st.TotalVolume).InexactFloat64(),
		PlatformRevenue:   utils.FromNano(st.PlatformRevenue).InexactFloat64(),
	}, nil
}

const maxListLimit = 200

// RecentPayments 最近的支付意图，limit 取值 1..200，默认 50
func (s *LedgerService) RecentPayments(ctx context.Context, status string, limit int) ([]models.PaymentSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	intents, err := db.ListPaymentIntents(s.db.WithContext(ctx), status, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.PaymentSummary, 0, len(intents))
	for _, in := range intents {
		item := models.PaymentSummary{
			TransactionID:   in.TransactionID,
			PostID:          in.PostID,
			BuyerID:         in.BuyerID,
			CreatorID:       in.CreatorID,
			Amount:          utils.FromNano(in.Amount).InexactFloat64(),
			PlatformFee:     utils.FromNano(in.PlatformFee).InexactFloat64(),
			CreatorEarnings: utils.FromNano(in.CreatorEarnings).InexactFloat64(),
			Currency:        in.Currency,
			Status:          in.Status,
			CreatedAt:       in.CreatedAt,
		}
		if in.ChainTxHash != nil {
			item.TxHash = *in.ChainTxHash
		}
		out = append(out, item)
	}
	return out, nil
}

// DeactivatePost 下架内容，之后无法再创建该内容的支付
func (s *LedgerService) DeactivatePost(ctx context.Context, postID string) error {
	n, err := db.DeactivatePost(s.db.WithContext(ctx), postID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.log.Info("post deactivated", zap.String("post_id", postID))
	return nil
}

// UpdateCreatorWallet 绑定收款钱包；已创建的支付意图仍使用创建时的地址快照
func (s *LedgerService) UpdateCreatorWallet(ctx context.Context, userID, wallet string) (*models.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if !contract.ValidAddress(wallet) {
		return nil, fmt.Errorf("%w: walletAddress", ErrInvalidAddress)
	}
	user, err := db.UpsertCreatorWallet(s.db.WithContext(ctx), userID, wallet)
	if err != nil {
		return nil, err
	}
	s.log.Info("creator wallet updated", zap.String("user_id", userID), zap.String("wallet", wallet))
	return user, nil
}
