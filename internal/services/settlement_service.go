package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/contract"
	"github.com/rootp1/Tapp/internal/db"
	"github.com/rootp1/Tapp/internal/models"
	"github.com/rootp1/Tapp/internal/notifier"
	"github.com/rootp1/Tapp/utils"
)

const maxProofRefLen = 2048

// Matcher 由 PaymentMatcher 实现
type Matcher interface {
	Match(ctx context.Context, q PaymentQuery) (*MatchResult, error)
}

type SettlementResult struct {
	TransactionID string
	Status        string
	TxHash        string
	// AlreadySettled 并发请求已完成结算，本次未重复累加
	AlreadySettled bool
	Delivered      bool
}

// SettlementService 驱动支付意图的状态机：pending -> completed / failed
type SettlementService struct {
	db              *gorm.DB
	matcher         Matcher
	notifier        notifier.Notifier
	locker          Locker
	deliveryTimeout time.Duration
	log             *zap.Logger
}

func NewSettlementService(conn *gorm.DB, matcher Matcher, n notifier.Notifier, locker Locker, log *zap.Logger) *SettlementService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if n == nil {
		n = notifier.NewLogNotifier(log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementService{
		db:              conn,
		matcher:         matcher,
		notifier:        n,
		locker:          locker,
		deliveryTimeout: 30 * time.Second,
		log:             log,
	}
}

// VerifyAndSettle 校验链上付款并落账。proof 可以是 BOC（base64）或交易哈希。
func (s *SettlementService) VerifyAndSettle(ctx context.Context, transactionID, proof string) (*SettlementResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transactionId is required", ErrInvalidRequest)
	}
	log := s.log.With(zap.String("transaction_id", transactionID))

	release, err := s.locker.TryLock(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrVerificationInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("acquire verify lock: %w", err)
	}
	defer release()

	conn := s.db.WithContext(ctx)
	intent, err := db.GetPaymentIntent(conn, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if intent.Status != models.StatusPending {
		return nil, ErrAlreadyProcessed
	}

	purchased, err := db.PurchaseExists(conn, intent.BuyerID, intent.PostID)
	if err != nil {
		return nil, err
	}
	if purchased {
		return nil, ErrAlreadyPurchased
	}

	creatorAddr, err := s.creatorAddress(conn, intent)
	if err != nil {
		return nil, err
	}

	res, err := s.matcher.Match(ctx, PaymentQuery{
		ExpectedAmount: utils.FromNano(intent.Amount),
		CreatorAddress: creatorAddr,
		BuyerAddress:   intent.BuyerWalletAddress,
		ProofHash:      proof,
		IsConsumed: func(ctx context.Context, txHash string) (bool, error) {
			return db.ChainTxConsumed(s.db.WithContext(ctx), txHash, transactionID)
		},
	})
	if err != nil {
		log.Warn("payment verification aborted", zap.Error(err))
		return nil, err
	}

	proofRef := truncate(strings.TrimSpace(proof), maxProofRefLen)
	// 链上结果已确定，落账不受请求取消影响
	persistCtx := context.WithoutCancel(ctx)

	if !res.Verified {
		if _, err := db.MarkIntentFailed(s.db.WithContext(persistCtx), transactionID, proofRef); err != nil {
			return nil, fmt.Errorf("mark intent failed: %w", err)
		}
		log.Info("payment not found on chain", zap.Int("attempts", res.Attempts))
		return &SettlementResult{TransactionID: transactionID, Status: models.StatusFailed}, ErrVerificationFailed
	}

	if res.Tier == TierStrong && res.PostIDHash != contract.PostIDToHash(intent.PostID) {
		log.Warn("payment body references a different post",
			zap.String("tx_hash", res.TxHash), zap.Uint64("post_id_hash", res.PostIDHash))
	}

	result := &SettlementResult{TransactionID: transactionID, Status: models.StatusCompleted, TxHash: res.TxHash}
	err = s.db.WithContext(persistCtx).Transaction(func(tx *gorm.DB) error {
		n, err := db.CompleteIntent(tx, transactionID, res.TxHash, proofRef)
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrProofAlreadyUsed
			}
			return err
		}
		if n == 0 {
			result.AlreadySettled = true
			return nil
		}

		created, err := db.InsertPurchase(tx, &models.Purchase{
			BuyerID:       intent.BuyerID,
			PostID:        intent.PostID,
			TransactionID: transactionID,
		})
		if err != nil {
			return err
		}
		if !created {
			// 并发请求已创建购买记录，视为成功且不再累加
			result.AlreadySettled = true
			return nil
		}
		return db.ApplySettlementCounters(tx, intent)
	})
	if err != nil {
		log.Error("settle payment failed", zap.String("tx_hash", res.TxHash), zap.Error(err))
		return nil, err
	}

	log.Info("payment settled",
		zap.String("tx_hash", res.TxHash),
		zap.Stringer("tier", res.Tier),
		zap.Bool("already_settled", result.AlreadySettled))

	if !result.AlreadySettled {
		result.Delivered = s.deliver(persistCtx, intent, res.TxHash)
	}
	return result, nil
}

// creatorAddress 优先使用创建时的快照，旧数据回退到创作者当前钱包
func (s *SettlementService) creatorAddress(conn *gorm.DB, intent *models.PaymentIntent) (string, error) {
	if intent.CreatorAddress != "" {
		return intent.CreatorAddress, nil
	}
	wallet, err := db.CreatorWallet(conn, intent.CreatorID)
	if err != nil {
		return "", err
	}
	if wallet == "" {
		return "", ErrCreatorAddressMissing
	}
	return wallet, nil
}

// deliver 发送内容和创作者通知，失败只记录日志
func (s *SettlementService) deliver(ctx context.Context, intent *models.PaymentIntent, txHash string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()
	log := s.log.With(zap.String("transaction_id", intent.TransactionID))

	post, err := db.GetPost(s.db.WithContext(ctx), intent.PostID)
	if err != nil {
		log.Error("load post for delivery failed", zap.Error(err))
		return false
	}

	delivered := true
	if err := s.notifier.DeliverContent(ctx, intent.BuyerID, post); err != nil {
		log.Error("deliver content failed", zap.Error(err))
		delivered = false
	}
	if err := s.notifier.NotifyCreatorPayment(ctx, notifier.CreatorPayment{
		CreatorID:       intent.CreatorID,
		BuyerID:         intent.BuyerID,
		PostID:          intent.PostID,
		PostTitle:       post.TeaserText,
		Amount:          intent.Amount,
		CreatorEarnings: intent.CreatorEarnings,
		TxHash:          txHash,
	}); err != nil {
		log.Warn("notify creator failed", zap.Error(err))
	}
	return delivered
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
