// Package notifier 向买家发送解锁内容，向创作者发送收款通知
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/rootp1/Tapp/internal/models"
	"github.com/rootp1/Tapp/utils"
)

type Notifier interface {
	DeliverContent(ctx context.Context, buyerID string, post *models.Post) error
	NotifyCreatorPayment(ctx context.Context, p CreatorPayment) error
}

// CreatorPayment 通知创作者的收款信息（金额为 nanoTON）
type CreatorPayment struct {
	CreatorID       string
	BuyerID         string
	PostID          string
	PostTitle       string
	Amount          int64
	CreatorEarnings int64
	TxHash          string
}

// LogNotifier 未配置 bot token 时使用，只写日志
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) DeliverContent(_ context.Context, buyerID string, post *models.Post) error {
	n.log.Info("content delivery (log only)",
		zap.String("buyer_id", buyerID),
		zap.String("post_id", post.PostID),
		zap.String("content_type", post.ContentType))
	return nil
}

func (n *LogNotifier) NotifyCreatorPayment(_ context.Context, p CreatorPayment) error {
	n.log.Info("creator payment notice (log only)",
		zap.String("creator_id", p.CreatorID),
		zap.String("post_id", p.PostID),
		zap.String("earned", utils.FormatTON(p.CreatorEarnings)),
		zap.String("tx_hash", p.TxHash))
	return nil
}
