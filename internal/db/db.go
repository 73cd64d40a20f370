// Package db 账本存储（gorm）：支付意图、购买记录以及结算维护的聚合计数
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rootp1/Tapp/internal/models"
)

// Open 按驱动名连接数据库，唯一键冲突统一转换为 gorm.ErrDuplicatedKey
func Open(driver, dsn string, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql", "":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return conn, nil
}

// Ping 检查连接是否可用
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// 支付意图

func CreatePaymentIntent(db *gorm.DB, intent *models.PaymentIntent) error {
	return db.Create(intent).Error
}

func GetPaymentIntent(db *gorm.DB, transactionID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := db.Where("transaction_id = ?", transactionID).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// MarkIntentFailed 仅当状态仍为 pending 时置为 failed，返回影响行数
func MarkIntentFailed(db *gorm.DB, transactionID, proofRef string) (int64, error) {
	res := db.Model(&models.PaymentIntent{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":    models.StatusFailed,
			"proof_ref": proofRef,
		})
	return res.RowsAffected, res.Error
}

// CompleteIntent 仅当状态仍为 pending 时置为 completed 并绑定链上哈希。
// chain_tx_hash 唯一，同一笔链上交易被第二个意图使用时返回 gorm.ErrDuplicatedKey。
func CompleteIntent(db *gorm.DB, transactionID, chainTxHash, proofRef string) (int64, error) {
	res := db.Model(&models.PaymentIntent{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":        models.StatusCompleted,
			"chain_tx_hash": chainTxHash,
			"proof_ref":     proofRef,
		})
	return res.RowsAffected, res.Error
}

// ChainTxConsumed 链上哈希是否已被其他意图占用
func ChainTxConsumed(db *gorm.DB, chainTxHash, exceptTransactionID string) (bool, error) {
	var n int64
	err := db.Model(&models.PaymentIntent{}).
		Where("chain_tx_hash = ? AND transaction_id <> ?", chainTxHash, exceptTransactionID).
		Count(&n).Error
	return n > 0, err
}

// 购买记录

func PurchaseExists(db *gorm.DB, buyerID, postID string) (bool, error) {
	var n int64
	err := db.Model(&models.Purchase{}).
		Where("buyer_id = ? AND post_id = ?", buyerID, postID).
		Count(&n).Error
	return n > 0, err
}

// InsertPurchase 冲突时不报错，created=false 表示记录已存在
func InsertPurchase(db *gorm.DB, p *models.Purchase) (created bool, err error) {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListPaymentIntents 按创建时间倒序，status 为空时不过滤
func ListPaymentIntents(db *gorm.DB, status string, limit int) ([]models.PaymentIntent, error) {
	q := db.Order("created_at DESC, id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var intents []models.PaymentIntent
	if err := q.Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

// 内容与用户

// DeactivatePost 下架内容，已购用户不受影响
func DeactivatePost(db *gorm.DB, postID string) (int64, error) {
	res := db.Model(&models.Post{}).Where("post_id = ?", postID).Update("is_active", false)
	return res.RowsAffected, res.Error
}

func GetPost(db *gorm.DB, postID string) (*models.Post, error) {
	var post models.Post
	if err := db.Where("post_id = ?", postID).First(&post).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

func GetUser(db *gorm.DB, telegramID string) (*models.User, error) {
	var user models.User
	if err := db.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreatorWallet 返回创作者当前绑定的钱包，未绑定时为空串
func CreatorWallet(db *gorm.DB, creatorID string) (string, error) {
	user, err := GetUser(db, creatorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return user.WalletAddress, nil
}

// UpsertCreatorWallet 绑定创作者收款钱包，用户不存在时创建，并标记为创作者
func UpsertCreatorWallet(db *gorm.DB, telegramID, wallet string) (*models.User, error) {
	user := &models.User{TelegramID: telegramID, WalletAddress: wallet, IsCreator: true}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"wallet_address", "is_creator", "updated_at"}),
	}).Create(user).Error; err != nil {
		return nil, err
	}
	return GetUser(db, telegramID)
}

// ApplySettlementCounters 结算成功后累加各聚合计数，调用方负责放在同一事务内。
// 内容已被删除时跳过内容和频道计数，用户计数照常累加。
func ApplySettlementCounters(db *gorm.DB, intent *models.PaymentIntent) error {
	post, err := GetPost(db, intent.PostID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load post %s: %w", intent.PostID, err)
	}

	if post != nil {
		if err := db.Model(&models.Post{}).Where("post_id = ?", intent.PostID).Updates(map[string]interface{}{
			"purchases":      gorm.Expr("purchases + ?", 1),
			"total_earnings": gorm.Expr("total_earnings + ?", intent.CreatorEarnings),
		}).Error; err != nil {
			return fmt.Errorf("increment post: %w", err)
		}
	}

	if err := db.Model(&models.User{}).Where("telegram_id = ?", intent.BuyerID).
		Update("total_spent", gorm.Expr("total_spent + ?", intent.Amount)).Error; err != nil {
		return fmt.Errorf("increment buyer: %w", err)
	}

	if err := db.Model(&models.User{}).Where("telegram_id = ?", intent.CreatorID).
		Update("total_earned", gorm.Expr("total_earned + ?", intent.CreatorEarnings)).Error; err != nil {
		return fmt.Errorf("increment creator: %w", err)
	}

	if post != nil && post.ChannelID != "" {
		if err := db.Model(&models.Channel{}).Where("channel_id = ?", post.ChannelID).
			Update("total_earnings", gorm.Expr("total_earnings + ?", intent.CreatorEarnings)).Error; err != nil {
			return fmt.Errorf("increment channel: %w", err)
		}
	}
	return nil
}
