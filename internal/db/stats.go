package db

import (
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/models"
)

type CreatorStats struct {
	TotalPosts     int64
	TotalEarnings  int64 // nanoTON
	TotalPurchases int64
	TotalViews     int64
}

// GetCreatorStats 汇总创作者的有效内容
func GetCreatorStats(db *gorm.DB, creatorID string) (*CreatorStats, error) {
	var s CreatorStats
	err := db.Model(&models.Post{}).
		Select("COUNT(*) AS total_posts, COALESCE(SUM(total_earnings), 0) AS total_earnings, "+
			"COALESCE(SUM(purchases), 0) AS total_purchases, COALESCE(SUM(views), 0) AS total_views").
		Where("creator_id = ? AND is_active = ?", creatorID, true).
		Scan(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type AdminStats struct {
	TotalUsers        int64
	TotalCreators     int64
	TotalPosts        int64
	TotalChannels     int64
	TotalTransactions int64
	CompletedPayments int64
	PendingPayments   int64
	FailedPayments    int64
	TotalVolume       int64 // nanoTON
	PlatformRevenue   int64 // nanoTON
}

func GetAdminStats(db *gorm.DB) (*AdminStats, error) {
	var s AdminStats
	if err := db.Model(&models.User{}).Count(&s.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.User{}).Where("is_creator = ?", true).Count(&s.TotalCreators).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Post{}).Count(&s.TotalPosts).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Channel{}).Count(&s.TotalChannels).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.PaymentIntent{}).Count(&s.TotalTransactions).Error; err != nil {
		return nil, err
	}

	var byStatus []struct {
		Status string
		N      int64
		Volume int64
		Fees   int64
	}
	err := db.Model(&models.PaymentIntent{}).
		Select("status, COUNT(*) AS n, COALESCE(SUM(amount), 0) AS volume, COALESCE(SUM(platform_fee), 0) AS fees").
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		switch row.Status {
		case models.StatusCompleted:
			s.CompletedPayments = row.N
			s.TotalVolume = row.Volume
			s.PlatformRevenue = row.Fees
		case models.StatusPending:
			s.PendingPayments = row.N
		case models.StatusFailed:
			s.FailedPayments = row.N
		}
	}
	return &s, nil
}

// groupTotal 从已完成的支付意图按 group_key 汇总
type groupTotal struct {
	GroupKey string
	N        int64
	Total    int64
}

func completedTotals(db *gorm.DB, column, sumColumn string) ([]groupTotal, error) {
	var rows []groupTotal
	err := db.Model(&models.PaymentIntent{}).
		Select(column+" AS group_key, COUNT(*) AS n, COALESCE(SUM("+sumColumn+"), 0) AS total").
		Where("status = ?", models.StatusCompleted).
		Group(column).
		Scan(&rows).Error
	return rows, err
}

func completedChannelTotals(db *gorm.DB) ([]groupTotal, error) {
	var rows []groupTotal
	err := db.Table("payment_intents").
		Select("posts.channel_id AS group_key, COUNT(*) AS n, COALESCE(SUM(payment_intents.creator_earnings), 0) AS total").
		Joins("JOIN posts ON posts.post_id = payment_intents.post_id").
		Where("payment_intents.status = ? AND payment_intents.deleted_at IS NULL AND posts.channel_id <> ''", models.StatusCompleted).
		Group("posts.channel_id").
		Scan(&rows).Error
	return rows, err
}

// RecomputeResult 重算涉及的行数
type RecomputeResult struct {
	Posts    int
	Users    int
	Channels int
}

// RecomputeCounters 以已完成的支付意图为准重算全部计数，调用方负责事务
func RecomputeCounters(db *gorm.DB) (*RecomputeResult, error) {
	all := db.Session(&gorm.Session{AllowGlobalUpdate: true})
	if err := all.Model(&models.Post{}).Updates(map[string]interface{}{"purchases": 0, "total_earnings": 0}).Error; err != nil {
		return nil, err
	}
	if err := all.Model(&models.User{}).Updates(map[string]interface{}{"total_spent": 0, "total_earned": 0}).Error; err != nil {
		return nil, err
	}
	if err := all.Model(&models.Channel{}).Update("total_earnings", 0).Error; err != nil {
		return nil, err
	}

	res := &RecomputeResult{}

	posts, err := completedTotals(db, "post_id", "creator_earnings")
	if err != nil {
		return nil, err
	}
	for _, row := range posts {
		if err := db.Model(&models.Post{}).Where("post_id = ?", row.GroupKey).Updates(map[string]interface{}{
			"purchases":      row.N,
			"total_earnings": row.Total,
		}).Error; err != nil {
			return nil, err
		}
		res.Posts++
	}

	users := make(map[string]struct{})
	spent, err := completedTotals(db, "buyer_id", "amount")
	if err != nil {
		return nil, err
	}
	for _, row := range spent {
		if err := db.Model(&models.User{}).Where("telegram_id = ?", row.GroupKey).
			Update("total_spent", row.Total).Error; err != nil {
			return nil, err
		}
		users[row.GroupKey] = struct{}{}
	}
	earned, err := completedTotals(db, "creator_id", "creator_earnings")
	if err != nil {
		return nil, err
	}
	for _, row := range earned {
		if err := db.Model(&models.User{}).Where("telegram_id = ?", row.GroupKey).
			Update("total_earned", row.Total).Error; err != nil {
			return nil, err
		}
		users[row.GroupKey] = struct{}{}
	}
	res.Users = len(users)

	channels, err := completedChannelTotals(db)
	if err != nil {
		return nil, err
	}
	for _, row := range channels {
		if err := db.Model(&models.Channel{}).Where("channel_id = ?", row.GroupKey).
			Update("total_earnings", row.Total).Error; err != nil {
			return nil, err
		}
		res.Channels++
	}
	return res, nil
}
