package models

import "gorm.io/gorm"

// 支付状态
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// 内容类型
const (
	ContentText     = "text"
	ContentPhoto    = "photo"
	ContentVideo    = "video"
	ContentDocument = "document"
	ContentAudio    = "audio"
)

// PaymentIntent 一次解锁尝试（金额均为 nanoTON）
type PaymentIntent struct {
	gorm.Model
	TransactionID      string  `gorm:"uniqueIndex;size:64"`
	PostID             string  `gorm:"index;size:64"`
	BuyerID            string  `gorm:"index;size:64"`
	CreatorID          string  `gorm:"index;size:64"`
	Amount             int64   // nanoTON
	PlatformFee        int64   // nanoTON
	CreatorEarnings    int64   // nanoTON
	Currency           string  `gorm:"size:10;default:'TON'"`
	Status             string  `gorm:"index;size:20;default:'pending'"` // pending / completed / failed
	ChainTxHash        *string `gorm:"uniqueIndex;size:64"`             // 验证成功后写入
	ProofRef           string  `gorm:"size:2048"`                       // 客户端提交的凭证，审计用
	BuyerWalletAddress string  `gorm:"size:68"`
	CreatorAddress     string  `gorm:"size:68"` // 创建时快照的收款地址
	QueryID            uint64
}

// Purchase 购买记录，(buyer_id, post_id) 唯一
type Purchase struct {
	gorm.Model
	BuyerID       string `gorm:"uniqueIndex:idx_buyer_post;size:64"`
	PostID        string `gorm:"uniqueIndex:idx_buyer_post;size:64"`
	TransactionID string `gorm:"index;size:64"`
}

type Post struct {
	gorm.Model
	PostID               string `gorm:"uniqueIndex;size:64"`
	ChannelID            string `gorm:"index;size:64"`
	CreatorID            string `gorm:"index;size:64"`
	Price                int64  // nanoTON
	ContentType          string `gorm:"size:20;default:'text'"`
	ContentData          string `gorm:"type:text"`
	FileID               string `gorm:"size:255"`
	TeaserText           string `gorm:"size:1024"`
	CreatorWalletAddress string `gorm:"size:68"`
	Views                int64
	Purchases            int64
	TotalEarnings        int64 // nanoTON
	IsActive             bool  `gorm:"index"`
}

type User struct {
	gorm.Model
	TelegramID    string `gorm:"uniqueIndex;size:64"`
	Username      string `gorm:"size:64"`
	WalletAddress string `gorm:"size:68"`
	TotalSpent    int64  // nanoTON
	TotalEarned   int64  // nanoTON
	IsCreator     bool
}

type Channel struct {
	gorm.Model
	ChannelID     string `gorm:"uniqueIndex;size:64"`
	CreatorID     string `gorm:"index;size:64"`
	Title         string `gorm:"size:255"`
	TotalEarnings int64  // nanoTON
}
