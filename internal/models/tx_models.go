package models

import "time"

// CreatePaymentRequest 创建支付请求
type CreatePaymentRequest struct {
	PostID         string `json:"postId" binding:"required"`
	UserID         string `json:"userId" binding:"required"`
	WalletAddress  string `json:"walletAddress" binding:"omitempty,tonaddr"`
	CreatorAddress string `json:"creatorAddress" binding:"omitempty,tonaddr"`
}

// CreatePaymentResponse 返回给钱包的支付参数
type CreatePaymentResponse struct {
	TransactionID    string  `json:"transactionId"`
	Amount           float64 `json:"amount"`     // TON
	AmountNano       string  `json:"amountNano"` // 钱包直接使用
	Currency         string  `json:"currency"`
	RecipientAddress string  `json:"recipientAddress"` // 合约地址
	MessageBody      string  `json:"messageBody"`      // base64 BOC
	QueryID          uint64  `json:"queryId"`
}

// VerifyPaymentRequest 提交链上凭证（BOC 或交易哈希）
type VerifyPaymentRequest struct {
	TransactionID      string `json:"transactionId" binding:"required"`
	TonTransactionHash string `json:"tonTransactionHash" binding:"required"`
}

type VerifyPaymentResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transactionId,omitempty"`
	TxHash        string `json:"txHash,omitempty"`
}

type PaymentStatusResponse struct {
	TransactionID string  `json:"transactionId"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	TxHash        string  `json:"txHash,omitempty"`
}

type ContractHealthResponse struct {
	Ready   bool   `json:"ready"`
	Address string `json:"address"`
}

// ContractStatsResponse 合约 get 方法读数，余额单位 TON
type ContractStatsResponse struct {
	TotalProcessed     int64  `json:"totalProcessed"`
	PlatformAddress    string `json:"platformAddress"`
	PlatformFeePercent int64  `json:"platformFeePercent"`
	Balance            string `json:"balance"`
}

// UpdateWalletRequest 创作者绑定收款钱包
type UpdateWalletRequest struct {
	UserID        string `json:"userId" binding:"required"`
	WalletAddress string `json:"walletAddress" binding:"required,tonaddr"`
}

type UpdateWalletResponse struct {
	Success       bool   `json:"success"`
	WalletAddress string `json:"walletAddress"`
}

type CreatorStatsResponse struct {
	TotalPosts     int64   `json:"totalPosts"`
	TotalEarnings  float64 `json:"totalEarnings"` // TON
	TotalPurchases int64   `json:"totalPurchases"`
	TotalViews     int64   `json:"totalViews"`
}

type AdminStatsResponse struct {
	TotalUsers        int64   `json:"totalUsers"`
	TotalCreators     int64   `json:"totalCreators"`
	TotalPosts        int64   `json:"totalPosts"`
	TotalChannels     int64   `json:"totalChannels"`
	TotalTransactions int64   `json:"totalTransactions"`
	CompletedPayments int64   `json:"completedPayments"`
	PendingPayments   int64   `json:"pendingPayments"`
	FailedPayments    int64   `json:"failedPayments"`
	TotalVolume       float64 `json:"totalVolume"`     // TON
	PlatformRevenue   float64 `json:"platformRevenue"` // TON
}

type ReconcileResponse struct {
	Posts    int `json:"posts"`
	Users    int `json:"users"`
	Channels int `json:"channels"`
}

// PaymentSummary 管理端交易列表项
type PaymentSummary struct {
	TransactionID   string    `json:"transactionId"`
	PostID          string    `json:"postId"`
	BuyerID         string    `json:"buyerId"`
	CreatorID       string    `json:"creatorId"`
	Amount          float64   `json:"amount"`
	PlatformFee     float64   `json:"platformFee"`
	CreatorEarnings float64   `json:"creatorEarnings"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	TxHash          string    `json:"txHash,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
