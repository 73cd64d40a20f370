// Package chain 读取支付合约账户的链上交易和状态
package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/xssnick/tonutils-go/address"
)

// DefaultLimit 单次拉取的交易数量
const DefaultLimit = 50

// 合约 get 方法
const (
	GetTotalProcessed     = "getTotalProcessed"
	GetPlatformAddress    = "getPlatformAddress"
	GetPlatformFeePercent = "getPlatformFeePercent"
)

// ErrUnavailable 索引服务无法访问或返回无法识别的数据
var ErrUnavailable = errors.New("chain unavailable")

// Transaction 合约账户的一笔入账交易，只作为校验依据，不落库
type Transaction struct {
	Hash string // hex
	LT   uint64
	// Sender 外部消息时为 nil
	Sender *address.Address
	// Value 入账金额，nanoTON
	Value *big.Int
	// Body 消息体 BOC，无消息体时为 nil
	Body      []byte
	Timestamp time.Time
}

// Internal 是否由带金额的内部消息触发
func (t Transaction) Internal() bool {
	return t.Sender != nil && t.Value != nil
}

// Reader 拉取合约最新的交易，最新在前；时间戳不保证严格单调
type Reader interface {
	RecentTransactions(ctx context.Context, limit int) ([]Transaction, error)
	ContractAddress() *address.Address
}

// ContractStats 合约 get 方法和账户余额的快照
type ContractStats struct {
	TotalProcessed     *big.Int
	PlatformAddress    *address.Address
	PlatformFeePercent *big.Int
	Balance            *big.Int // nanoTON
}

// StatsReader 能读取合约状态的 Reader
type StatsReader interface {
	Reader
	ContractStats(ctx context.Context) (*ContractStats, error)
}

// Ping 检查 Reader 能否访问后端
func Ping(ctx context.Context, r Reader) error {
	_, err := r.RecentTransactions(ctx, 1)
	return err
}
