package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

const (
	MainnetGlobalConfig = "https://ton.org/global.config.json"
	TestnetGlobalConfig = "https://ton.org/testnet-global.config.json"

	// liteserver 单次最多返回 16 条
	litePageSize = 16
)

// GlobalConfigForNetwork 返回公共 liteserver 配置地址
func GlobalConfigForNetwork(network string) string {
	if network == "mainnet" {
		return MainnetGlobalConfig
	}
	return TestnetGlobalConfig
}

type liteAPI interface {
	CurrentMasterchainInfo(ctx context.Context) (*ton.BlockIDExt, error)
	GetAccount(ctx context.Context, block *ton.BlockIDExt, addr *address.Address) (*tlb.Account, error)
	ListTransactions(ctx context.Context, addr *address.Address, num uint32, lt uint64, txHash []byte) ([]*tlb.Transaction, error)
	RunGetMethod(ctx context.Context, block *ton.BlockIDExt, addr *address.Address, method string, params ...any) (*ton.ExecutionResult, error)
}

// Liteserver 直连 TON liteserver 读取合约历史
type Liteserver struct {
	api      liteAPI
	contract *address.Address
	log      *zap.Logger
}

// DialLiteserver 连接 configURL 中列出的所有 liteserver
func DialLiteserver(ctx context.Context, configURL string, contractAddr *address.Address, log *zap.Logger) (*Liteserver, error) {
	if contractAddr == nil {
		return nil, errors.New("contract address is required")
	}
	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, fmt.Errorf("%w: connect liteservers: %v", ErrUnavailable, err)
	}
	return newLiteserver(ton.NewAPIClient(pool), contractAddr, log), nil
}

func newLiteserver(api liteAPI, contractAddr *address.Address, log *zap.Logger) *Liteserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Liteserver{api: api, contract: contractAddr, log: log}
}

func (l *Liteserver) ContractAddress() *address.Address { return l.contract }

func (l *Liteserver) RecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	block, err := l.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, l.wrap(ctx, "masterchain info", err)
	}
	acc, err := l.api.GetAccount(ctx, block, l.contract)
	if err != nil {
		return nil, l.wrap(ctx, "get account", err)
	}
	if acc == nil || acc.LastTxLT == 0 {
		return []Transaction{}, nil
	}

	out := make([]Transaction, 0, limit)
	lt, hash := acc.LastTxLT, acc.LastTxHash
	for len(out) < limit && lt != 0 {
		n := limit - len(out)
		if n > litePageSize {
			n = litePageSize
		}
		page, err := l.api.ListTransactions(ctx, l.contract, uint32(n), lt, hash)
		if err != nil {
			if errors.Is(err, ton.ErrNoTransactionsWereFound) {
				break
			}
			return nil, l.wrap(ctx, "list transactions", err)
		}
		if len(page) == 0 {
			break
		}
		// 返回结果按时间升序，倒序遍历得到最新在前
		for i := len(page) - 1; i >= 0; i-- {
			out = append(out, convertLiteTx(page[i]))
		}
		oldest := page[0]
		lt, hash = oldest.PrevTxLT, oldest.PrevTxHash
	}
	return out, nil
}

// ContractStats 在同一个 masterchain 区块上执行合约 get 方法并读取余额
func (l *Liteserver) ContractStats(ctx context.Context) (*ContractStats, error) {
	block, err := l.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, l.wrap(ctx, "masterchain info", err)
	}

	stats := &ContractStats{Balance: new(big.Int)}
	acc, err := l.api.GetAccount(ctx, block, l.contract)
	if err != nil {
		return nil, l.wrap(ctx, "get account", err)
	}
	if acc != nil && acc.State != nil {
		stats.Balance = acc.State.Balance.Nano()
	}

	for _, m := range []struct {
		name string
		set  func(*ton.ExecutionResult) error
	}{
		{GetTotalProcessed, func(r *ton.ExecutionResult) (err error) {
			stats.TotalProcessed, err = r.Int(0)
			return err
		}},
		{GetPlatformAddress, func(r *ton.ExecutionResult) error {
			sl, err := r.Slice(0)
			if err != nil {
				return err
			}
			stats.PlatformAddress, err = sl.LoadAddr()
			return err
		}},
		{GetPlatformFeePercent, func(r *ton.ExecutionResult) (err error) {
			stats.PlatformFeePercent, err = r.Int(0)
			return err
		}},
	} {
		res, err := l.api.RunGetMethod(ctx, block, l.contract, m.name)
		if err != nil {
			return nil, l.wrap(ctx, m.name, err)
		}
		if err := m.set(res); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, m.name, err)
		}
	}
	return stats, nil
}

func (l *Liteserver) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	l.log.Warn("liteserver request failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func convertLiteTx(tx *tlb.Transaction) Transaction {
	out := Transaction{
		Hash:      hex.EncodeToString(tx.Hash),
		LT:        tx.LT,
		Timestamp: time.Unix(int64(tx.Now), 0),
	}
	if tx.IO.In == nil || tx.IO.In.MsgType != tlb.MsgTypeInternal {
		return out
	}
	in := tx.IO.In.AsInternal()
	if in == nil {
		return out
	}
	out.Sender = in.SrcAddr
	out.Value = in.Amount.Nano()
	if in.Body != nil {
		out.Body = in.Body.ToBOC()
	}
	return out
}
