package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/zap"

	"github.com/rootp1/Tapp/internal/chain"
	"github.com/rootp1/Tapp/internal/contract"
	"github.com/rootp1/Tapp/utils"
)

// MatchTier 匹配强度，数值越小越强
type MatchTier int

const (
	TierNone MatchTier = iota
	// TierStrong opcode 与内嵌创作者地址都匹配
	TierStrong
	// TierOpcode opcode 匹配但后续字段无法解析
	TierOpcode
	// TierAmountOnly 无消息体或无 opcode，仅金额/时间/付款人匹配
	TierAmountOnly
)

func (t MatchTier) String() string {
	switch t {
	case TierStrong:
		return "strong"
	case TierOpcode:
		return "opcode"
	case TierAmountOnly:
		return "amount-only"
	default:
		return "none"
	}
}

type MatcherConfig struct {
	MaxRetries       int
	RetryDelay       time.Duration
	TolerancePercent decimal.Decimal
	RecencyWindow    time.Duration
	FetchLimit       int
	// AllowAmountOnlyFallback 开启后才接受 TierAmountOnly
	AllowAmountOnlyFallback bool
}

func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MaxRetries:       10,
		RetryDelay:       3 * time.Second,
		TolerancePercent: decimal.NewFromInt(10),
		RecencyWindow:    600 * time.Second,
		FetchLimit:       chain.DefaultLimit,
	}
}

// PaymentQuery 期望的付款描述
type PaymentQuery struct {
	ExpectedAmount decimal.Decimal // TON
	CreatorAddress string
	// BuyerAddress 为空时不校验付款人
	BuyerAddress string
	// ProofHash 客户端提交的交易哈希，命中的候选交易优先检查
	ProofHash string
	// IsConsumed 报告链上交易是否已被其他支付意图使用
	IsConsumed func(ctx context.Context, txHash string) (bool, error)
}

type MatchResult struct {
	Verified   bool
	TxHash     string
	PostIDHash uint64
	QueryID    uint64
	Sender     *address.Address
	Tier       MatchTier
	Attempts   int
}

// PaymentMatcher 在合约最近的交易中寻找本次付款
type PaymentMatcher struct {
	reader chain.Reader
	cfg    MatcherConfig
	log    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPaymentMatcher(reader chain.Reader, cfg MatcherConfig, log *zap.Logger) *PaymentMatcher {
	def := DefaultMatcherConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if !cfg.TolerancePercent.IsPositive() {
		cfg.TolerancePercent = def.TolerancePercent
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = def.RecencyWindow
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = def.FetchLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentMatcher{
		reader: reader,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// amountRange 金额容差区间（nanoTON，闭区间）
type amountRange struct {
	lo, hi decimal.Decimal
}

func (r amountRange) contains(v *big.Int) bool {
	d := decimal.NewFromBigInt(v, 0)
	return d.GreaterThanOrEqual(r.lo) && d.LessThanOrEqual(r.hi)
}

func (m *PaymentMatcher) toleranceRange(expected decimal.Decimal) amountRange {
	nano := expected.Shift(utils.TONDecimals)
	delta := nano.Mul(m.cfg.TolerancePercent).Div(decimal.NewFromInt(100))
	return amountRange{lo: nano.Sub(delta), hi: nano.Add(delta)}
}

// Match 轮询链上交易直到找到付款或重试耗尽。
// 最后一次成功扫描之后若还有轮询失败，返回 ErrChainUnavailable（意图保持 pending）；
// 只有最后的轮询都成功且没有命中时才返回 Verified=false。
func (m *PaymentMatcher) Match(ctx context.Context, q PaymentQuery) (*MatchResult, error) {
	if m.reader == nil {
		return nil, ErrContractNotConfigured
	}
	if !q.ExpectedAmount.IsPositive() {
		return nil, fmt.Errorf("%w: expected amount must be positive", ErrInvalidRequest)
	}
	creator, err := contract.ParseAddress(q.CreatorAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: creator: %v", ErrInvalidAddress, err)
	}
	var buyer *address.Address
	if q.BuyerAddress != "" {
		if buyer, err = contract.ParseAddress(q.BuyerAddress); err != nil {
			return nil, fmt.Errorf("%w: buyer: %v", ErrInvalidAddress, err)
		}
	}
	proof, _ := contract.ProofHash(q.ProofHash)
	amounts := m.toleranceRange(q.ExpectedAmount)

	// lastErr 只记录最后一次成功扫描之后的失败
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		txs, err := m.reader.RecentTransactions(ctx, m.cfg.FetchLimit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			m.log.Warn("fetch contract transactions failed",
				zap.Int("attempt", attempt), zap.Int("max_attempts", m.cfg.MaxRetries), zap.Error(err))
		} else {
			lastErr = nil
			res, err := m.scan(ctx, txs, creator, buyer, amounts, proof, q.IsConsumed)
			if err != nil {
				return nil, err
			}
			if res != nil {
				res.Attempts = attempt
				return res, nil
			}
			m.log.Debug("no matching transaction yet", zap.Int("attempt", attempt), zap.Int("scanned", len(txs)))
		}

		if attempt < m.cfg.MaxRetries {
			if err := m.sleep(ctx, m.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, lastErr)
	}
	return &MatchResult{Verified: false, Attempts: m.cfg.MaxRetries}, nil
}

// scan 检查一次拉取到的交易窗口。强匹配立即返回；
// 较弱的候选只有在整个窗口都没有更强匹配时才返回。
func (m *PaymentMatcher) scan(
	ctx context.Context,
	txs []chain.Transaction,
	creator, buyer *address.Address,
	amounts amountRange,
	proof string,
	isConsumed func(context.Context, string) (bool, error),
) (*MatchResult, error) {
	now := m.now()
	var opcodeOnly, amountOnly *MatchResult

	for _, tx := range prioritize(txs, proof) {
		if !tx.Internal() {
			continue
		}
		if buyer != nil && !contract.SameAddress(tx.Sender, buyer) {
			continue
		}
		if !amounts.contains(tx.Value) {
			continue
		}
		if now.Sub(tx.Timestamp) > m.cfg.RecencyWindow {
			continue
		}

		msg, decodeErr := contract.Decode(tx.Body)
		var tier MatchTier
		switch {
		case decodeErr == nil:
			if !contract.SameAddress(msg.Creator, creator) {
				m.log.Debug("creator mismatch in payment body", zap.String("tx_hash", tx.Hash))
				continue
			}
			tier = TierStrong
		case errors.Is(decodeErr, contract.ErrOpcodeMismatch):
			continue
		case errors.Is(decodeErr, contract.ErrMalformedTail):
			if opcodeOnly != nil {
				continue
			}
			tier = TierOpcode
		default:
			// 无消息体、无 opcode 或非法 BOC
			if amountOnly != nil {
				continue
			}
			tier = TierAmountOnly
		}

		if isConsumed != nil {
			used, err := isConsumed(ctx, tx.Hash)
			if err != nil {
				return nil, err
			}
			if used {
				m.log.Info("skip transaction bound to another payment", zap.String("tx_hash", tx.Hash))
				continue
			}
		}

		res := &MatchResult{Verified: true, TxHash: tx.Hash, Sender: tx.Sender, Tier: tier}
		switch tier {
		case TierStrong:
			res.PostIDHash = msg.PostIDHash
			res.QueryID = msg.QueryID
			return res, nil
		case TierOpcode:
			opcodeOnly = res
		case TierAmountOnly:
			amountOnly = res
		}
	}

	if opcodeOnly != nil {
		m.log.Info("payment matched by opcode only", zap.String("tx_hash", opcodeOnly.TxHash), zap.Stringer("tier", opcodeOnly.Tier))
		return opcodeOnly, nil
	}
	if amountOnly != nil {
		if !m.cfg.AllowAmountOnlyFallback {
			m.log.Debug("amount-only candidate ignored, fallback disabled", zap.String("tx_hash", amountOnly.TxHash))
			return nil, nil
		}
		m.log.Warn("payment matched by amount only (weak signal)",
			zap.String("tx_hash", amountOnly.TxHash), zap.Stringer("tier", amountOnly.Tier))
		return amountOnly, nil
	}
	return nil, nil
}

// prioritize 把与客户端凭证哈希相同的交易移到最前面
func prioritize(txs []chain.Transaction, proof string) []chain.Transaction {
	if proof == "" {
		return txs
	}
	for i, tx := range txs {
		if tx.Hash == proof {
			if i == 0 {
				return txs
			}
			out := make([]chain.Transaction, 0, len(txs))
			out = append(out, tx)
			out = append(out, txs[:i]...)
			return append(out, txs[i+1:]...)
		}
	}
	return txs
}
