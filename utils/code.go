package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TONDecimals nanoTON 精度
const TONDecimals = 9

var nanoPerTON = decimal.New(1, TONDecimals)

// GenerateID 生成带前缀的业务 ID，例如 tx_3f9a0c1b2d4e5f60
func GenerateID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// RandomHex n 字节随机数的 hex 编码
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand 不应失败；退化为 uuid
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return hex.EncodeToString(b)
}

// ToNano 将 TON 金额（展示单位）转换为 nanoTON，超出精度部分四舍五入
func ToNano(amount decimal.Decimal) int64 {
	return amount.Mul(nanoPerTON).Round(0).IntPart()
}

// ToNanoBig 返回 big.Int 的 ToNano
func ToNanoBig(amount decimal.Decimal) *big.Int {
	return amount.Mul(nanoPerTON).Round(0).BigInt()
}

// FromNano 将 nanoTON 转换为 TON
func FromNano(nano int64) decimal.Decimal {
	return decimal.New(nano, -TONDecimals)
}

// FromNanoBig big.Int nanoTON 转 TON
func FromNanoBig(nano *big.Int) decimal.Decimal {
	if nano == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(nano, -TONDecimals)
}

// SplitFee 按平台费率拆分金额：platformFee = amount*pct/100（按 nano 取整），creatorEarnings = amount - platformFee
func SplitFee(amountNano int64, feePercent decimal.Decimal) (platformFee, creatorEarnings int64) {
	platformFee = decimal.NewFromInt(amountNano).Mul(feePercent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	return platformFee, amountNano - platformFee
}

// FormatTON 格式化为 "1.25 TON"
func FormatTON(nano int64) string {
	return FromNano(nano).StringFixed(2) + " TON"
}
