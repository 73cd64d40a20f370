package contract

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// ParseAddress 支持 user-friendly 地址（bounceable 与否、url-safe 或标准 base64）
// 以及 raw 形式 "wc:hex"
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}
	if strings.Contains(s, ":") {
		a, err := address.ParseRawAddr(s)
		if err != nil {
			return nil, fmt.Errorf("parse raw address %q: %w", s, err)
		}
		return a, nil
	}
	// 标准 base64 转为 url-safe 形式
	friendly := strings.NewReplacer("+", "-", "/", "_").Replace(s)
	a, err := address.ParseAddr(friendly)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", s, err)
	}
	return a, nil
}

// ValidAddress s 是否为合法的 TON 地址
func ValidAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// SameAddress 按 workchain 和 account id 比较，
// 忽略文本形式中的 bounce/testnet 标志
func SameAddress(a, b *address.Address) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Workchain() == b.Workchain() && bytes.Equal(a.Data(), b.Data())
}

// ProofHash 规范化客户端提交的付款凭证。base64 BOC 取根 cell 的 hex 哈希；
// 其他输入视为交易哈希（hex 转小写，base64 哈希转为 hex）
func ProofHash(proof string) (hash string, isBOC bool) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return "", false
	}
	if raw, err := base64.StdEncoding.DecodeString(proof); err == nil {
		if c, err := cell.FromBOC(raw); err == nil {
			return hex.EncodeToString(c.Hash()), true
		}
		if len(raw) == 32 {
			return hex.EncodeToString(raw), false
		}
	}
	if raw, err := base64.URLEncoding.DecodeString(proof); err == nil && len(raw) == 32 {
		return hex.EncodeToString(raw), false
	}
	if _, err := hex.DecodeString(proof); err == nil {
		return strings.ToLower(proof), false
	}
	return proof, false
}
