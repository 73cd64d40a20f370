// Package contract 支付合约消息体的编解码
//
// ProcessPayment 消息体为单个 cell：
//
//	uint32 opcode | uint64 query_id | uint64 post_id_hash | MsgAddress creator | [Coins amount]
//
// 末尾的 amount 可选，带或不带都能解码为同一结构
package contract

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	// OpProcessPayment 支付消息
	OpProcessPayment uint32 = 0x7e8764ef
	// OpTextComment 钱包纯文本备注
	OpTextComment uint32 = 0
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrNoOpcode         = fmt.Errorf("%w: body shorter than opcode", ErrMalformedMessage)
	ErrMalformedTail    = fmt.Errorf("%w: truncated payment fields", ErrMalformedMessage)
	ErrOpcodeMismatch   = errors.New("opcode mismatch")
)

// ProcessPayment 解码后的支付消息
type ProcessPayment struct {
	Opcode     uint32
	QueryID    uint64
	PostIDHash uint64
	Creator    *address.Address
	// Amount 消息体不含金额时为 nil
	Amount *big.Int
}

// PostIDToHash 链上使用的内容 ID：SHA-256(postID) 前 8 字节，大端
func PostIDToHash(postID string) uint64 {
	sum := sha256.Sum256([]byte(postID))
	return binary.BigEndian.Uint64(sum[:8])
}

// Encode 构造支付消息 cell，amount 可为 nil
func Encode(queryID, postIDHash uint64, creator *address.Address, amount *big.Int) (*cell.Cell, error) {
	if creator == nil {
		return nil, errors.New("creator address is required")
	}
	b := cell.BeginCell()
	if err := b.StoreUInt(uint64(OpProcessPayment), 32); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(queryID, 64); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(postIDHash, 64); err != nil {
		return nil, err
	}
	if err := b.StoreAddr(creator); err != nil {
		return nil, fmt.Errorf("store creator: %w", err)
	}
	if amount != nil {
		if amount.Sign() < 0 {
			return nil, errors.New("amount must not be negative")
		}
		if err := b.StoreBigCoins(amount); err != nil {
			return nil, fmt.Errorf("store amount: %w", err)
		}
	}
	return b.EndCell(), nil
}

// EncodeBOC Encode 的 BOC 序列化
func EncodeBOC(queryID, postIDHash uint64, creator *address.Address, amount *big.Int) ([]byte, error) {
	c, err := Encode(queryID, postIDHash, creator, amount)
	if err != nil {
		return nil, err
	}
	return c.ToBOC(), nil
}

// EncodeBase64 钱包 payload 使用的 base64 形式
func EncodeBase64(queryID, postIDHash uint64, creator *address.Address, amount *big.Int) (string, error) {
	boc, err := EncodeBOC(queryID, postIDHash, creator, amount)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(boc), nil
}

// Decode 解析 BOC 形式的支付消息。
//
// ErrOpcodeMismatch 时只带实际的 opcode；
// ErrMalformedTail 时带 opcode 和已读出的字段
func Decode(boc []byte) (*ProcessPayment, error) {
	if len(boc) == 0 {
		return nil, ErrNoOpcode
	}
	c, err := cell.FromBOC(boc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return DecodeCell(c)
}

// DecodeCell 从 cell 解析支付消息
func DecodeCell(c *cell.Cell) (*ProcessPayment, error) {
	if c == nil {
		return nil, ErrNoOpcode
	}
	s := c.BeginParse()

	op, err := s.LoadUInt(32)
	if err != nil {
		return nil, ErrNoOpcode
	}
	msg := &ProcessPayment{Opcode: uint32(op)}
	if msg.Opcode != OpProcessPayment {
		return msg, ErrOpcodeMismatch
	}

	if msg.QueryID, err = s.LoadUInt(64); err != nil {
		return msg, ErrMalformedTail
	}
	if msg.PostIDHash, err = s.LoadUInt(64); err != nil {
		return msg, ErrMalformedTail
	}
	if msg.Creator, err = s.LoadAddr(); err != nil {
		return msg, ErrMalformedTail
	}
	if s.BitsLeft() > 0 {
		if msg.Amount, err = s.LoadBigCoins(); err != nil {
			return msg, ErrMalformedTail
		}
	}
	return msg, nil
}

// TextCommentBody 构造钱包纯文本备注的 cell
func TextCommentBody(text string) (*cell.Cell, error) {
	b := cell.BeginCell()
	if err := b.StoreUInt(uint64(OpTextComment), 32); err != nil {
		return nil, err
	}
	if err := b.StoreStringSnake(text); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}
