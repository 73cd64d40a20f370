package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rootp1/Tapp/internal/contract"
)

const (
	MainnetEndpoint = "https://toncenter.com/api/v2"
	TestnetEndpoint = "https://testnet.toncenter.com/api/v2"
)

// EndpointForNetwork 按 mainnet / testnet 返回 toncenter v2 地址
func EndpointForNetwork(network string) string {
	if strings.EqualFold(network, "mainnet") {
		return MainnetEndpoint
	}
	return TestnetEndpoint
}

// ToncenterConfig toncenter HTTP 读取配置
type ToncenterConfig struct {
	Endpoint string
	APIKey   string
	Contract *address.Address
	// RequestsPerSecond 请求限速，<= 0 不限速
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Toncenter 通过 toncenter v2 HTTP API 读取合约历史
type Toncenter struct {
	endpoint string
	apiKey   string
	contract *address.Address
	client   *http.Client
	limiter  *rate.Limiter
	log      *zap.Logger
}

func NewToncenter(cfg ToncenterConfig) (*Toncenter, error) {
	if cfg.Contract == nil {
		return nil, fmt.Errorf("contract address is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = TestnetEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Toncenter{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		contract: cfg.Contract,
		client:   client,
		limiter:  limiter,
		log:      log,
	}, nil
}

func (t *Toncenter) ContractAddress() *address.Address { return t.contract }

type toncenterResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	Code   int             `json:"code"`
}

type toncenterTx struct {
	Utime         int64 `json:"utime"`
	TransactionID struct {
		LT   string `json:"lt"`
		Hash string `json:"hash"`
	} `json:"transaction_id"`
	InMsg *toncenterMsg `json:"in_msg"`
}

type toncenterMsg struct {
	Source  string `json:"source"`
	Value   string `json:"value"`
	MsgData struct {
		Type string `json:"@type"`
		Body string `json:"body"`
		Text string `json:"text"`
	} `json:"msg_data"`
}

// RecentTransactions 调用 GET /getTransactions
func (t *Toncenter) RecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("address", t.contract.String())
	q.Set("limit", strconv.Itoa(limit))
	q.Set("archival", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/getTransactions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	result, err := t.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var raw []toncenterTx
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode transactions: %v", ErrUnavailable, err)
	}

	txs := make([]Transaction, 0, len(raw))
	for _, r := range raw {
		tx, err := r.toTransaction()
		if err != nil {
			// 单条解析失败不影响其余交易
			t.log.Warn("skip unparsable transaction", zap.String("hash", r.TransactionID.Hash), zap.Error(err))
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// do 发送请求并解开 {ok, result} 外层
func (t *Toncenter) do(ctx context.Context, req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("X-API-Key", t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	var envelope toncenterResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: status %d: decode response: %v", ErrUnavailable, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !envelope.OK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, envelope.Error)
	}
	return envelope.Result, nil
}

type runGetMethodResult struct {
	ExitCode int                 `json:"exit_code"`
	Stack    [][]json.RawMessage `json:"stack"`
}

// runGetMethod 调用无参数的合约 get 方法，返回栈顶元素的类型和值
func (t *Toncenter) runGetMethod(ctx context.Context, method string) (string, json.RawMessage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", nil, err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"address": t.contract.String(),
		"method":  method,
		"stack":   []interface{}{},
	})
	if err != nil {
		return "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/runGetMethod", bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	result, err := t.do(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var out runGetMethodResult
	if err := json.Unmarshal(result, &out); err != nil {
		return "", nil, fmt.Errorf("%w: %s: decode result: %v", ErrUnavailable, method, err)
	}
	if out.ExitCode != 0 && out.ExitCode != 1 {
		return "", nil, fmt.Errorf("%w: %s: exit code %d", ErrUnavailable, method, out.ExitCode)
	}
	if len(out.Stack) == 0 || len(out.Stack[0]) != 2 {
		return "", nil, fmt.Errorf("%w: %s: empty stack", ErrUnavailable, method)
	}
	var kind string
	if err := json.Unmarshal(out.Stack[0][0], &kind); err != nil {
		return "", nil, fmt.Errorf("%w: %s: stack entry: %v", ErrUnavailable, method, err)
	}
	return kind, out.Stack[0][1], nil
}

func (t *Toncenter) getInt(ctx context.Context, method string) (*big.Int, error) {
	kind, raw, err := t.runGetMethod(ctx, method)
	if err != nil {
		return nil, err
	}
	var s string
	if kind != "num" || json.Unmarshal(raw, &s) != nil {
		return nil, fmt.Errorf("%w: %s: unexpected %s result", ErrUnavailable, method, kind)
	}
	v, ok := parseStackNum(s)
	if !ok {
		return nil, fmt.Errorf("%w: %s: parse %q", ErrUnavailable, method, s)
	}
	return v, nil
}

// parseStackNum 解析 "0x1a" 或 "-0x1a"
func parseStackNum(s string) (*big.Int, bool) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, false
	}
	if neg {
		v.Neg(v)
	}
	return v, true
}

func (t *Toncenter) getAddress(ctx context.Context, method string) (*address.Address, error) {
	kind, raw, err := t.runGetMethod(ctx, method)
	if err != nil {
		return nil, err
	}
	var entry struct {
		Bytes string `json:"bytes"`
	}
	if (kind != "cell" && kind != "slice") || json.Unmarshal(raw, &entry) != nil {
		return nil, fmt.Errorf("%w: %s: unexpected %s result", ErrUnavailable, method, kind)
	}
	boc, err := base64.StdEncoding.DecodeString(entry.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: decode boc: %v", ErrUnavailable, method, err)
	}
	c, err := cell.FromBOC(boc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parse boc: %v", ErrUnavailable, method, err)
	}
	addr, err := c.BeginParse().LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: load address: %v", ErrUnavailable, method, err)
	}
	return addr, nil
}

func (t *Toncenter) balance(ctx context.Context) (*big.Int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("address", t.contract.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/getAddressBalance?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	result, err := t.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return nil, fmt.Errorf("%w: decode balance: %v", ErrUnavailable, err)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: parse balance %q", ErrUnavailable, s)
	}
	return v, nil
}

// ContractStats 读取余额并调用合约 get 方法
func (t *Toncenter) ContractStats(ctx context.Context) (*ContractStats, error) {
	var (
		stats = &ContractStats{}
		err   error
	)
	if stats.Balance, err = t.balance(ctx); err != nil {
		return nil, err
	}
	if stats.TotalProcessed, err = t.getInt(ctx, GetTotalProcessed); err != nil {
		return nil, err
	}
	if stats.PlatformAddress, err = t.getAddress(ctx, GetPlatformAddress); err != nil {
		return nil, err
	}
	if stats.PlatformFeePercent, err = t.getInt(ctx, GetPlatformFeePercent); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r toncenterTx) toTransaction() (Transaction, error) {
	tx := Transaction{Timestamp: time.Unix(r.Utime, 0)}

	hash, err := base64.StdEncoding.DecodeString(r.TransactionID.Hash)
	if err != nil {
		return tx, fmt.Errorf("decode hash: %w", err)
	}
	tx.Hash = hex.EncodeToString(hash)
	if r.TransactionID.LT != "" {
		if tx.LT, err = strconv.ParseUint(r.TransactionID.LT, 10, 64); err != nil {
			return tx, fmt.Errorf("parse lt: %w", err)
		}
	}

	if r.InMsg == nil || r.InMsg.Source == "" {
		return tx, nil
	}
	sender, err := contract.ParseAddress(r.InMsg.Source)
	if err != nil {
		return tx, err
	}
	value, ok := new(big.Int).SetString(r.InMsg.Value, 10)
	if !ok {
		return tx, fmt.Errorf("parse value %q", r.InMsg.Value)
	}
	tx.Sender = sender
	tx.Value = value

	switch r.InMsg.MsgData.Type {
	case "msg.dataText":
		text, err := base64.StdEncoding.DecodeString(r.InMsg.MsgData.Text)
		if err != nil {
			return tx, fmt.Errorf("decode text body: %w", err)
		}
		c, err := contract.TextCommentBody(string(text))
		if err != nil {
			return tx, err
		}
		tx.Body = c.ToBOC()
	default:
		if r.InMsg.MsgData.Body != "" {
			if tx.Body, err = base64.StdEncoding.DecodeString(r.InMsg.MsgData.Body); err != nil {
				return tx, fmt.Errorf("decode body: %w", err)
			}
		}
	}
	return tx, nil
}
