package services

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/chain"
	"github.com/rootp1/Tapp/internal/contract"
	"github.com/rootp1/Tapp/internal/db"
	"github.com/rootp1/Tapp/internal/models"
	"github.com/rootp1/Tapp/internal/notifier"
)

var testNow = time.Unix(1_700_000_000, 0)

func testAddr(b byte) *address.Address {
	return address.NewAddress(0, 0, bytes.Repeat([]byte{b}, 32))
}

var (
	contractAddr = testAddr(0xCC)
	buyerAddr    = testAddr(0xB0)
	creatorAddr  = testAddr(0xC0)
	strangerAddr = testAddr(0xEE)
)

type fakeResponse struct {
	txs []chain.Transaction
	err error
}

// fakeReader 依次返回预设结果，用完后重复最后一个
type fakeReader struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     int
	stats     *chain.ContractStats
	statsErr  error
}

func newFakeReader(txs ...chain.Transaction) *fakeReader {
	return &fakeReader{responses: []fakeResponse{{txs: txs}}}
}

func (f *fakeReader) RecentTransactions(ctx context.Context, limit int) ([]chain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	if i < 0 {
		return nil, nil
	}
	r := f.responses[i]
	return r.txs, r.err
}

func (f *fakeReader) ContractAddress() *address.Address { return contractAddr }

func (f *fakeReader) ContractStats(context.Context) (*chain.ContractStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	if f.stats == nil {
		return &chain.ContractStats{}, nil
	}
	return f.stats, nil
}

func (f *fakeReader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func paymentBody(t *testing.T, creator *address.Address, postID string) []byte {
	t.Helper()
	boc, err := contract.EncodeBOC(1, contract.PostIDToHash(postID), creator, nil)
	require.NoError(t, err)
	return boc
}

// truncatedBody opcode 正确但缺少后续字段
func truncatedBody() []byte {
	return cell.BeginCell().
		MustStoreUInt(uint64(contract.OpProcessPayment), 32).
		MustStoreUInt(1, 64).
		EndCell().ToBOC()
}

// shortBody 不足 32 位，没有 opcode
func shortBody() []byte {
	return cell.BeginCell().MustStoreUInt(1, 8).EndCell().ToBOC()
}

func incomingTx(hash string, sender *address.Address, nano int64, age time.Duration, body []byte) chain.Transaction {
	return chain.Transaction{
		Hash:      hash,
		LT:        1,
		Sender:    sender,
		Value:     big.NewInt(nano),
		Body:      body,
		Timestamp: testNow.Add(-age),
	}
}

func newTestMatcher(r chain.Reader, cfg MatcherConfig) (*PaymentMatcher, *[]time.Duration) {
	m := NewPaymentMatcher(r, cfg, nil)
	m.now = func() time.Time { return testNow }
	var sleeps []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return m, &sleeps
}

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	conn, err := db.Open("sqlite", dsn, false)
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(conn))
	return conn
}

// seedMarketplace 买家、创作者、频道和一条 1 TON 的内容
func seedMarketplace(t *testing.T, conn *gorm.DB) {
	t.Helper()
	require.NoError(t, conn.Create(&models.User{TelegramID: "100", WalletAddress: buyerAddr.String()}).Error)
	require.NoError(t, conn.Create(&models.User{TelegramID: "200", WalletAddress: creatorAddr.String(), IsCreator: true}).Error)
	require.NoError(t, conn.Create(&models.Channel{ChannelID: "chan_1", CreatorID: "200"}).Error)
	require.NoError(t, conn.Create(&models.Post{
		PostID:               "post_1",
		ChannelID:            "chan_1",
		CreatorID:            "200",
		Price:                1_000_000_000,
		ContentType:          models.ContentText,
		ContentData:          "secret",
		TeaserText:           "teaser",
		CreatorWalletAddress: creatorAddr.String(),
		IsActive:             true,
	}).Error)
}

func seedIntent(t *testing.T, conn *gorm.DB, id string) *models.PaymentIntent {
	t.Helper()
	intent := &models.PaymentIntent{
		TransactionID:      id,
		PostID:             "post_1",
		BuyerID:            "100",
		CreatorID:          "200",
		Amount:             1_000_000_000,
		PlatformFee:        50_000_000,
		CreatorEarnings:    950_000_000,
		Currency:           "TON",
		Status:             models.StatusPending,
		BuyerWalletAddress: buyerAddr.String(),
		CreatorAddress:     creatorAddr.String(),
	}
	require.NoError(t, db.CreatePaymentIntent(conn, intent))
	return intent
}

type fakeNotifier struct {
	mu         sync.Mutex
	deliveries []string
	notices    []notifier.CreatorPayment
	deliverErr error
}

func (f *fakeNotifier) DeliverContent(_ context.Context, buyerID string, post *models.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, buyerID+":"+post.PostID)
	return f.deliverErr
}

func (f *fakeNotifier) NotifyCreatorPayment(_ context.Context, p notifier.CreatorPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, p)
	return nil
}
