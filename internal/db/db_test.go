package db

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/models"
)

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	conn, err := Open("sqlite", dsn, false)
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, Migrate(conn))
	return conn
}

func seed(t *testing.T, conn *gorm.DB) {
	t.Helper()
	require.NoError(t, conn.Create(&models.User{TelegramID: "buyer", WalletAddress: "EQbuyer"}).Error)
	require.NoError(t, conn.Create(&models.User{TelegramID: "creator", WalletAddress: "EQcreator", IsCreator: true}).Error)
	require.NoError(t, conn.Create(&models.Channel{ChannelID: "chan", CreatorID: "creator"}).Error)
	require.NoError(t, conn.Create(&models.Post{
		PostID: "post", ChannelID: "chan", CreatorID: "creator", Price: 1_000_000_000, IsActive: true, Views: 7,
	}).Error)
}

func pendingIntent(id string) *models.PaymentIntent {
	return &models.PaymentIntent{
		TransactionID:   id,
		PostID:          "post",
		BuyerID:         "buyer",
		CreatorID:       "creator",
		Amount:          1_000_000_000,
		PlatformFee:     50_000_000,
		CreatorEarnings: 950_000_000,
		Currency:        "TON",
		Status:          models.StatusPending,
	}
}

func TestPing(t *testing.T) {
	assert.NoError(t, Ping(context.Background(), newTestDB(t)))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "", false)
	assert.Error(t, err)
}

func TestIntentConditionalTransitions(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)
	require.NoError(t, CreatePaymentIntent(conn, pendingIntent("tx_1")))

	n, err := CompleteIntent(conn, "tx_1", "aa", "proof")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 已完成的意图不能再被修改
	n, err = CompleteIntent(conn, "tx_1", "bb", "proof")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	n, err = MarkIntentFailed(conn, "tx_1", "proof")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := GetPaymentIntent(conn, "tx_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.ChainTxHash)
	assert.Equal(t, "aa", *got.ChainTxHash)

	_, err = GetPaymentIntent(conn, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestMarkIntentFailed(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)
	require.NoError(t, CreatePaymentIntent(conn, pendingIntent("tx_f")))

	n, err := MarkIntentFailed(conn, "tx_f", "some-proof")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := GetPaymentIntent(conn, "tx_f")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "some-proof", got.ProofRef)
	assert.Nil(t, got.ChainTxHash)
}

func TestChainTxHashIsUnique(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)
	require.NoError(t, CreatePaymentIntent(conn, pendingIntent("tx_a")))
	require.NoError(t, CreatePaymentIntent(conn, pendingIntent("tx_b")))

	_, err := CompleteIntent(conn, "tx_a", "deadbeef", "")
	require.NoError(t, err)

	consumed, err := ChainTxConsumed(conn, "deadbeef", "tx_b")
	require.NoError(t, err)
	assert.True(t, consumed)
	consumed, err = ChainTxConsumed(conn, "deadbeef", "tx_a")
	require.NoError(t, err)
	assert.False(t, consumed)

	_, err = CompleteIntent(conn, "tx_b", "deadbeef", "")
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestInsertPurchaseIsIdempotent(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)

	exists, err := PurchaseExists(conn, "buyer", "post")
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := InsertPurchase(conn, &models.Purchase{BuyerID: "buyer", PostID: "post", TransactionID: "tx_1"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = InsertPurchase(conn, &models.Purchase{BuyerID: "buyer", PostID: "post", TransactionID: "tx_2"})
	require.NoError(t, err)
	assert.False(t, created)

	var n int64
	require.NoError(t, conn.Model(&models.Purchase{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	exists, err = PurchaseExists(conn, "buyer", "post")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestApplySettlementCounters(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)
	intent := pendingIntent("tx_1")

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return ApplySettlementCounters(tx, intent)
	}))

	post, err := GetPost(conn, "post")
	require.NoError(t, err)
	assert.Equal(t, int64(1), post.Purchases)
	assert.Equal(t, int64(950_000_000), post.TotalEarnings)

	buyer, err := GetUser(conn, "buyer")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), buyer.TotalSpent)

	creator, err := GetUser(conn, "creator")
	require.NoError(t, err)
	assert.Equal(t, int64(950_000_000), creator.TotalEarned)

	var ch models.Channel
	require.NoError(t, conn.Where("channel_id = ?", "chan").First(&ch).Error)
	assert.Equal(t, int64(950_000_000), ch.TotalEarnings)
}

func TestApplySettlementCountersPostDeleted(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)
	require.NoError(t, conn.Where("post_id = ?", "post").Delete(&models.Post{}).Error)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return ApplySettlementCounters(tx, pendingIntent("tx_1"))
	}))

	buyer, err := GetUser(conn, "buyer")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), buyer.TotalSpent)

	creator, err := GetUser(conn, "creator")
	require.NoError(t, err)
	assert.Equal(t, int64(950_000_000), creator.TotalEarned)

	var ch models.Channel
	require.NoError(t, conn.Where("channel_id = ?", "chan").First(&ch).Error)
	assert.Zero(t, ch.TotalEarnings)

	var post models.Post
	require.NoError(t, conn.Unscoped().Where("post_id = ?", "post").First(&post).Error)
	assert.Zero(t, post.Purchases)
}

func TestCreatorWallet(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)

	w, err := CreatorWallet(conn, "creator")
	require.NoError(t, err)
	assert.Equal(t, "EQcreator", w)

	w, err = CreatorWallet(conn, "nobody")
	require.NoError(t, err)
	assert.Empty(t, w)
}

func TestUpsertCreatorWallet(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)

	user, err := UpsertCreatorWallet(conn, "buyer", "EQnew")
	require.NoError(t, err)
	assert.Equal(t, "EQnew", user.WalletAddress)
	assert.True(t, user.IsCreator)

	w, err := CreatorWallet(conn, "buyer")
	require.NoError(t, err)
	assert.Equal(t, "EQnew", w)

	user, err = UpsertCreatorWallet(conn, "newcomer", "EQfresh")
	require.NoError(t, err)
	assert.Equal(t, "EQfresh", user.WalletAddress)
	assert.True(t, user.IsCreator)

	var n int64
	require.NoError(t, conn.Model(&models.User{}).Count(&n).Error)
	assert.Equal(t, int64(3), n)
}

func TestStatsAndRecompute(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)

	done := pendingIntent("tx_done")
	require.NoError(t, CreatePaymentIntent(conn, done))
	_, err := CompleteIntent(conn, "tx_done", "h1", "")
	require.NoError(t, err)
	require.NoError(t, CreatePaymentIntent(conn, pendingIntent("tx_pending")))
	failed := pendingIntent("tx_failed")
	require.NoError(t, CreatePaymentIntent(conn, failed))
	_, err = MarkIntentFailed(conn, "tx_failed", "")
	require.NoError(t, err)

	// 计数被破坏后重算
	require.NoError(t, conn.Model(&models.Post{}).Where("post_id = ?", "post").
		Updates(map[string]interface{}{"purchases": 5, "total_earnings": 1}).Error)

	var res *RecomputeResult
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = RecomputeCounters(tx)
		return err
	}))
	assert.Equal(t, 1, res.Posts)
	assert.Equal(t, 2, res.Users)
	assert.Equal(t, 1, res.Channels)

	cs, err := GetCreatorStats(conn, "creator")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cs.TotalPosts)
	assert.Equal(t, int64(1), cs.TotalPurchases)
	assert.Equal(t, int64(950_000_000), cs.TotalEarnings)
	assert.Equal(t, int64(7), cs.TotalViews)

	buyer, err := GetUser(conn, "buyer")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), buyer.TotalSpent)

	as, err := GetAdminStats(conn)
	require.NoError(t, err)
	assert.Equal(t, int64(2), as.TotalUsers)
	assert.Equal(t, int64(1), as.TotalCreators)
	assert.Equal(t, int64(1), as.TotalPosts)
	assert.Equal(t, int64(1), as.TotalChannels)
	assert.Equal(t, int64(3), as.TotalTransactions)
	assert.Equal(t, int64(1), as.CompletedPayments)
	assert.Equal(t, int64(1), as.PendingPayments)
	assert.Equal(t, int64(1), as.FailedPayments)
	assert.Equal(t, int64(1_000_000_000), as.TotalVolume)
	assert.Equal(t, int64(50_000_000), as.PlatformRevenue)
}

func TestListPaymentIntentsAndDeactivate(t *testing.T) {
	conn := newTestDB(t)
	seed(t, conn)
	for _, id := range []string{"tx_1", "tx_2", "tx_3"} {
		require.NoError(t, CreatePaymentIntent(conn, pendingIntent(id)))
	}
	_, err := MarkIntentFailed(conn, "tx_2", "")
	require.NoError(t, err)

	all, err := ListPaymentIntents(conn, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "tx_3", all[0].TransactionID)

	pending, err := ListPaymentIntents(conn, models.StatusPending, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tx_3", pending[0].TransactionID)

	n, err := DeactivatePost(conn, "post")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	post, err := GetPost(conn, "post")
	require.NoError(t, err)
	assert.False(t, post.IsActive)

	n, err = DeactivatePost(conn, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
