package services

import (
	"context"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/chain"
	"github.com/rootp1/Tapp/internal/contract"
	"github.com/rootp1/Tapp/internal/db"
	"github.com/rootp1/Tapp/internal/models"
)

func newTestPaymentService(t *testing.T, r chain.Reader) (*PaymentService, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	seedMarketplace(t, conn)
	svc := NewPaymentService(conn, r, PaymentConfig{FeePercent: decimal.NewFromInt(5)}, nil)
	svc.now = func() time.Time { return testNow }
	return svc, conn
}

func TestCreatePayment(t *testing.T) {
	svc, conn := newTestPaymentService(t, newFakeReader())

	resp, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{
		PostID:        "post_1",
		UserID:        "100",
		WalletAddress: buyerAddr.String(),
	})
	require.NoError(t, err)
	assert.Regexp(t, `^tx_[0-9a-f]{16}$`, resp.TransactionID)
	assert.Equal(t, 1.0, resp.Amount)
	assert.Equal(t, "1000000000", resp.AmountNano)
	assert.Equal(t, "TON", resp.Currency)
	assert.Equal(t, contractAddr.String(), resp.RecipientAddress)
	assert.Equal(t, uint64(testNow.UnixMilli()), resp.QueryID)

	raw, err := base64.StdEncoding.DecodeString(resp.MessageBody)
	require.NoError(t, err)
	msg, err := contract.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, resp.QueryID, msg.QueryID)
	assert.Equal(t, contract.PostIDToHash("post_1"), msg.PostIDHash)
	assert.True(t, contract.SameAddress(creatorAddr, msg.Creator))
	assert.Nil(t, msg.Amount)

	intent, err := db.GetPaymentIntent(conn, resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, intent.Status)
	assert.Equal(t, int64(1_000_000_000), intent.Amount)
	assert.Equal(t, int64(50_000_000), intent.PlatformFee)
	assert.Equal(t, int64(950_000_000), intent.CreatorEarnings)
	assert.Equal(t, intent.Amount, intent.PlatformFee+intent.CreatorEarnings)
	assert.Equal(t, "200", intent.CreatorID)
	assert.Equal(t, buyerAddr.String(), intent.BuyerWalletAddress)
	assert.NotEmpty(t, intent.CreatorAddress)

	status, err := svc.GetStatus(context.Background(), resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status.Status)
}

func TestCreatePaymentUsesStoredBuyerWallet(t *testing.T) {
	svc, conn := newTestPaymentService(t, newFakeReader())

	resp, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{PostID: "post_1", UserID: "100"})
	require.NoError(t, err)
	intent, err := db.GetPaymentIntent(conn, resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, buyerAddr.String(), intent.BuyerWalletAddress)
}

func TestCreatePaymentCreatorAddressResolution(t *testing.T) {
	requested := testAddr(0xD1)

	t.Run("request address when post has no snapshot", func(t *testing.T) {
		svc, conn := newTestPaymentService(t, newFakeReader())
		require.NoError(t, conn.Model(&models.Post{}).Where("post_id = ?", "post_1").Update("creator_wallet_address", "").Error)

		resp, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{
			PostID: "post_1", UserID: "100", CreatorAddress: requested.String(),
		})
		require.NoError(t, err)
		intent, err := db.GetPaymentIntent(conn, resp.TransactionID)
		require.NoError(t, err)
		got, err := contract.ParseAddress(intent.CreatorAddress)
		require.NoError(t, err)
		assert.True(t, contract.SameAddress(requested, got))
	})

	t.Run("post snapshot wins over request", func(t *testing.T) {
		svc, conn := newTestPaymentService(t, newFakeReader())
		resp, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{
			PostID: "post_1", UserID: "100", CreatorAddress: requested.String(),
		})
		require.NoError(t, err)
		intent, err := db.GetPaymentIntent(conn, resp.TransactionID)
		require.NoError(t, err)
		got, err := contract.ParseAddress(intent.CreatorAddress)
		require.NoError(t, err)
		assert.True(t, contract.SameAddress(creatorAddr, got))
	})

	t.Run("creator wallet as last resort", func(t *testing.T) {
		svc, conn := newTestPaymentService(t, newFakeReader())
		require.NoError(t, conn.Model(&models.Post{}).Where("post_id = ?", "post_1").Update("creator_wallet_address", "").Error)
		_, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{PostID: "post_1", UserID: "100"})
		require.NoError(t, err)
	})

	t.Run("missing everywhere", func(t *testing.T) {
		svc, conn := newTestPaymentService(t, newFakeReader())
		require.NoError(t, conn.Model(&models.Post{}).Where("post_id = ?", "post_1").Update("creator_wallet_address", "").Error)
		require.NoError(t, conn.Model(&models.User{}).Where("telegram_id = ?", "200").Update("wallet_address", "").Error)
		_, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{PostID: "post_1", UserID: "100"})
		assert.ErrorIs(t, err, ErrCreatorAddressMissing)
	})
}

func TestCreatePaymentRejections(t *testing.T) {
	t.Run("already purchased", func(t *testing.T) {
		svc, conn := newTestPaymentService(t, newFakeReader())
		_, err := db.InsertPurchase(conn, &models.Purchase{BuyerID: "100", PostID: "post_1", TransactionID: "tx_old"})
		require.NoError(t, err)
		_, err = svc.CreatePayment(context.Background(), models.CreatePaymentRequest{PostID: "post_1", UserID: "100"})
		assert.ErrorIs(t, err, ErrAlreadyPurchased)
	})

	t.Run("unknown post", func(t *testing.T) {
		svc, _ := newTestPaymentService(t, newFakeReader())
		_, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{PostID: "nope", UserID: "100"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("inactive post", func(t *testing.T) {
		svc, conn := newTestPaymentService(t, newFakeReader())
		require.NoError(t, conn.Model(&models.Post{}).Where("post_id = ?", "post_1").Update("is_active", false).Error)
		_, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{PostID: "post_1", UserID: "100"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid wallet", func(t *testing.T) {
		svc, _ := newTestPaymentService(t, newFakeReader())
		_, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{PostID: "post_1", UserID: "100", WalletAddress: "bogus"})
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("missing ids", func(t *testing.T) {
		svc, _ := newTestPaymentService(t, newFakeReader())
		_, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{PostID: "post_1"})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("no contract", func(t *testing.T) {
		svc, _ := newTestPaymentService(t, nil)
		_, err := svc.CreatePayment(context.Background(), models.CreatePaymentRequest{PostID: "post_1", UserID: "100"})
		assert.ErrorIs(t, err, ErrContractNotConfigured)
	})
}

func TestGetStatusNotFound(t *testing.T) {
	svc, _ := newTestPaymentService(t, newFakeReader())
	_, err := svc.GetStatus(context.Background(), "tx_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContractHealth(t *testing.T) {
	svc, _ := newTestPaymentService(t, newFakeReader())
	ready, addr := svc.ContractHealth(context.Background())
	assert.True(t, ready)
	assert.Equal(t, contractAddr.String(), addr)

	down := &fakeReader{responses: []fakeResponse{{err: chain.ErrUnavailable}}}
	svc, _ = newTestPaymentService(t, down)
	ready, addr = svc.ContractHealth(context.Background())
	assert.False(t, ready)
	assert.Equal(t, contractAddr.String(), addr)
}

func TestContractStats(t *testing.T) {
	r := newFakeReader()
	r.stats = &chain.ContractStats{
		TotalProcessed:     big.NewInt(42),
		PlatformAddress:    strangerAddr,
		PlatformFeePercent: big.NewInt(5),
		Balance:            big.NewInt(12_345_678_900),
	}
	svc, _ := newTestPaymentService(t, r)

	stats, err := svc.ContractStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &models.ContractStatsResponse{
		TotalProcessed:     42,
		PlatformAddress:    strangerAddr.String(),
		PlatformFeePercent: 5,
		Balance:            "12.3457",
	}, stats)

	r.statsErr = chain.ErrUnavailable
	_, err = svc.ContractStats(context.Background())
	assert.ErrorIs(t, err, ErrChainUnavailable)

	svc, _ = newTestPaymentService(t, nil)
	_, err = svc.ContractStats(context.Background())
	assert.ErrorIs(t, err, ErrContractNotConfigured)
}
