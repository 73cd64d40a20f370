package contract

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func testAddr(b byte) *address.Address {
	return address.NewAddress(0, 0, bytes.Repeat([]byte{b}, 32))
}

func TestPostIDToHashDeterministic(t *testing.T) {
	a := PostIDToHash("post_abc123")
	b := PostIDToHash("post_abc123")
	assert.Equal(t, a, b)

	seen := make(map[uint64]string)
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("post_%d", i)
		h := PostIDToHash(id)
		if prev, ok := seen[h]; ok {
			t.Fatalf("hash collision between %s and %s", prev, id)
		}
		seen[h] = id
	}
}

func TestPostIDToHashKnownValue(t *testing.T) {
	// sha256("") = e3b0c44298fc1c14...
	assert.Equal(t, uint64(0xe3b0c44298fc1c14), PostIDToHash(""))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	creator := testAddr(0xAB)

	boc, err := EncodeBOC(1700000000123, PostIDToHash("post_1"), creator, nil)
	require.NoError(t, err)

	msg, err := Decode(boc)
	require.NoError(t, err)
	assert.Equal(t, OpProcessPayment, msg.Opcode)
	assert.Equal(t, uint64(1700000000123), msg.QueryID)
	assert.Equal(t, PostIDToHash("post_1"), msg.PostIDHash)
	assert.True(t, SameAddress(creator, msg.Creator))
	assert.Nil(t, msg.Amount)
}

func TestEncodeDecodeWithAmount(t *testing.T) {
	creator := testAddr(0x01)
	amount := big.NewInt(1_500_000_000)

	boc, err := EncodeBOC(7, 42, creator, amount)
	require.NoError(t, err)

	msg, err := Decode(boc)
	require.NoError(t, err)
	require.NotNil(t, msg.Amount)
	assert.Equal(t, 0, amount.Cmp(msg.Amount))
	assert.Equal(t, uint64(7), msg.QueryID)
	assert.Equal(t, uint64(42), msg.PostIDHash)
}

func TestEncodeBase64IsValidBOC(t *testing.T) {
	s, err := EncodeBase64(1, 2, testAddr(0x02), nil)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	_, err = cell.FromBOC(raw)
	require.NoError(t, err)
}

func TestEncodeRequiresCreator(t *testing.T) {
	_, err := Encode(1, 2, nil, nil)
	assert.Error(t, err)
}

func TestDecodeErrors(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, ErrNoOpcode)
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("not a boc", func(t *testing.T) {
		_, err := Decode([]byte("definitely not a bag of cells"))
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("empty cell", func(t *testing.T) {
		_, err := Decode(cell.BeginCell().EndCell().ToBOC())
		assert.ErrorIs(t, err, ErrNoOpcode)
	})

	t.Run("foreign opcode", func(t *testing.T) {
		const withdrawFees uint32 = 0x3a752f06
		c := cell.BeginCell().MustStoreUInt(uint64(withdrawFees), 32).MustStoreUInt(1, 64).EndCell()
		msg, err := Decode(c.ToBOC())
		assert.ErrorIs(t, err, ErrOpcodeMismatch)
		require.NotNil(t, msg)
		assert.Equal(t, withdrawFees, msg.Opcode)
	})

	t.Run("text comment", func(t *testing.T) {
		c, err := TextCommentBody("thanks")
		require.NoError(t, err)
		_, err = DecodeCell(c)
		assert.ErrorIs(t, err, ErrOpcodeMismatch)
	})

	t.Run("truncated tail", func(t *testing.T) {
		c := cell.BeginCell().
			MustStoreUInt(uint64(OpProcessPayment), 32).
			MustStoreUInt(99, 64).
			EndCell()
		msg, err := Decode(c.ToBOC())
		assert.ErrorIs(t, err, ErrMalformedTail)
		assert.ErrorIs(t, err, ErrMalformedMessage)
		require.NotNil(t, msg)
		assert.Equal(t, OpProcessPayment, msg.Opcode)
		assert.Equal(t, uint64(99), msg.QueryID)
	})
}

func TestParseAddressForms(t *testing.T) {
	a := testAddr(0x5C)

	raw := fmt.Sprintf("%d:%s", a.Workchain(), hex.EncodeToString(a.Data()))
	fromRaw, err := ParseAddress(raw)
	require.NoError(t, err)

	fromFriendly, err := ParseAddress(a.String())
	require.NoError(t, err)

	assert.True(t, SameAddress(fromRaw, fromFriendly))
	assert.True(t, SameAddress(a, fromRaw))
	assert.False(t, SameAddress(a, testAddr(0x5D)))
	assert.False(t, SameAddress(a, nil))

	_, err = ParseAddress("not-an-address")
	assert.Error(t, err)
	assert.False(t, ValidAddress(""))
}

func TestProofHash(t *testing.T) {
	c := cell.BeginCell().MustStoreUInt(12345, 64).EndCell()
	boc := base64.StdEncoding.EncodeToString(c.ToBOC())

	h, isBOC := ProofHash(boc)
	assert.True(t, isBOC)
	assert.Equal(t, hex.EncodeToString(c.Hash()), h)

	hexHash := "7E7A6FD8FFDB07D77ADAC2B883257CADD9C81729A7FC210A299EE23E66EE1486"
	h, isBOC = ProofHash(hexHash)
	assert.False(t, isBOC)
	assert.Equal(t, "7e7a6fd8ffdb07d77adac2b883257cadd9c81729a7fc210a299ee23e66ee1486", h)

	rawHash, _ := hex.DecodeString("7e7a6fd8ffdb07d77adac2b883257cadd9c81729a7fc210a299ee23e66ee1486")
	h, _ = ProofHash(base64.StdEncoding.EncodeToString(rawHash))
	assert.Equal(t, "7e7a6fd8ffdb07d77adac2b883257cadd9c81729a7fc210a299ee23e66ee1486", h)

	h, isBOC = ProofHash("  opaque-proof  ")
	assert.False(t, isBOC)
	assert.Equal(t, "opaque-proof", h)
}
