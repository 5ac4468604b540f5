package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidar/internal/common"
)

var (
	base  = common.AssetID([]byte{1, 2})
	quote = common.AssetID([]byte{3, 4})

	acctSeller = common.AccountID("10")
	acctBuyer  = common.AccountID("11")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New()
	l.AddAssetType(base, 1000)
	l.AddAssetType(quote, 1000)
	return l
}

func TestMintAndBurn(t *testing.T) {
	l := newTestLedger(t)

	assert.NoError(t, l.Mint(acctSeller, base, 10000))
	assert.Equal(t, uint64(10000), l.Free(base, acctSeller))
	assert.Equal(t, uint64(0), l.Locked(base, acctSeller))

	assert.NoError(t, l.Burn(acctSeller, base, 4000))
	assert.Equal(t, uint64(6000), l.Free(base, acctSeller))

	// burning more than free is a user error
	assert.ErrorIs(t, l.Burn(acctSeller, base, 7000), common.ErrInsufficientFree)

	// unregistered assets are refused outright
	assert.ErrorIs(t, l.Mint(acctSeller, common.AssetID("nope"), 1), common.ErrUnknownAsset)
}

func TestLockUnlock(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(acctSeller, base, 100))

	assert.NoError(t, l.Lock(acctSeller, base, 60))
	assert.Equal(t, uint64(40), l.Free(base, acctSeller))
	assert.Equal(t, uint64(60), l.Locked(base, acctSeller))

	assert.ErrorIs(t, l.Lock(acctSeller, base, 41), common.ErrInsufficientFree)
	assert.ErrorIs(t, l.Unlock(acctSeller, base, 61), common.ErrInsufficientLocked)

	assert.NoError(t, l.Unlock(acctSeller, base, 60))
	assert.Equal(t, uint64(100), l.Free(base, acctSeller))
	assert.Equal(t, uint64(0), l.Locked(base, acctSeller))
}

func TestTransfer(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(acctSeller, quote, 500))

	assert.NoError(t, l.Transfer(acctSeller, acctBuyer, quote, 200))
	assert.Equal(t, uint64(300), l.Free(quote, acctSeller))
	assert.Equal(t, uint64(200), l.Free(quote, acctBuyer))

	assert.ErrorIs(t, l.Transfer(acctSeller, acctBuyer, quote, 301), common.ErrInsufficientFree)
}

// Settlement at the maker's price with an over-locked buyer: the spread
// between lock price and trade price is returned to the buyer's free
// pool, then quote and base swap between locked and free pools.
func TestSettleTradeWithRefund(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(acctSeller, base, 10000))
	require.NoError(t, l.Mint(acctBuyer, quote, 10000))

	// seller rests 100 base at price 100; buyer crosses 50 at 105
	require.NoError(t, l.Lock(acctSeller, base, 100))
	require.NoError(t, l.Lock(acctBuyer, quote, 50*105))

	assert.NoError(t, l.SettleTrade(acctSeller, acctBuyer, base, quote, 50, 100, 105))

	assert.Equal(t, uint64(9900), l.Free(base, acctSeller))
	assert.Equal(t, uint64(50), l.Locked(base, acctSeller))
	assert.Equal(t, uint64(5000), l.Free(quote, acctSeller))

	assert.Equal(t, uint64(50), l.Free(base, acctBuyer))
	assert.Equal(t, uint64(5000), l.Free(quote, acctBuyer))
	assert.Equal(t, uint64(0), l.Locked(quote, acctBuyer))
}

func TestSettleTradeNoRefundAtEqualPrice(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(acctSeller, base, 10))
	require.NoError(t, l.Mint(acctBuyer, quote, 1000))
	require.NoError(t, l.Lock(acctSeller, base, 10))
	require.NoError(t, l.Lock(acctBuyer, quote, 1000))

	assert.NoError(t, l.SettleTrade(acctSeller, acctBuyer, base, quote, 10, 100, 100))
	assert.Equal(t, uint64(0), l.Locked(quote, acctBuyer))
	assert.Equal(t, uint64(1000), l.Free(quote, acctSeller))
	assert.Equal(t, uint64(10), l.Free(base, acctBuyer))
}

// Settling without the matching locks in place must fail loudly, not
// wrap below zero.
func TestSettleTradeUnderflowIsInvariantViolation(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(acctSeller, base, 100))
	require.NoError(t, l.Mint(acctBuyer, quote, 100))

	err := l.SettleTrade(acctSeller, acctBuyer, base, quote, 10, 10, 10)
	assert.ErrorIs(t, err, common.ErrInvariant)
}

func TestMintOverflow(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(acctSeller, base, math.MaxUint64))
	assert.ErrorIs(t, l.Mint(acctSeller, base, 1), common.ErrOverflow)
}

// free + locked is conserved by every movement except mint and burn.
func TestConservation(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(acctSeller, base, 10000))

	total := func() uint64 { return l.Free(base, acctSeller) + l.Locked(base, acctSeller) }

	require.NoError(t, l.Lock(acctSeller, base, 3000))
	assert.Equal(t, uint64(10000), total())
	require.NoError(t, l.Unlock(acctSeller, base, 1000))
	assert.Equal(t, uint64(10000), total())
}

func TestSnapshotDeterministicOrder(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(acctBuyer, quote, 5))
	require.NoError(t, l.Mint(acctSeller, base, 7))
	require.NoError(t, l.Mint(acctBuyer, base, 3))

	snap := l.Snapshot()
	expected := []Balance{
		{Asset: base, Account: acctSeller, Free: 7},
		{Asset: base, Account: acctBuyer, Free: 3},
		{Asset: quote, Account: acctBuyer, Free: 5},
	}
	assert.Equal(t, expected, snap)
}
