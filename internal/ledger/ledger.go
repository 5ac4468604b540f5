// Package ledger owns per-(asset, account) balances, partitioned into a
// free pool and a locked pool. Locked balances are committed to open
// orders and move only through Unlock or SettleTrade. The ledger knows
// nothing about orders.
package ledger

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"vidar/internal/common"
)

// pool selects which partition of an entry a movement touches.
type pool int

const (
	free pool = iota
	locked
)

type entry struct {
	asset   common.AssetID
	account common.AccountID
	free    uint64
	locked  uint64
}

// Entries are sorted by (asset, account) so snapshots iterate in a
// deterministic order.
func lessEntry(a, b *entry) bool {
	if a.asset != b.asset {
		return a.asset < b.asset
	}
	return a.account < b.account
}

// Balance is a read-only view of one (asset, account) entry.
type Balance struct {
	Asset   common.AssetID
	Account common.AccountID
	Free    uint64
	Locked  uint64
}

type Ledger struct {
	entries *btree.BTreeG[*entry]
	// registered asset types and their display precision
	registry *btree.Map[common.AssetID, uint64]
}

func New() *Ledger {
	return &Ledger{
		entries:  btree.NewBTreeG(lessEntry),
		registry: &btree.Map[common.AssetID, uint64]{},
	}
}

// AddAssetType registers an asset with its precision. Re-registering
// updates the precision.
func (l *Ledger) AddAssetType(asset common.AssetID, precision uint64) {
	l.registry.Set(asset, precision)
}

// ValidAsset fails with ErrUnknownAsset unless asset is registered.
func (l *Ledger) ValidAsset(asset common.AssetID) error {
	if _, ok := l.registry.Get(asset); !ok {
		return fmt.Errorf("%w: %x", common.ErrUnknownAsset, string(asset))
	}
	return nil
}

// Precision returns the registered precision for an asset.
func (l *Ledger) Precision(asset common.AssetID) (uint64, bool) {
	return l.registry.Get(asset)
}

func (l *Ledger) get(asset common.AssetID, account common.AccountID) *entry {
	e, ok := l.entries.Get(&entry{asset: asset, account: account})
	if !ok {
		return &entry{asset: asset, account: account}
	}
	return e
}

// getMut returns the live entry, inserting a zero one if absent.
func (l *Ledger) getMut(asset common.AssetID, account common.AccountID) *entry {
	probe := &entry{asset: asset, account: account}
	if e, ok := l.entries.Get(probe); ok {
		return e
	}
	l.entries.Set(probe)
	return probe
}

// Free returns the free balance of account in asset.
func (l *Ledger) Free(asset common.AssetID, account common.AccountID) uint64 {
	return l.get(asset, account).free
}

// Locked returns the locked balance of account in asset.
func (l *Ledger) Locked(asset common.AssetID, account common.AccountID) uint64 {
	return l.get(asset, account).locked
}

// adjust applies a single checked movement to one partition of one
// entry.
func (l *Ledger) adjust(who common.AccountID, asset common.AssetID, p pool, n uint64, add bool) error {
	e := l.getMut(asset, who)
	target := &e.free
	if p == locked {
		target = &e.locked
	}
	var (
		next uint64
		err  error
	)
	if add {
		next, err = common.CheckedAdd(*target, n)
	} else {
		next, err = common.CheckedSub(*target, n)
	}
	if err != nil {
		return err
	}
	*target = next
	return nil
}

// Lock moves n from free to locked. Fails with ErrInsufficientFree if
// the free balance does not cover n.
func (l *Ledger) Lock(who common.AccountID, asset common.AssetID, n uint64) error {
	if err := l.ValidAsset(asset); err != nil {
		return err
	}
	e := l.getMut(asset, who)
	if n > e.free {
		return fmt.Errorf("%w: lock %d of %x, free %d", common.ErrInsufficientFree, n, string(asset), e.free)
	}
	next, err := common.CheckedAdd(e.locked, n)
	if err != nil {
		return err
	}
	e.free -= n
	e.locked = next
	return nil
}

// Unlock moves n from locked back to free. Fails with
// ErrInsufficientLocked if the locked balance does not cover n.
func (l *Ledger) Unlock(who common.AccountID, asset common.AssetID, n uint64) error {
	if err := l.ValidAsset(asset); err != nil {
		return err
	}
	e := l.getMut(asset, who)
	if n > e.locked {
		return fmt.Errorf("%w: unlock %d of %x, locked %d", common.ErrInsufficientLocked, n, string(asset), e.locked)
	}
	next, err := common.CheckedAdd(e.free, n)
	if err != nil {
		return err
	}
	e.locked -= n
	e.free = next
	return nil
}

// Transfer moves n of asset between the free balances of two accounts.
func (l *Ledger) Transfer(src, dst common.AccountID, asset common.AssetID, n uint64) error {
	if err := l.ValidAsset(asset); err != nil {
		return err
	}
	if n > l.Free(asset, src) {
		return fmt.Errorf("%w: transfer %d of %x", common.ErrInsufficientFree, n, string(asset))
	}
	if _, err := common.CheckedAdd(l.Free(asset, dst), n); err != nil {
		return err
	}
	if err := l.adjust(src, asset, free, n, false); err != nil {
		return err
	}
	return l.adjust(dst, asset, free, n, true)
}

// Mint credits n of asset to the free balance of who.
func (l *Ledger) Mint(who common.AccountID, asset common.AssetID, n uint64) error {
	if err := l.ValidAsset(asset); err != nil {
		return err
	}
	return l.adjust(who, asset, free, n, true)
}

// Burn debits n of asset from the free balance of who.
func (l *Ledger) Burn(who common.AccountID, asset common.AssetID, n uint64) error {
	if err := l.ValidAsset(asset); err != nil {
		return err
	}
	if n > l.Free(asset, who) {
		return fmt.Errorf("%w: burn %d of %x", common.ErrInsufficientFree, n, string(asset))
	}
	return l.adjust(who, asset, free, n, false)
}

// SettleTrade applies one fill as the following movements, in order:
//
//  1. If the buyer locked at a higher price than the trade cleared,
//     the over-reserved quote (qty * (buyLockPrice - tradePrice)) is
//     unlocked back to the buyer.
//  2. qty*tradePrice of quote moves from the buyer's locked pool to
//     the seller's free pool.
//  3. qty of base moves from the seller's locked pool to the buyer's
//     free pool.
//
// The matcher must have reserved both locked sides before calling, so
// any underflow here is an ErrInvariant: a bug, not a user error. A
// failing step does not roll back the steps before it; the caller is
// expected to abort and unwind the whole submission.
func (l *Ledger) SettleTrade(seller, buyer common.AccountID, base, quote common.AssetID,
	qty, tradePrice, buyLockPrice uint64) error {

	fatal := func(step string, err error) error {
		log.Error().
			Err(err).
			Str("step", step).
			Str("seller", string(seller)).
			Str("buyer", string(buyer)).
			Uint64("qty", qty).
			Uint64("tradePrice", tradePrice).
			Uint64("buyLockPrice", buyLockPrice).
			Msg("settlement underflow, matcher reserved the wrong collateral")
		return fmt.Errorf("%w: settle %s: %v", common.ErrInvariant, step, err)
	}

	if buyLockPrice > tradePrice {
		refund, err := common.CheckedMul(qty, buyLockPrice-tradePrice)
		if err != nil {
			return fatal("refund", err)
		}
		if err := l.Unlock(buyer, quote, refund); err != nil {
			return fatal("refund", err)
		}
	}

	money, err := common.CheckedMul(qty, tradePrice)
	if err != nil {
		return fatal("money", err)
	}
	if err := l.adjust(buyer, quote, locked, money, false); err != nil {
		return fatal("debit buyer quote", err)
	}
	if err := l.adjust(seller, quote, free, money, true); err != nil {
		return fatal("credit seller quote", err)
	}
	if err := l.adjust(seller, base, locked, qty, false); err != nil {
		return fatal("debit seller base", err)
	}
	if err := l.adjust(buyer, base, free, qty, true); err != nil {
		return fatal("credit buyer base", err)
	}
	return nil
}

// Snapshot returns every non-zero entry in (asset, account) order.
// Sorted iteration keeps replays bitwise-identical.
func (l *Ledger) Snapshot() []Balance {
	out := make([]Balance, 0, l.entries.Len())
	l.entries.Scan(func(e *entry) bool {
		if e.free == 0 && e.locked == 0 {
			return true
		}
		out = append(out, Balance{
			Asset:   e.asset,
			Account: e.account,
			Free:    e.free,
			Locked:  e.locked,
		})
		return true
	})
	return out
}
