// Package engine orchestrates submissions end to end: validate, lock
// collateral, match against the opposite book side, settle each fill
// through the ledger, and park any residual on the order's own side.
//
// The engine is single-threaded by contract. The containing runtime
// serializes submissions, so for any two orders the post-state is the
// state of applying the first fully, then the second.
package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"vidar/internal/book"
	"vidar/internal/common"
	"vidar/internal/ledger"
)

// BlockFunc supplies the current block number. The engine never tracks
// time itself; the outer runtime owns it.
type BlockFunc func() uint64

// Reporter receives the events the engine produces. NewOrder fires once
// per accepted submission, Fill once per settled trade.
type Reporter interface {
	NewOrder(who common.AccountID, orderID uint64)
	Fill(trade common.Trade)
}

type Engine struct {
	ledger *ledger.Ledger
	book   *book.Book

	// audit record of every order ever accepted, keyed by id; sorted
	// iteration keeps snapshots deterministic
	orders *btree.Map[uint64, *common.Order]
	pairs  []common.OrderPair

	nextOrderID uint64
	blockFn     BlockFunc
	reporter    Reporter
}

func New(l *ledger.Ledger) *Engine {
	return &Engine{
		ledger:  l,
		book:    book.New(),
		orders:  &btree.Map[uint64, *common.Order]{},
		blockFn: func() uint64 { return 0 },
	}
}

// SetReporter wires the event sink. A nil reporter drops events.
func (e *Engine) SetReporter(r Reporter) {
	e.reporter = r
}

// SetBlockFunc wires the block number provider.
func (e *Engine) SetBlockFunc(fn BlockFunc) {
	e.blockFn = fn
}

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }
func (e *Engine) Book() *book.Book       { return e.book }

// Order looks up an order record by id.
func (e *Engine) Order(id uint64) (*common.Order, bool) {
	return e.orders.Get(id)
}

// Pairs returns the registered order pairs in registration order.
func (e *Engine) Pairs() []common.OrderPair {
	return append([]common.OrderPair(nil), e.pairs...)
}

// AddOrderPair registers a tradable pair. Both assets must already be
// registered with the ledger.
func (e *Engine) AddOrderPair(pair common.OrderPair) error {
	for _, p := range e.pairs {
		if p == pair {
			return fmt.Errorf("%w: %v", common.ErrPairExists, pair)
		}
	}
	if err := e.ledger.ValidAsset(pair.Base); err != nil {
		return err
	}
	if err := e.ledger.ValidAsset(pair.Quote); err != nil {
		return err
	}
	e.pairs = append(e.pairs, pair)
	return nil
}

func (e *Engine) validPair(pair common.OrderPair) bool {
	for _, p := range e.pairs {
		if p == pair {
			return true
		}
	}
	return false
}

// Submit runs one order through the whole flow and returns its id.
// Validation failures leave every component untouched. Any error after
// the collateral lock succeeded wraps ErrInvariant; the caller must
// treat the submission as aborted and roll back.
func (e *Engine) Submit(who common.AccountID, pair common.OrderPair, side common.Side, amount, price uint64) (uint64, error) {
	if amount == 0 || price == 0 {
		return 0, fmt.Errorf("%w: amount and price must be positive", common.ErrBadRequest)
	}
	if !e.validPair(pair) {
		return 0, fmt.Errorf("%w: pair %v not registered", common.ErrBadRequest, pair)
	}

	lockAmount, err := side.LockAmount(amount, price)
	if err != nil {
		return 0, err
	}
	if err := e.ledger.Lock(who, side.LockAsset(pair), lockAmount); err != nil {
		return 0, err
	}

	id := e.nextOrderID + 1
	order := &common.Order{
		ID:        id,
		Who:       who,
		Side:      side,
		Pair:      pair,
		Amount:    amount,
		Price:     price,
		Left:      amount,
		Status:    common.Valid,
		CreatedAt: e.blockFn(),
	}
	e.orders.Set(id, order)
	e.nextOrderID = id

	if err := e.matchIncoming(order); err != nil {
		return 0, err
	}

	if order.Left > 0 {
		e.book.Insert(pair, side, id, price, order.Left)
	} else {
		order.Status = common.Finished
	}

	log.Debug().
		Uint64("order", id).
		Str("who", string(who)).
		Str("side", side.String()).
		Uint64("amount", amount).
		Uint64("price", price).
		Uint64("left", order.Left).
		Msg("order accepted")

	if e.reporter != nil {
		e.reporter.NewOrder(who, id)
	}
	return id, nil
}

// Cancel voids the unfilled remainder of an order: flips the status,
// hands the residual collateral back and drops the order from its
// level.
func (e *Engine) Cancel(who common.AccountID, pair common.OrderPair, orderID uint64) error {
	order, ok := e.orders.Get(orderID)
	if !ok {
		return fmt.Errorf("%w: %d", common.ErrUnknownOrder, orderID)
	}
	if order.Pair != pair {
		return fmt.Errorf("%w: order %d is not on pair %v", common.ErrBadRequest, orderID, pair)
	}
	if order.Who != who {
		return fmt.Errorf("%w: order %d belongs to another account", common.ErrNotPermitted, orderID)
	}
	if order.Status != common.Valid {
		return fmt.Errorf("%w: order %d is %v", common.ErrNotCancelable, orderID, order.Status)
	}

	if err := e.ledger.Unlock(who, order.Side.LockAsset(pair), order.LockedAmount()); err != nil {
		log.Error().Err(err).Uint64("order", orderID).Msg("residual collateral was not locked")
		return fmt.Errorf("%w: cancel %d: %v", common.ErrInvariant, orderID, err)
	}

	lvl, ok := e.book.LevelAt(pair, order.Side, order.Price)
	if !ok {
		log.Error().Uint64("order", orderID).Uint64("price", order.Price).Msg("valid order missing from book")
		return fmt.Errorf("%w: cancel %d: level not found", common.ErrInvariant, orderID)
	}
	e.book.RemoveOrder(pair, order.Side, lvl, orderID, order.Left)

	order.Status = common.Canceled

	log.Debug().
		Uint64("order", orderID).
		Str("who", string(who)).
		Uint64("left", order.Left).
		Msg("order canceled")
	return nil
}

// LogBook dumps every registered pair's resting levels through the
// logger. Operator convenience only.
func (e *Engine) LogBook() {
	for _, pair := range e.pairs {
		for _, side := range []common.Side{common.Sell, common.Buy} {
			e.book.Walk(pair, side, func(lvl *book.PriceLevel) bool {
				log.Info().
					Str("pair", pair.String()).
					Str("side", side.String()).
					Uint64("price", lvl.Price).
					Uint64("sum", lvl.Sum).
					Int("orders", len(lvl.Queue)).
					Msg("book level")
				return true
			})
		}
	}
}
