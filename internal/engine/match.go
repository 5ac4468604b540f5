package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"vidar/internal/book"
	"vidar/internal/common"
)

// matchIncoming walks the opposite side of the book best-first and
// consumes levels while the taker's limit crosses them. Each fill
// settles at the resting order's price; a buyer who crossed with a
// better limit gets the over-locked quote refunded inside the
// settlement.
func (e *Engine) matchIncoming(taker *common.Order) error {
	restSide := taker.Side.Opposite()

	lvl, ok := e.book.Best(taker.Pair, restSide)
	for ok && taker.Left > 0 && taker.Side.Crosses(taker.Price, lvl.Price) {
		// the level may be unlinked once consumed, so step first
		next, nextOK := e.book.After(lvl)
		if err := e.consumeLevel(taker, restSide, lvl); err != nil {
			return err
		}
		lvl, ok = next, nextOK
	}
	return nil
}

// consumeLevel fills the taker against lvl's queue in FIFO order until
// either side runs out, then compacts the queue and unlinks the level
// if nothing rests there anymore.
func (e *Engine) consumeLevel(taker *common.Order, restSide common.Side, lvl *book.PriceLevel) error {
	levelFill := min(taker.Left, lvl.Sum)
	remaining := levelFill
	finished := make([]uint64, 0, len(lvl.Queue))

	for _, makerID := range lvl.Queue {
		if remaining == 0 {
			break
		}
		maker, ok := e.orders.Get(makerID)
		if !ok {
			log.Error().Uint64("order", makerID).Msg("book queue references unknown order")
			return fmt.Errorf("%w: order %d in book but not in order map", common.ErrInvariant, makerID)
		}

		fill := min(maker.Left, remaining)
		if err := e.settleFill(taker, maker, lvl.Price, fill); err != nil {
			return err
		}

		maker.Left -= fill
		maker.Fills = append(maker.Fills, taker.ID)
		taker.Left -= fill
		taker.Fills = append(taker.Fills, maker.ID)
		remaining -= fill

		if maker.Left == 0 {
			maker.Status = common.Finished
			finished = append(finished, makerID)
		}
	}

	e.book.RemoveOrders(taker.Pair, restSide, lvl, finished, levelFill-remaining)
	return nil
}

// settleFill maps taker/maker onto buyer/seller and runs the ledger
// settlement. The clearing price is the maker's; the buy-side lock
// price rides along so the ledger can refund any overlock.
func (e *Engine) settleFill(taker, maker *common.Order, tradePrice, fill uint64) error {
	var seller, buyer common.AccountID
	var buyLockPrice uint64
	if taker.Side == common.Buy {
		seller, buyer = maker.Who, taker.Who
		buyLockPrice = taker.Price
	} else {
		seller, buyer = taker.Who, maker.Who
		buyLockPrice = maker.Price
	}

	err := e.ledger.SettleTrade(seller, buyer, taker.Pair.Base, taker.Pair.Quote,
		fill, tradePrice, buyLockPrice)
	if err != nil {
		return err
	}

	log.Debug().
		Uint64("taker", taker.ID).
		Uint64("maker", maker.ID).
		Uint64("qty", fill).
		Uint64("price", tradePrice).
		Msg("fill settled")

	if e.reporter != nil {
		e.reporter.Fill(common.Trade{
			Pair:         taker.Pair,
			TakerSide:    taker.Side,
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			Maker:        maker.Who,
			Taker:        taker.Who,
			Qty:          fill,
			Price:        tradePrice,
			Block:        e.blockFn(),
		})
	}
	return nil
}
