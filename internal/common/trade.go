package common

import "fmt"

// Trade records one fill between a resting maker and an incoming taker.
// The clearing price is always the maker's price.
type Trade struct {
	Pair         OrderPair
	TakerSide    Side
	MakerOrderID uint64
	TakerOrderID uint64
	Maker        AccountID
	Taker        AccountID
	Qty          uint64
	Price        uint64 // clearing price (maker's)
	Block        uint64
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`Pair:      %v
TakerSide: %v
Maker:     %s (order %d)
Taker:     %s (order %d)
Qty:       %d
Price:     %d
Block:     %d`,
		t.Pair,
		t.TakerSide,
		t.Maker, t.MakerOrderID,
		t.Taker, t.TakerOrderID,
		t.Qty,
		t.Price,
		t.Block,
	)
}
