package common

import "fmt"

// Order is one user submission. The record is never destroyed: filled
// and canceled orders stay in the order map for audit, they are only
// removed from the book structures.
type Order struct {
	ID        uint64      // unique, monotonically increasing
	Who       AccountID   // owning account
	Side      Side        // buy or sell
	Pair      OrderPair   //
	Amount    uint64      // original base-asset quantity requested
	Price     uint64      // limit price in quote per base
	Left      uint64      // unfilled base quantity, 0 <= Left <= Amount
	Status    OrderStatus //
	CreatedAt uint64      // block number at submission
	Fills     []uint64    // ids of counterparty orders, in fill order
}

// LockedAmount is the collateral still reserved for the unfilled part
// of the order. For buys Price*Left cannot overflow because
// Price*Amount was checked at submission.
func (o *Order) LockedAmount() uint64 {
	if o.Side == Sell {
		return o.Left
	}
	return o.Price * o.Left
}

func (o *Order) String() string {
	return fmt.Sprintf(
		`ID:        %d
Who:       %s
Side:      %v
Pair:      %v
Amount:    %d (Left: %d)
Price:     %d
Status:    %v
CreatedAt: %d
Fills:     %v`,
		o.ID,
		o.Who,
		o.Side,
		o.Pair,
		o.Amount,
		o.Left,
		o.Price,
		o.Status,
		o.CreatedAt,
		o.Fills,
	)
}
