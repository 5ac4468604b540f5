package book

// PriceLevel aggregates every resting order at one price on one
// (pair, side) list. Levels link to their neighbours by node id, with
// 0 meaning none; the arena owns the nodes, a level holds only order
// ids, never order records.
type PriceLevel struct {
	NodeID uint64
	Price  uint64
	Sum    uint64   // total remaining base quantity, Sum == sum of Left over Queue
	Queue  []uint64 // active order ids, FIFO arrival order

	prev uint64
	next uint64
}

// Next returns the id of the next-worse level, if any.
func (lvl *PriceLevel) Next() (uint64, bool) {
	return lvl.next, lvl.next != 0
}

// Prev returns the id of the next-better level, if any.
func (lvl *PriceLevel) Prev() (uint64, bool) {
	return lvl.prev, lvl.prev != 0
}
