// Package book holds the resting side of the market: one doubly linked
// list of price levels per (pair, side), best price at the head. Asks
// ascend from the head, bids descend, so matching always walks from the
// head toward strictly worse prices.
//
// Levels live in a flat arena keyed by node id and reference each other
// only through those ids. Insertion is a linear walk of the side's
// levels; depth on a deterministic venue is small enough that this
// never shows up.
package book

import (
	"github.com/tidwall/btree"

	"vidar/internal/common"
)

type sideKey struct {
	pair common.OrderPair
	side common.Side
}

type Book struct {
	// level arena; the map owns every node, lists reference by id
	levels *btree.Map[uint64, *PriceLevel]
	head   map[sideKey]uint64
	tail   map[sideKey]uint64

	nextNode uint64
}

func New() *Book {
	return &Book{
		levels: &btree.Map[uint64, *PriceLevel]{},
		head:   make(map[sideKey]uint64),
		tail:   make(map[sideKey]uint64),
	}
}

func (b *Book) newNodeID() uint64 {
	b.nextNode++
	return b.nextNode
}

// Level resolves a node id through the arena.
func (b *Book) Level(nodeID uint64) (*PriceLevel, bool) {
	return b.levels.Get(nodeID)
}

// Best returns the head level of (pair, side): the lowest ask or the
// highest bid.
func (b *Book) Best(pair common.OrderPair, side common.Side) (*PriceLevel, bool) {
	id, ok := b.head[sideKey{pair, side}]
	if !ok {
		return nil, false
	}
	return b.levels.Get(id)
}

// After returns the level following lvl on its list, best-first order.
func (b *Book) After(lvl *PriceLevel) (*PriceLevel, bool) {
	id, ok := lvl.Next()
	if !ok {
		return nil, false
	}
	return b.levels.Get(id)
}

// Walk visits the levels of (pair, side) from best toward worst until
// fn returns false.
func (b *Book) Walk(pair common.OrderPair, side common.Side, fn func(*PriceLevel) bool) {
	lvl, ok := b.Best(pair, side)
	for ok {
		next, nextOK := b.After(lvl)
		if !fn(lvl) {
			return
		}
		lvl, ok = next, nextOK
	}
}

// Insert books orderID with amount remaining at price. An existing
// level at that price absorbs the order at the back of its queue; a
// new price splices a fresh level so that asks stay ascending and bids
// descending.
func (b *Book) Insert(pair common.OrderPair, side common.Side, orderID, price, amount uint64) {
	key := sideKey{pair, side}

	var prev *PriceLevel
	lvl, ok := b.Best(pair, side)
	for ok {
		if lvl.Price == price {
			lvl.Sum += amount
			lvl.Queue = append(lvl.Queue, orderID)
			return
		}
		if side.RestsBefore(price, lvl.Price) {
			b.spliceBefore(key, prev, lvl, orderID, price, amount)
			return
		}
		prev = lvl
		lvl, ok = b.After(lvl)
	}
	// worse than everything resting, or the list is empty
	b.spliceBefore(key, prev, nil, orderID, price, amount)
}

// spliceBefore links a new level between prev and next. Either may be
// nil, meaning the new level becomes the head or the tail.
func (b *Book) spliceBefore(key sideKey, prev, next *PriceLevel, orderID, price, amount uint64) {
	lvl := &PriceLevel{
		NodeID: b.newNodeID(),
		Price:  price,
		Sum:    amount,
		Queue:  []uint64{orderID},
	}
	b.levels.Set(lvl.NodeID, lvl)

	if prev != nil {
		lvl.prev = prev.NodeID
		prev.next = lvl.NodeID
	} else {
		b.head[key] = lvl.NodeID
	}
	if next != nil {
		lvl.next = next.NodeID
		next.prev = lvl.NodeID
	} else {
		b.tail[key] = lvl.NodeID
	}
}

// RemoveOrder drops orderID from lvl's queue and subtracts qty from its
// sum. A level left with nothing resting is unlinked and its arena
// slot freed.
func (b *Book) RemoveOrder(pair common.OrderPair, side common.Side, lvl *PriceLevel, orderID, qty uint64) {
	b.RemoveOrders(pair, side, lvl, []uint64{orderID}, qty)
}

// RemoveOrders is RemoveOrder for a batch of ids consumed in one
// matching pass over the level.
func (b *Book) RemoveOrders(pair common.OrderPair, side common.Side, lvl *PriceLevel, orderIDs []uint64, qty uint64) {
	if len(orderIDs) > 0 {
		keep := lvl.Queue[:0]
		for _, id := range lvl.Queue {
			removed := false
			for _, rm := range orderIDs {
				if id == rm {
					removed = true
					break
				}
			}
			if !removed {
				keep = append(keep, id)
			}
		}
		lvl.Queue = keep
	}
	if qty > lvl.Sum {
		qty = lvl.Sum
	}
	lvl.Sum -= qty

	if lvl.Sum == 0 || len(lvl.Queue) == 0 {
		b.RemoveLevel(pair, side, lvl.NodeID)
	}
}

// RemoveLevel unlinks a level from its list and frees its arena slot.
func (b *Book) RemoveLevel(pair common.OrderPair, side common.Side, nodeID uint64) {
	lvl, ok := b.levels.Get(nodeID)
	if !ok {
		return
	}
	key := sideKey{pair, side}

	if prev, ok := b.levels.Get(lvl.prev); ok {
		prev.next = lvl.next
	} else {
		if lvl.next != 0 {
			b.head[key] = lvl.next
		} else {
			delete(b.head, key)
		}
	}
	if next, ok := b.levels.Get(lvl.next); ok {
		next.prev = lvl.prev
	} else {
		if lvl.prev != 0 {
			b.tail[key] = lvl.prev
		} else {
			delete(b.tail, key)
		}
	}
	b.levels.Delete(nodeID)
}

// LevelAt finds the level resting at price on (pair, side).
func (b *Book) LevelAt(pair common.OrderPair, side common.Side, price uint64) (*PriceLevel, bool) {
	var found *PriceLevel
	b.Walk(pair, side, func(lvl *PriceLevel) bool {
		if lvl.Price == price {
			found = lvl
			return false
		}
		return true
	})
	return found, found != nil
}

// Levels returns the side's levels best-first. Mostly a test and
// inspection convenience.
func (b *Book) Levels(pair common.OrderPair, side common.Side) []*PriceLevel {
	var out []*PriceLevel
	b.Walk(pair, side, func(lvl *PriceLevel) bool {
		out = append(out, lvl)
		return true
	})
	return out
}
