package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidar/internal/common"
)

var pair = common.OrderPair{
	Base:  common.AssetID([]byte{1, 2}),
	Quote: common.AssetID([]byte{3, 4}),
}

// levelView is the shape the assertions compare against.
type levelView struct {
	price uint64
	sum   uint64
	queue []uint64
}

func views(b *Book, side common.Side) []levelView {
	var out []levelView
	for _, lvl := range b.Levels(pair, side) {
		out = append(out, levelView{
			price: lvl.Price,
			sum:   lvl.Sum,
			queue: append([]uint64(nil), lvl.Queue...),
		})
	}
	return out
}

func TestInsertKeepsAsksAscending(t *testing.T) {
	b := New()

	// arrival order deliberately scrambled
	b.Insert(pair, common.Sell, 1, 105, 10)
	b.Insert(pair, common.Sell, 2, 100, 20)
	b.Insert(pair, common.Sell, 3, 110, 30)
	b.Insert(pair, common.Sell, 4, 102, 40)

	expected := []levelView{
		{price: 100, sum: 20, queue: []uint64{2}},
		{price: 102, sum: 40, queue: []uint64{4}},
		{price: 105, sum: 10, queue: []uint64{1}},
		{price: 110, sum: 30, queue: []uint64{3}},
	}
	assert.Equal(t, expected, views(b, common.Sell))

	best, ok := b.Best(pair, common.Sell)
	require.True(t, ok)
	assert.Equal(t, uint64(100), best.Price)
}

func TestInsertKeepsBidsDescending(t *testing.T) {
	b := New()

	b.Insert(pair, common.Buy, 1, 95, 10)
	b.Insert(pair, common.Buy, 2, 99, 20)
	b.Insert(pair, common.Buy, 3, 90, 30)

	expected := []levelView{
		{price: 99, sum: 20, queue: []uint64{2}},
		{price: 95, sum: 10, queue: []uint64{1}},
		{price: 90, sum: 30, queue: []uint64{3}},
	}
	assert.Equal(t, expected, views(b, common.Buy))

	best, ok := b.Best(pair, common.Buy)
	require.True(t, ok)
	assert.Equal(t, uint64(99), best.Price)
}

// Orders at the same price queue behind each other in arrival order and
// accumulate into the level's sum.
func TestInsertSamePriceIsFIFO(t *testing.T) {
	b := New()

	b.Insert(pair, common.Sell, 1, 100, 10)
	b.Insert(pair, common.Sell, 2, 100, 15)
	b.Insert(pair, common.Sell, 3, 100, 5)

	expected := []levelView{
		{price: 100, sum: 30, queue: []uint64{1, 2, 3}},
	}
	assert.Equal(t, expected, views(b, common.Sell))
}

func TestSidesAndPairsAreIndependent(t *testing.T) {
	b := New()
	other := common.OrderPair{Base: pair.Quote, Quote: pair.Base}

	b.Insert(pair, common.Sell, 1, 100, 10)
	b.Insert(pair, common.Buy, 2, 100, 10)
	b.Insert(other, common.Sell, 3, 50, 5)

	assert.Len(t, b.Levels(pair, common.Sell), 1)
	assert.Len(t, b.Levels(pair, common.Buy), 1)
	assert.Len(t, b.Levels(other, common.Sell), 1)
	assert.Empty(t, b.Levels(other, common.Buy))
}

func TestRemoveOrderPartialKeepsLevel(t *testing.T) {
	b := New()
	b.Insert(pair, common.Sell, 1, 100, 10)
	b.Insert(pair, common.Sell, 2, 100, 20)

	lvl, ok := b.LevelAt(pair, common.Sell, 100)
	require.True(t, ok)
	b.RemoveOrder(pair, common.Sell, lvl, 1, 10)

	expected := []levelView{
		{price: 100, sum: 20, queue: []uint64{2}},
	}
	assert.Equal(t, expected, views(b, common.Sell))
}

func TestRemoveLastOrderUnlinksLevel(t *testing.T) {
	b := New()
	b.Insert(pair, common.Sell, 1, 100, 10)
	b.Insert(pair, common.Sell, 2, 105, 20)
	b.Insert(pair, common.Sell, 3, 110, 30)

	// drop the middle level and check the links patch around it
	lvl, ok := b.LevelAt(pair, common.Sell, 105)
	require.True(t, ok)
	nodeID := lvl.NodeID
	b.RemoveOrder(pair, common.Sell, lvl, 2, 20)

	expected := []levelView{
		{price: 100, sum: 10, queue: []uint64{1}},
		{price: 110, sum: 30, queue: []uint64{3}},
	}
	assert.Equal(t, expected, views(b, common.Sell))

	// the arena slot is freed
	_, ok = b.Level(nodeID)
	assert.False(t, ok)
}

func TestRemoveHeadAndTailLevels(t *testing.T) {
	b := New()
	b.Insert(pair, common.Buy, 1, 99, 10)
	b.Insert(pair, common.Buy, 2, 95, 20)

	head, ok := b.Best(pair, common.Buy)
	require.True(t, ok)
	b.RemoveLevel(pair, common.Buy, head.NodeID)

	best, ok := b.Best(pair, common.Buy)
	require.True(t, ok)
	assert.Equal(t, uint64(95), best.Price)

	b.RemoveLevel(pair, common.Buy, best.NodeID)
	_, ok = b.Best(pair, common.Buy)
	assert.False(t, ok)

	// a fresh insert after full drain starts a clean list
	b.Insert(pair, common.Buy, 3, 97, 5)
	expected := []levelView{
		{price: 97, sum: 5, queue: []uint64{3}},
	}
	assert.Equal(t, expected, views(b, common.Buy))
}

func TestWalkStopsWhenToldTo(t *testing.T) {
	b := New()
	b.Insert(pair, common.Sell, 1, 100, 10)
	b.Insert(pair, common.Sell, 2, 105, 20)
	b.Insert(pair, common.Sell, 3, 110, 30)

	var visited []uint64
	b.Walk(pair, common.Sell, func(lvl *PriceLevel) bool {
		visited = append(visited, lvl.Price)
		return lvl.Price < 105
	})
	assert.Equal(t, []uint64{100, 105}, visited)
}
