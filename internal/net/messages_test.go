package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidar/internal/common"
)

var testPair = common.OrderPair{
	Base:  common.AssetID([]byte{1, 2}),
	Quote: common.AssetID([]byte{3, 4}),
}

func TestNewOrderWireFormat(t *testing.T) {
	buf, err := EncodeNewOrder("alice", testPair, common.Sell, 100, 105)
	require.NoError(t, err)

	msg, err := parseMessage(buf)
	require.NoError(t, err)

	order, ok := msg.(NewOrderMessage)
	require.True(t, ok)
	assert.Equal(t, common.AccountID("alice"), order.Origin())
	assert.Equal(t, testPair, order.Pair)
	assert.Equal(t, common.Sell, order.Side)
	assert.Equal(t, uint64(100), order.Amount)
	assert.Equal(t, uint64(105), order.Price)
}

func TestTruncatedMessageIsRejected(t *testing.T) {
	buf, err := EncodeCancelOrder("alice", testPair, 7)
	require.NoError(t, err)

	_, err = parseMessage(buf[:len(buf)-3])
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = parseMessage([]byte{0xff})
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestReportRoundTrip(t *testing.T) {
	report := Report{
		MessageType:  ExecutionReport,
		Side:         common.Buy,
		OrderID:      42,
		Quantity:     50,
		Price:        100,
		Timestamp:    1700000000,
		Counterparty: "bob",
	}

	buf, err := report.Serialize()
	require.NoError(t, err)
	assert.Equal(t, ReportFixedLen+1+3+1, len(buf))

	parsed, err := ParseReport(buf)
	require.NoError(t, err)
	assert.Equal(t, report, parsed)
}
