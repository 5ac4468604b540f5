package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"vidar/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrFieldTooLong       = errors.New("field exceeds maximum length")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	LogBook
	AddAsset
	AddPair
	Mint
	Transfer
)

type ReportMessageType int

const (
	ExecutionReport ReportMessageType = iota
	OrderAck
	ErrorReport
)

type Message interface {
	GetType() MessageType
	// Origin is the account the message acts as. The runtime in front
	// of the engine is responsible for authenticating it; this server
	// takes it at face value.
	Origin() common.AccountID
}

// Message format constants
const (
	BaseMessageHeaderLen = 2
	MaxStringLen         = 255

	// ReportFixedLen is the fixed prefix of a Report frame:
	// type(1) side(1) orderID(8) qty(8) price(8) timestamp(8).
	ReportFixedLen = 34
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
	User   common.AccountID
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func (m BaseMessage) Origin() common.AccountID {
	return m.User
}

// reader walks a received buffer field by field. Strings are
// length-prefixed with one byte; integers are big endian.
type reader struct {
	buf []byte
}

func (r *reader) u8() (uint8, error) {
	if len(r.buf) < 1 {
		return 0, ErrMessageTooShort
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if len(r.buf) < 8 {
		return 0, ErrMessageTooShort
	}
	v := binary.BigEndian.Uint64(r.buf[:8])
	r.buf = r.buf[8:]
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u8()
	if err != nil {
		return "", err
	}
	if len(r.buf) < int(n) {
		return "", ErrMessageTooShort
	}
	v := string(r.buf[:n])
	r.buf = r.buf[n:]
	return v, nil
}

func (r *reader) pair() (common.OrderPair, error) {
	base, err := r.str()
	if err != nil {
		return common.OrderPair{}, err
	}
	quote, err := r.str()
	if err != nil {
		return common.OrderPair{}, err
	}
	return common.OrderPair{Base: common.AssetID(base), Quote: common.AssetID(quote)}, nil
}

// writer builds an outgoing buffer with the same field encoding.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *writer) str(s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s))
	}
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	r := &reader{buf: msg[2:]}
	switch typeOf {
	case Heartbeat, LogBook:
		user, err := r.str()
		return BaseMessage{TypeOf: typeOf, User: common.AccountID(user)}, err
	case NewOrder:
		return parseNewOrder(r)
	case CancelOrder:
		return parseCancelOrder(r)
	case AddAsset:
		return parseAddAsset(r)
	case AddPair:
		return parseAddPair(r)
	case Mint:
		return parseMint(r)
	case Transfer:
		return parseTransfer(r)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

// NewOrderMessage asks the engine to place a limit order.
// Layout: side(1) amount(8) price(8) base quote user.
type NewOrderMessage struct {
	BaseMessage
	Pair   common.OrderPair
	Side   common.Side
	Amount uint64
	Price  uint64
}

func parseNewOrder(r *reader) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}

	side, err := r.u8()
	if err != nil {
		return m, err
	}
	m.Side = common.Side(side)
	if m.Side != common.Buy && m.Side != common.Sell {
		return m, ErrInvalidMessageType
	}
	if m.Amount, err = r.u64(); err != nil {
		return m, err
	}
	if m.Price, err = r.u64(); err != nil {
		return m, err
	}
	if m.Pair, err = r.pair(); err != nil {
		return m, err
	}
	user, err := r.str()
	m.User = common.AccountID(user)
	return m, err
}

// EncodeNewOrder is the client-side counterpart of parseNewOrder.
func EncodeNewOrder(user common.AccountID, pair common.OrderPair, side common.Side, amount, price uint64) ([]byte, error) {
	w := &writer{}
	w.u16(uint16(NewOrder))
	w.u8(uint8(side))
	w.u64(amount)
	w.u64(price)
	for _, s := range []string{string(pair.Base), string(pair.Quote), string(user)} {
		if err := w.str(s); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

// CancelOrderMessage voids the unfilled remainder of an order.
// Layout: orderID(8) base quote user.
type CancelOrderMessage struct {
	BaseMessage
	Pair    common.OrderPair
	OrderID uint64
}

func parseCancelOrder(r *reader) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}

	var err error
	if m.OrderID, err = r.u64(); err != nil {
		return m, err
	}
	if m.Pair, err = r.pair(); err != nil {
		return m, err
	}
	user, err := r.str()
	m.User = common.AccountID(user)
	return m, err
}

func EncodeCancelOrder(user common.AccountID, pair common.OrderPair, orderID uint64) ([]byte, error) {
	w := &writer{}
	w.u16(uint16(CancelOrder))
	w.u64(orderID)
	for _, s := range []string{string(pair.Base), string(pair.Quote), string(user)} {
		if err := w.str(s); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

// AddAssetMessage registers an asset type with its precision.
// Layout: precision(8) asset user.
type AddAssetMessage struct {
	BaseMessage
	Asset     common.AssetID
	Precision uint64
}

func parseAddAsset(r *reader) (AddAssetMessage, error) {
	m := AddAssetMessage{BaseMessage: BaseMessage{TypeOf: AddAsset}}

	var err error
	if m.Precision, err = r.u64(); err != nil {
		return m, err
	}
	asset, err := r.str()
	if err != nil {
		return m, err
	}
	m.Asset = common.AssetID(asset)
	user, err := r.str()
	m.User = common.AccountID(user)
	return m, err
}

func EncodeAddAsset(user common.AccountID, asset common.AssetID, precision uint64) ([]byte, error) {
	w := &writer{}
	w.u16(uint16(AddAsset))
	w.u64(precision)
	for _, s := range []string{string(asset), string(user)} {
		if err := w.str(s); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

// AddPairMessage registers a tradable pair.
// Layout: base quote user.
type AddPairMessage struct {
	BaseMessage
	Pair common.OrderPair
}

func parseAddPair(r *reader) (AddPairMessage, error) {
	m := AddPairMessage{BaseMessage: BaseMessage{TypeOf: AddPair}}

	var err error
	if m.Pair, err = r.pair(); err != nil {
		return m, err
	}
	user, err := r.str()
	m.User = common.AccountID(user)
	return m, err
}

func EncodeAddPair(user common.AccountID, pair common.OrderPair) ([]byte, error) {
	w := &writer{}
	w.u16(uint16(AddPair))
	for _, s := range []string{string(pair.Base), string(pair.Quote), string(user)} {
		if err := w.str(s); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

// MintMessage credits freshly issued tokens to an account.
// Layout: amount(8) asset dest user.
type MintMessage struct {
	BaseMessage
	Asset  common.AssetID
	Dest   common.AccountID
	Amount uint64
}

func parseMint(r *reader) (MintMessage, error) {
	m := MintMessage{BaseMessage: BaseMessage{TypeOf: Mint}}

	var err error
	if m.Amount, err = r.u64(); err != nil {
		return m, err
	}
	asset, err := r.str()
	if err != nil {
		return m, err
	}
	m.Asset = common.AssetID(asset)
	dest, err := r.str()
	if err != nil {
		return m, err
	}
	m.Dest = common.AccountID(dest)
	user, err := r.str()
	m.User = common.AccountID(user)
	return m, err
}

func EncodeMint(user common.AccountID, asset common.AssetID, dest common.AccountID, amount uint64) ([]byte, error) {
	w := &writer{}
	w.u16(uint16(Mint))
	w.u64(amount)
	for _, s := range []string{string(asset), string(dest), string(user)} {
		if err := w.str(s); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

// TransferMessage moves free balance from the origin to dest.
// Layout: amount(8) asset dest user.
type TransferMessage struct {
	BaseMessage
	Asset  common.AssetID
	Dest   common.AccountID
	Amount uint64
}

func parseTransfer(r *reader) (TransferMessage, error) {
	m := TransferMessage{BaseMessage: BaseMessage{TypeOf: Transfer}}

	var err error
	if m.Amount, err = r.u64(); err != nil {
		return m, err
	}
	asset, err := r.str()
	if err != nil {
		return m, err
	}
	m.Asset = common.AssetID(asset)
	dest, err := r.str()
	if err != nil {
		return m, err
	}
	m.Dest = common.AccountID(dest)
	user, err := r.str()
	m.User = common.AccountID(user)
	return m, err
}

func EncodeTransfer(user common.AccountID, asset common.AssetID, dest common.AccountID, amount uint64) ([]byte, error) {
	w := &writer{}
	w.u16(uint16(Transfer))
	w.u64(amount)
	for _, s := range []string{string(asset), string(dest), string(user)} {
		if err := w.str(s); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

// EncodeLogBook asks the server to dump its book state to its log.
func EncodeLogBook(user common.AccountID) []byte {
	w := &writer{}
	w.u16(uint16(LogBook))
	w.str(string(user))
	return w.buf
}

// Report is the server-to-client frame: an order ack, one side of an
// execution, or an error.
// Layout: type(1) side(1) orderID(8) qty(8) price(8) timestamp(8)
// counterparty err.
type Report struct {
	MessageType  ReportMessageType
	Side         common.Side
	OrderID      uint64
	Quantity     uint64
	Price        uint64
	Timestamp    uint64
	Counterparty common.AccountID
	Err          string
}

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() ([]byte, error) {
	w := &writer{}
	w.u8(uint8(r.MessageType))
	w.u8(uint8(r.Side))
	w.u64(r.OrderID)
	w.u64(r.Quantity)
	w.u64(r.Price)
	w.u64(r.Timestamp)
	if err := w.str(string(r.Counterparty)); err != nil {
		return nil, err
	}
	if err := w.str(r.Err); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// ParseReport is the client-side decoder for Report frames.
func ParseReport(buf []byte) (Report, error) {
	r := &reader{buf: buf}
	var rep Report

	t, err := r.u8()
	if err != nil {
		return rep, err
	}
	rep.MessageType = ReportMessageType(t)
	side, err := r.u8()
	if err != nil {
		return rep, err
	}
	rep.Side = common.Side(side)
	if rep.OrderID, err = r.u64(); err != nil {
		return rep, err
	}
	if rep.Quantity, err = r.u64(); err != nil {
		return rep, err
	}
	if rep.Price, err = r.u64(); err != nil {
		return rep, err
	}
	if rep.Timestamp, err = r.u64(); err != nil {
		return rep, err
	}
	cp, err := r.str()
	if err != nil {
		return rep, err
	}
	rep.Counterparty = common.AccountID(cp)
	rep.Err, err = r.str()
	return rep, err
}

// generateTradeReports builds both execution reports for a fill, each
// addressed to the respective counterparty.
func generateTradeReports(trade common.Trade) ([]byte, []byte, error) {
	now := uint64(time.Now().Unix())

	taker := Report{
		MessageType:  ExecutionReport,
		Side:         trade.TakerSide,
		OrderID:      trade.TakerOrderID,
		Quantity:     trade.Qty,
		Price:        trade.Price,
		Timestamp:    now,
		Counterparty: trade.Maker,
	}
	maker := Report{
		MessageType:  ExecutionReport,
		Side:         trade.TakerSide.Opposite(),
		OrderID:      trade.MakerOrderID,
		Quantity:     trade.Qty,
		Price:        trade.Price,
		Timestamp:    now,
		Counterparty: trade.Taker,
	}

	takerBuf, err := taker.Serialize()
	if err != nil {
		return nil, nil, err
	}
	makerBuf, err := maker.Serialize()
	if err != nil {
		return nil, nil, err
	}
	return takerBuf, makerBuf, nil
}

func generateAckReport(orderID uint64) ([]byte, error) {
	report := Report{
		MessageType: OrderAck,
		OrderID:     orderID,
		Timestamp:   uint64(time.Now().Unix()),
	}
	return report.Serialize()
}

func generateErrorReport(err error) ([]byte, error) {
	report := Report{
		MessageType: ErrorReport,
		Timestamp:   uint64(time.Now().Unix()),
		Err:         err.Error(),
	}
	return report.Serialize()
}
