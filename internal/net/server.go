package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"vidar/internal/common"
	"vidar/internal/ledger"
	"vidar/internal/metrics"
	"vidar/internal/utils"
)

const (
	MAX_RECV_SIZE   = 4 * 1024
	defaultNWorkers = 10
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an
// individual connected TCP session.
type ClientSession struct {
	id   string // session uuid, logging only
	conn net.Conn
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	clientAddress string
	message       Message
}

// Engine is the surface of the matching engine the server drives.
type Engine interface {
	Submit(who common.AccountID, pair common.OrderPair, side common.Side, amount, price uint64) (uint64, error)
	Cancel(who common.AccountID, pair common.OrderPair, orderID uint64) error
	AddOrderPair(pair common.OrderPair) error
	Ledger() *ledger.Ledger
	LogBook()
}

type Server struct {
	address        string
	port           int
	engine         Engine
	pool           utils.WorkerPool
	cancel         context.CancelFunc
	clientSessions map[string]ClientSession
	// accounts maps an account name to the address of the session it
	// last spoke from, so execution reports can find their way back
	accounts     map[common.AccountID]string
	sessionsLock sync.Mutex

	clientMessages chan (ClientMessage)
}

func New(address string, port int, engine Engine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         engine,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]ClientSession),
		accounts:       make(map[common.AccountID]string),
		clientMessages: make(chan ClientMessage, 1),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	// Start the worker pool.
	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	// Start accepting connections.
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			session := s.addClientSession(conn)
			log.Info().
				Str("session", session.id).
				Str("address", conn.RemoteAddr().String()).
				Msg("new client added")

			// Pass over the connection to be read from.
			s.pool.AddTask(conn)
		}
	}
}

// NewOrder acknowledges an accepted submission back to its owner. Part
// of the engine.Reporter contract.
func (s *Server) NewOrder(who common.AccountID, orderID uint64) {
	report, err := generateAckReport(orderID)
	if err != nil {
		log.Error().Err(err).Uint64("order", orderID).Msg("unable to build ack report")
		return
	}
	if err := s.sendToAccount(who, report); err != nil {
		log.Debug().Err(err).Str("who", string(who)).Msg("order ack not delivered")
	}
}

// Fill pushes both sides of an execution to their owners. Part of the
// engine.Reporter contract.
func (s *Server) Fill(trade common.Trade) {
	metrics.Trades.Inc()
	metrics.TradeVolume.Add(float64(trade.Qty))

	takerReport, makerReport, err := generateTradeReports(trade)
	if err != nil {
		log.Error().Err(err).Msg("unable to build trade reports")
		return
	}
	if err := s.sendToAccount(trade.Taker, takerReport); err != nil {
		log.Debug().Err(err).Str("who", string(trade.Taker)).Msg("taker report not delivered")
	}
	if err := s.sendToAccount(trade.Maker, makerReport); err != nil {
		log.Debug().Err(err).Str("who", string(trade.Maker)).Msg("maker report not delivered")
	}
}

func (s *Server) sendToAccount(who common.AccountID, report []byte) error {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	address, ok := s.accounts[who]
	if !ok {
		return ErrClientDoesNotExist
	}
	client, ok := s.clientSessions[address]
	if !ok {
		return ErrClientDoesNotExist
	}
	if _, err := client.conn.Write(report); err != nil {
		delete(s.clientSessions, address)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

func (s *Server) ReportError(clientAddress string, sendErr error) error {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	report, err := generateErrorReport(sendErr)
	if err != nil {
		return err
	}

	client, ok := s.clientSessions[clientAddress]
	if !ok {
		return ErrClientDoesNotExist
	}

	if _, err := client.conn.Write(report); err != nil {
		delete(s.clientSessions, clientAddress)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// sessionHandler reads off incoming messages from clients and handles
// high-level session logic. Messages are received from the pool of
// workers, so the engine only ever sees one message at a time.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			if err := s.handleMessage(message); err != nil {
				log.Error().
					Err(err).
					Str("clientAddress", message.clientAddress).
					Msg("error handling message")
				// Log the error back to the client
				s.ReportError(message.clientAddress, err)
			}
		}
	}
}

func (s *Server) handleMessage(message ClientMessage) error {
	s.bindAccount(message.message.Origin(), message.clientAddress)

	switch m := message.message.(type) {
	case NewOrderMessage:
		metrics.OrdersSubmitted.Inc()
		if _, err := s.engine.Submit(m.Origin(), m.Pair, m.Side, m.Amount, m.Price); err != nil {
			metrics.OrdersRejected.Inc()
			return err
		}
	case CancelOrderMessage:
		if err := s.engine.Cancel(m.Origin(), m.Pair, m.OrderID); err != nil {
			return err
		}
		metrics.OrdersCanceled.Inc()
	case AddAssetMessage:
		s.engine.Ledger().AddAssetType(m.Asset, m.Precision)
	case AddPairMessage:
		if err := s.engine.AddOrderPair(m.Pair); err != nil {
			return err
		}
	case MintMessage:
		if err := s.engine.Ledger().Mint(m.Dest, m.Asset, m.Amount); err != nil {
			return err
		}
	case TransferMessage:
		if err := s.engine.Ledger().Transfer(m.Origin(), m.Dest, m.Asset, m.Amount); err != nil {
			return err
		}
	case BaseMessage:
		switch m.TypeOf {
		case LogBook:
			s.engine.LogBook()
		case Heartbeat:
		default:
			return ErrInvalidMessageType
		}
	default:
		log.Error().
			Int("messageType", int(message.message.GetType())).
			Msg("invalid message type")
		return ErrInvalidMessageType
	}
	return nil
}

// handleConnection is a short-lived worker method which reads the next
// message off the connection, parses and passes it forward to
// sessionHandler to handle it. If the connection dies, the client
// session is cleaned up. Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	buffer := make([]byte, MAX_RECV_SIZE)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			log.Info().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("client disconnected")
			s.deleteClientSession(conn.RemoteAddr().String())
			conn.Close()
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("error parsing message")
			s.ReportError(conn.RemoteAddr().String(), err)
		} else {
			// Pass over to the message handling buffer.
			s.clientMessages <- ClientMessage{
				message:       message,
				clientAddress: conn.RemoteAddr().String(),
			}
		}

		// Push the client connection back to handle the next message.
		s.pool.AddTask(conn)
	}
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) ClientSession {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	session := ClientSession{
		id:   uuid.New().String(),
		conn: conn,
	}
	s.clientSessions[conn.RemoteAddr().String()] = session
	return session
}

// bindAccount remembers which session an account last spoke from.
func (s *Server) bindAccount(who common.AccountID, address string) {
	if who == "" {
		return
	}
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.accounts[who] = address
}

// deleteClientSession is an atomic map remove
func (s *Server) deleteClientSession(address string) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	delete(s.clientSessions, address)
}
