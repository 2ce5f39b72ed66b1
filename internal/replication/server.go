package replication

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"ftwallet/internal/models"
)

// WalletEngine is the slice of the engine the server drives.
type WalletEngine interface {
	Apply(kind, accountID string, amount float64, transactionID string) (*models.TransactionRecord, error)
	GetBalance(accountID string) float64
}

// Server answers replication RPCs against the local engine. The backup's
// engine is driven exclusively through this; the primary runs one too on its
// own RPC port as a failover ingress.
type Server struct {
	engine WalletEngine
	logger *zap.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(engine WalletEngine, logger *zap.Logger) *Server {
	return &Server{engine: engine, logger: logger}
}

// Listen binds the RPC port. Split from Serve so callers can fail fast on a
// bind error before daemonizing the accept loop.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind rpc %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("replication server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address; useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve runs the accept loop until Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("replication server: Serve before Listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting and waits for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				s.logger.Warn("replication read failed",
					zap.String("remote", conn.RemoteAddr().String()),
					zap.Error(err))
			}
			return
		}

		resp := s.dispatch(&req)
		if err := writeFrame(conn, resp); err != nil {
			s.logger.Warn("replication write failed",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(req *Request) *Response {
	switch req.Op {
	case OpPing:
		return &Response{OK: true}

	case OpBalance:
		return &Response{OK: true, Balance: s.engine.GetBalance(req.AccountID)}

	case OpApply:
		rec, err := s.engine.Apply(req.Kind, req.AccountID, req.Amount, req.TransactionID)
		if err != nil {
			s.logger.Error("apply failed",
				zap.String("transaction_id", req.TransactionID),
				zap.Error(err))
			return &Response{OK: false, Message: err.Error()}
		}
		s.logger.Info("applied replicated transaction",
			zap.String("kind", req.Kind),
			zap.String("transaction_id", rec.TransactionID),
			zap.Bool("success", rec.Success))
		return &Response{
			OK:            true,
			Success:       rec.Success,
			NewBalance:    rec.NewBalance,
			Message:       rec.Message,
			TransactionID: rec.TransactionID,
		}

	default:
		return &Response{OK: false, Message: fmt.Sprintf("unknown op %q", req.Op)}
	}
}
