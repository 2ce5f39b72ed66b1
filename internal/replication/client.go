package replication

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// ErrUnreachable marks a transport-level replication failure: dial error,
// timeout, reset. Only this error feeds the failover manager; a reply that
// carries success=false is still a successful round-trip.
var ErrUnreachable = errors.New("backup unreachable")

// Result is the remote engine's answer to an apply call.
type Result struct {
	Success    bool
	NewBalance float64
	Message    string
}

// Client is the primary's stub for the backup's replication server. Each
// call dials a fresh connection with a bounded deadline, so a wedged backup
// can never hold the orchestrator past the timeout.
type Client struct {
	addr             string
	replicateTimeout time.Duration
	pingTimeout      time.Duration
	logger           *zap.Logger
}

func NewClient(addr string, replicateTimeout, pingTimeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		addr:             addr,
		replicateTimeout: replicateTimeout,
		pingTimeout:      pingTimeout,
		logger:           logger,
	}
}

// Apply forwards one transaction to the backup and returns its engine
// record. Transport failures come back wrapped in ErrUnreachable.
func (c *Client) Apply(ctx context.Context, kind, accountID string, amount float64, transactionID string) (*Result, error) {
	resp, err := c.call(ctx, c.replicateTimeout, &Request{
		Op:            OpApply,
		Kind:          kind,
		AccountID:     accountID,
		Amount:        amount,
		TransactionID: transactionID,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		// The backup answered but its engine refused the transaction.
		return nil, fmt.Errorf("backup rejected transaction %s: %s", transactionID, resp.Message)
	}
	return &Result{
		Success:    resp.Success,
		NewBalance: resp.NewBalance,
		Message:    resp.Message,
	}, nil
}

// Ping probes backup liveness with the shorter timeout.
func (c *Client) Ping(ctx context.Context) bool {
	resp, err := c.call(ctx, c.pingTimeout, &Request{Op: OpPing})
	return err == nil && resp.OK
}

// Balance reads an account balance from the remote engine. The orchestrator
// never uses this (reads are local); it exists for operator tooling and for
// exercising the full RPC surface in tests.
func (c *Client) Balance(ctx context.Context, accountID string) (float64, error) {
	resp, err := c.call(ctx, c.pingTimeout, &Request{Op: OpBalance, AccountID: accountID})
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *Client) call(ctx context.Context, timeout time.Duration, req *Request) (*Response, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if err := writeFrame(conn, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var resp Response
	if err := readFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return &resp, nil
}
