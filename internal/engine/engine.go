package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"ftwallet/internal/models"
	"ftwallet/internal/wal"
)

// ==============================================
// ENGINE ERRORS
// ==============================================

var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrMissingAccountID     = errors.New("account id is required")
	ErrMissingTransactionID = errors.New("transaction id is required")
	ErrNotRecovered         = errors.New("engine has not completed recovery")
	ErrDurability           = errors.New("durability failure")
)

// MsgInsufficientBalance is the committed-failure reason for an over-drawn
// withdrawal. Both replicas must record the exact same string.
const MsgInsufficientBalance = "insufficient balance"

// ==============================================
// ENGINE
// ==============================================

// Engine owns one replica's balance table and transaction ledger. Every
// mutation follows the same discipline: append a PENDING record (fsync),
// move the balance, append a COMMITTED record (fsync). Recovery rolls back
// any PENDING record whose commit never landed.
//
// All operations are serialized under a single lock, so per-engine ordering
// is linearizable.
type Engine struct {
	mu       sync.Mutex
	balances map[string]float64
	records  map[string]*models.TransactionRecord
	ledger   *wal.Ledger
	snapshot *wal.Snapshot
	logger   *zap.Logger

	recovered bool
}

// New opens the engine's state files under stateDir. The prefix keeps the
// primary's and backup's files apart so both roles can share a directory
// during testing. Recover must be called before any mutation.
func New(stateDir, prefix string, logger *zap.Logger) (*Engine, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}

	ledger, err := wal.OpenLedger(filepath.Join(stateDir, prefix+"_ledger.log"))
	if err != nil {
		return nil, err
	}

	return &Engine{
		balances: map[string]float64{},
		records:  map[string]*models.TransactionRecord{},
		ledger:   ledger,
		snapshot: wal.NewSnapshot(filepath.Join(stateDir, prefix+"_balances.json")),
		logger:   logger,
	}, nil
}

// Close flushes a final snapshot and releases the ledger file.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.recovered {
		if err := e.snapshot.Write(e.balances); err != nil {
			e.logger.Warn("final snapshot write failed", zap.Error(err))
		}
	}
	return e.ledger.Close()
}

// ==============================================
// RECOVERY
// ==============================================

// Recover rebuilds balances from the ledger and rolls back any transaction
// left PENDING by a crash. The balance effect of a PENDING record was either
// never applied or never committed, so discarding it fabricates no money;
// the client retries with a fresh transaction id.
func (e *Engine) Recover() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var replayed int
	balances := map[string]float64{}
	records := map[string]*models.TransactionRecord{}

	err := wal.Replay(e.ledger.Path(), func(rec *models.TransactionRecord) error {
		replayed++
		records[rec.TransactionID] = rec
		if rec.Applied() {
			switch rec.Kind {
			case models.KindDeposit:
				balances[rec.AccountID] += rec.Amount
			case models.KindWithdraw:
				balances[rec.AccountID] -= rec.Amount
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger replay: %w", err)
	}

	var rolledBack int
	for id, rec := range records {
		if !rec.IsPending() {
			continue
		}
		rb := *rec
		rb.Status = models.StatusRolledBack
		rb.Success = false
		rb.Message = "rolled back during recovery"
		if err := e.ledger.Append(&rb); err != nil {
			return fmt.Errorf("persist rollback for %s: %w", id, err)
		}
		records[id] = &rb
		rolledBack++
	}

	e.balances = balances
	e.records = records
	e.recovered = true

	if err := e.snapshot.Write(e.balances); err != nil {
		e.logger.Warn("snapshot rewrite after recovery failed", zap.Error(err))
	}

	e.logger.Info("recovery complete",
		zap.Int("records", replayed),
		zap.Int("rolled_back", rolledBack),
		zap.Int("accounts", len(e.balances)))
	return nil
}

// ==============================================
// OPERATIONS
// ==============================================

// Deposit credits amount to the account, exactly once per transaction id.
// A known transaction id returns the original record untouched.
func (e *Engine) Deposit(accountID string, amount float64, transactionID string) (*models.TransactionRecord, error) {
	return e.apply(models.KindDeposit, accountID, amount, transactionID)
}

// Withdraw debits amount from the account, exactly once per transaction id.
// Overdrawing commits a success=false record and leaves the balance alone;
// an unknown account behaves as balance 0.
func (e *Engine) Withdraw(accountID string, amount float64, transactionID string) (*models.TransactionRecord, error) {
	return e.apply(models.KindWithdraw, accountID, amount, transactionID)
}

// Apply dispatches on the transaction kind. The replication server drives
// the backup engine through this.
func (e *Engine) Apply(kind, accountID string, amount float64, transactionID string) (*models.TransactionRecord, error) {
	switch kind {
	case models.KindDeposit:
		return e.Deposit(accountID, amount, transactionID)
	case models.KindWithdraw:
		return e.Withdraw(accountID, amount, transactionID)
	default:
		return nil, fmt.Errorf("unknown transaction kind %q", kind)
	}
}

// GetBalance is a pure read; unknown accounts report 0.
func (e *Engine) GetBalance(accountID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[accountID]
}

func (e *Engine) apply(kind, accountID string, amount float64, transactionID string) (*models.TransactionRecord, error) {
	if accountID == "" {
		return nil, ErrMissingAccountID
	}
	if transactionID == "" {
		return nil, ErrMissingTransactionID
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.recovered {
		return nil, ErrNotRecovered
	}

	// Idempotent replay: whatever was decided the first time is the answer,
	// including rolled-back records from a past recovery.
	if rec, ok := e.records[transactionID]; ok {
		e.logger.Info("idempotent replay",
			zap.String("transaction_id", transactionID),
			zap.String("status", rec.Status))
		return rec, nil
	}

	pending := &models.TransactionRecord{
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Kind:          kind,
		Status:        models.StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.ledger.Append(pending); err != nil {
		// Nothing reached the ledger; the operation simply never happened.
		return nil, fmt.Errorf("%w: %v", ErrDurability, err)
	}

	// Balance change first, commit after; recovery relies on this order.
	committed := *pending
	committed.Status = models.StatusCommitted

	prev := e.balances[accountID]
	switch {
	case kind == models.KindWithdraw && prev < amount:
		committed.Success = false
		committed.Message = MsgInsufficientBalance
		committed.NewBalance = prev
	case kind == models.KindWithdraw:
		e.balances[accountID] = prev - amount
		committed.Success = true
		committed.Message = fmt.Sprintf("withdrew %.2f", amount)
		committed.NewBalance = prev - amount
	default:
		e.balances[accountID] = prev + amount
		committed.Success = true
		committed.Message = fmt.Sprintf("deposited %.2f", amount)
		committed.NewBalance = prev + amount
	}

	if err := e.ledger.Append(&committed); err != nil {
		// The PENDING record is on disk and a restart will roll it back.
		// Undo the balance move and mirror the rollback in memory so retries
		// on this id replay it instead of appending a second PENDING.
		e.balances[accountID] = prev
		rb := *pending
		rb.Status = models.StatusRolledBack
		rb.Message = "rolled back: commit not durable"
		e.records[transactionID] = &rb
		e.logger.Error("commit append failed",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDurability, err)
	}

	e.records[transactionID] = &committed

	if err := e.snapshot.Write(e.balances); err != nil {
		// The snapshot may lag; the ledger already has the commit.
		e.logger.Warn("snapshot write failed", zap.Error(err))
	}

	return &committed, nil
}
