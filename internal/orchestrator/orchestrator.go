package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ftwallet/internal/models"
	"ftwallet/internal/replication"
)

// ==============================================
// COLLABORATOR INTERFACES (for testing)
// ==============================================

// Engine is the slice of the wallet engine the orchestrator drives.
type Engine interface {
	Deposit(accountID string, amount float64, transactionID string) (*models.TransactionRecord, error)
	Withdraw(accountID string, amount float64, transactionID string) (*models.TransactionRecord, error)
	GetBalance(accountID string) float64
}

// Replicator forwards a transaction to the backup.
type Replicator interface {
	Apply(ctx context.Context, kind, accountID string, amount float64, transactionID string) (*replication.Result, error)
}

// FailoverState is the mode flag the orchestrator consults and demotes.
type FailoverState interface {
	FailoverActive() bool
	Demote()
}

// ==============================================
// ORCHESTRATOR
// ==============================================

// Orchestrator runs the sync-first protocol: replicate to the backup,
// then apply locally, then compare the two results. It holds a per-account
// lock across the whole round so operations on one account are persisted in
// the same order on both replicas.
type Orchestrator struct {
	engine   Engine
	backup   Replicator
	failover FailoverState
	logger   *zap.Logger

	accounts accountLocks
	alarm    atomic.Bool
}

func New(engine Engine, backup Replicator, failover FailoverState, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		engine:   engine,
		backup:   backup,
		failover: failover,
		logger:   logger,
	}
}

// Deposit replicates and applies a credit.
func (o *Orchestrator) Deposit(ctx context.Context, req models.TransactionRequest) (*models.TransactionRecord, error) {
	return o.execute(ctx, models.KindDeposit, req)
}

// Withdraw replicates and applies a debit.
func (o *Orchestrator) Withdraw(ctx context.Context, req models.TransactionRequest) (*models.TransactionRecord, error) {
	return o.execute(ctx, models.KindWithdraw, req)
}

// GetBalance bypasses replication; reads are answered by the primary engine.
func (o *Orchestrator) GetBalance(accountID string) float64 {
	return o.engine.GetBalance(accountID)
}

// Mode reports the replication mode for the readiness surface.
func (o *Orchestrator) Mode() string {
	if o.failover.FailoverActive() {
		return "failover"
	}
	return "normal"
}

// DivergenceAlarm reports whether primary and backup have ever disagreed on
// a result during normal mode. Once tripped it stays tripped; this is an
// invariant violation, not a recoverable condition.
func (o *Orchestrator) DivergenceAlarm() bool {
	return o.alarm.Load()
}

func (o *Orchestrator) execute(ctx context.Context, kind string, req models.TransactionRequest) (*models.TransactionRecord, error) {
	// One lock per account, held across replicate + local apply, gives the
	// backup and the primary the same per-account persistence order. The
	// engine lock itself is never held across the RPC.
	unlock := o.accounts.lock(req.AccountID)
	defer unlock()

	reqID := uuid.NewString()
	log := o.logger.With(
		zap.String("request_id", reqID),
		zap.String("kind", kind),
		zap.String("transaction_id", req.TransactionID),
		zap.String("account_id", req.AccountID))

	var backupResult *replication.Result
	if !o.failover.FailoverActive() {
		res, err := o.backup.Apply(ctx, kind, req.AccountID, req.Amount, req.TransactionID)
		switch {
		case err == nil:
			// A logical reply, even success=false, is a completed
			// round-trip; both replicas record the same outcome.
			backupResult = res
		case errors.Is(err, replication.ErrUnreachable):
			// Only transport failures feed the failover manager. Demote
			// now rather than waiting out the next health probe.
			log.Warn("backup unreachable, continuing locally", zap.Error(err))
			o.failover.Demote()
		default:
			// The backup answered but refused the transaction its engine
			// was given. The primary will still apply it, so the ledgers
			// are about to disagree.
			o.alarm.Store(true)
			log.Error("backup rejected transaction", zap.Error(err))
		}
	}

	var rec *models.TransactionRecord
	var err error
	switch kind {
	case models.KindWithdraw:
		rec, err = o.engine.Withdraw(req.AccountID, req.Amount, req.TransactionID)
	default:
		rec, err = o.engine.Deposit(req.AccountID, req.Amount, req.TransactionID)
	}
	if err != nil {
		log.Error("local apply failed", zap.Error(err))
		return nil, err
	}

	if backupResult != nil {
		o.compare(log, rec, backupResult)
	}

	log.Info("transaction decided",
		zap.Bool("success", rec.Success),
		zap.Float64("new_balance", rec.NewBalance),
		zap.Bool("replicated", backupResult != nil))
	return rec, nil
}

// compare checks the primary's record against the backup's. Disagreement in
// normal mode is a fatal invariant violation: log both results, trip the
// alarm, and still return the primary's record to the client.
func (o *Orchestrator) compare(log *zap.Logger, rec *models.TransactionRecord, backup *replication.Result) {
	if rec.Success == backup.Success && (!rec.Success || rec.NewBalance == backup.NewBalance) {
		return
	}
	o.alarm.Store(true)
	log.Error("replication divergence: primary and backup disagree",
		zap.Bool("primary_success", rec.Success),
		zap.Float64("primary_new_balance", rec.NewBalance),
		zap.Bool("backup_success", backup.Success),
		zap.Float64("backup_new_balance", backup.NewBalance),
		zap.String("backup_message", backup.Message))
}

// ==============================================
// PER-ACCOUNT LOCKS
// ==============================================

// accountLocks hands out one mutex per account id. Locks are never removed;
// the set of live accounts is small and never shrinks, same as the ledger.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (a *accountLocks) lock(accountID string) (unlock func()) {
	a.mu.Lock()
	if a.locks == nil {
		a.locks = make(map[string]*sync.Mutex)
	}
	l, ok := a.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[accountID] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
