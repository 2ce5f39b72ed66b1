package models

import "time"

// ==============================================
// TRANSACTION MODEL
// ==============================================

// TransactionRecord is one entry in a replica's ledger. Records are never
// deleted; the ledger doubles as the idempotency table.
type TransactionRecord struct {
	TransactionID string    `json:"transaction_id" msgpack:"transaction_id"`
	AccountID     string    `json:"account_id" msgpack:"account_id"`
	Amount        float64   `json:"amount" msgpack:"amount"`
	Kind          string    `json:"kind" msgpack:"kind"`     // 'DEPOSIT', 'WITHDRAW'
	Status        string    `json:"status" msgpack:"status"` // 'PENDING', 'COMMITTED', 'ROLLED_BACK'
	Success       bool      `json:"success" msgpack:"success"`
	NewBalance    float64   `json:"new_balance" msgpack:"new_balance"`
	Message       string    `json:"message" msgpack:"message"`
	CreatedAt     time.Time `json:"created_at" msgpack:"created_at"`
}

// IsPending checks if the record is still in flight
func (t *TransactionRecord) IsPending() bool {
	return t.Status == StatusPending
}

// IsCommitted checks if the record reached a decided outcome
func (t *TransactionRecord) IsCommitted() bool {
	return t.Status == StatusCommitted
}

// IsRolledBack checks if the record was discarded by recovery
func (t *TransactionRecord) IsRolledBack() bool {
	return t.Status == StatusRolledBack
}

// Applied reports whether this record moved a balance.
func (t *TransactionRecord) Applied() bool {
	return t.Status == StatusCommitted && t.Success
}

// ==============================================
// TRANSACTION CONSTANTS
// ==============================================

// Transaction Kinds
const (
	KindDeposit  = "DEPOSIT"
	KindWithdraw = "WITHDRAW"
)

// Transaction Statuses
const (
	StatusPending    = "PENDING"
	StatusCommitted  = "COMMITTED"
	StatusRolledBack = "ROLLED_BACK"
)
