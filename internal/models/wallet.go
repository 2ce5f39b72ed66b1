package models

// ==============================================
// WALLET REQUEST DTOs
// ==============================================

// TransactionRequest for deposits and withdrawals
type TransactionRequest struct {
	AccountID     string  `json:"account_id" binding:"required"`
	Amount        float64 `json:"amount" binding:"required,gt=0"`
	TransactionID string  `json:"transaction_id" binding:"required"`
}

// BalanceRequest for balance queries
type BalanceRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

// ==============================================
// WALLET RESPONSE DTOs
// ==============================================

// TransactionResponse returned after deposit/withdraw operations
type TransactionResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	NewBalance    float64 `json:"new_balance"`
	TransactionID string  `json:"transaction_id"`
}

// BalanceResponse for balance queries
type BalanceResponse struct {
	Success bool    `json:"success"`
	Balance float64 `json:"balance"`
	Message string  `json:"message"`
}
