package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionRecord struct {
	TransactionID    string          `json:"transaction_id"`
	PayerID          string          `json:"payer_id"`
	PayeeID          string          `json:"payee_id"`
	Amount           decimal.Decimal `json:"amount"`
	Timestamp        time.Time       `json:"timestamp"`
	PayerInstitution string          `json:"payer_institution"`
	PayeeInstitution string          `json:"payee_institution"`
}

// CrossInstitution reports whether the record has to be posted on two ledgers.
func (r TransactionRecord) CrossInstitution() bool {
	return r.PayerInstitution != r.PayeeInstitution
}

type Receipt struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	PayerBalance  decimal.Decimal `json:"payer_balance"`
	PayeeBalance  decimal.Decimal `json:"payee_balance"`
}

// HistoryEntry is a record as seen from one institution's ledger.
type HistoryEntry struct {
	TransactionRecord
	Institution string `json:"institution"`
}

type HistoryFilter struct {
	Institution string
	PayerID     string
	PayeeID     string
}
