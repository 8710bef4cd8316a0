package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RolePayer    Role = "payer"
	RoleMerchant Role = "merchant"
)

// Account is either a payer (user) or a merchant. Payers additionally carry a PIN hash,
// a contact handle and the linking token derived from it.
type Account struct {
	ID            string          `json:"id"`
	Role          Role            `json:"role"`
	Name          string          `json:"name"`
	RoutingCode   string          `json:"routing_code"`
	SecretHash    []byte          `json:"secret_hash"`
	PINHash       []byte          `json:"pin_hash,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	Institution   string          `json:"institution"`
	ContactHandle string          `json:"contact_handle,omitempty"`
	LinkingToken  string          `json:"linking_token,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Registration holds the caller supplied fields of a new account. PIN and ContactHandle
// are only used for payers.
type Registration struct {
	Name           string
	RoutingCode    string
	Secret         string
	InitialBalance decimal.Decimal
	PIN            string
	ContactHandle  string
}
