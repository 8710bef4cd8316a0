package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/paynet/bank-gateway/entities"
	"github.com/shopspring/decimal"
)

const (
	GenesisTransactionID = "genesis"
	GenesisPreviousHash  = "0"
)

// Payload is the transaction data carried by a block. Transaction blocks fill the record
// fields; the genesis block only carries the transaction id, the institution and a message.
// Its JSON encoding is the canonical form used for hashing, field order is fixed.
type Payload struct {
	TransactionID    string          `json:"transaction_id"`
	PayerID          string          `json:"payer_id,omitempty"`
	PayeeID          string          `json:"payee_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Timestamp        time.Time       `json:"timestamp"`
	PayerInstitution string          `json:"payer_institution,omitempty"`
	PayeeInstitution string          `json:"payee_institution,omitempty"`
	Institution      string          `json:"institution,omitempty"`
	Message          string          `json:"message,omitempty"`
}

func PayloadFromRecord(r entities.TransactionRecord) Payload {
	return Payload{
		TransactionID:    r.TransactionID,
		PayerID:          r.PayerID,
		PayeeID:          r.PayeeID,
		Amount:           r.Amount,
		Timestamp:        r.Timestamp,
		PayerInstitution: r.PayerInstitution,
		PayeeInstitution: r.PayeeInstitution,
	}
}

func (p Payload) Record() entities.TransactionRecord {
	return entities.TransactionRecord{
		TransactionID:    p.TransactionID,
		PayerID:          p.PayerID,
		PayeeID:          p.PayeeID,
		Amount:           p.Amount,
		Timestamp:        p.Timestamp,
		PayerInstitution: p.PayerInstitution,
		PayeeInstitution: p.PayeeInstitution,
	}
}

type Block struct {
	Index        uint64    `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Payload      Payload   `json:"transaction_data"`
	PreviousHash string    `json:"previous_hash"`
	Hash         string    `json:"hash"`
}

type hashedFields struct {
	Index        uint64    `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Payload      Payload   `json:"transaction_data"`
	PreviousHash string    `json:"previous_hash"`
}

// CalculateHash digests every field of the block except the stored hash.
func (b *Block) CalculateHash() string {
	data, err := json.Marshal(hashedFields{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		Payload:      b.Payload,
		PreviousHash: b.PreviousHash,
	})
	if err != nil {
		// all fields are plain values, marshalling cannot fail
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newBlock(index uint64, ts time.Time, payload Payload, previousHash string) Block {
	b := Block{
		Index:        index,
		Timestamp:    ts.UTC(),
		Payload:      payload,
		PreviousHash: previousHash,
	}
	b.Hash = b.CalculateHash()
	return b
}
