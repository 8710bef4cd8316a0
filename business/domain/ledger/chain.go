// Package ledger implements the per-institution append-only hash chain.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/paynet/bank-gateway/entities"
)

type AppendResult struct {
	Hash  string
	Index uint64
}

// Chain is the ledger of one institution. Blocks are never edited or removed once appended;
// Append is the only mutation.
type Chain struct {
	institution string
	now         func() time.Time

	mu     sync.RWMutex
	blocks []Block
}

func New(institution string, now func() time.Time) *Chain {
	if now == nil {
		now = time.Now
	}
	c := &Chain{institution: institution, now: now}
	c.blocks = []Block{newBlock(0, now(), Payload{
		TransactionID: GenesisTransactionID,
		Institution:   institution,
		Message:       fmt.Sprintf("Genesis Block for %s Bank Blockchain", institution),
	}, GenesisPreviousHash)}
	return c
}

// Restore rebuilds a chain from persisted blocks. Stored hashes are trusted as they are:
// callers must run Verify afterwards to detect tampering that happened at rest.
func Restore(institution string, blocks []Block, now func() time.Time) (*Chain, error) {
	if len(blocks) == 0 {
		return nil, entities.Validationf("ledger [%s] has no blocks to restore", institution)
	}
	if now == nil {
		now = time.Now
	}
	restored := make([]Block, len(blocks))
	copy(restored, blocks)
	return &Chain{institution: institution, now: now, blocks: restored}, nil
}

func (c *Chain) Institution() string {
	return c.institution
}

func (c *Chain) Append(record entities.TransactionRecord) (AppendResult, error) {
	if err := validateRecord(record); err != nil {
		return AppendResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tail := c.blocks[len(c.blocks)-1]
	b := newBlock(uint64(len(c.blocks)), c.now(), PayloadFromRecord(record), tail.Hash)
	c.blocks = append(c.blocks, b)

	return AppendResult{Hash: b.Hash, Index: b.Index}, nil
}

func validateRecord(r entities.TransactionRecord) error {
	switch {
	case r.TransactionID == "":
		return entities.Validationf("missing required field: transaction_id")
	case r.PayerID == "":
		return entities.Validationf("missing required field: payer_id")
	case r.PayeeID == "":
		return entities.Validationf("missing required field: payee_id")
	case !r.Amount.IsPositive():
		return entities.Validationf("missing required field: amount")
	case r.Timestamp.IsZero():
		return entities.Validationf("missing required field: timestamp")
	}
	return nil
}

// Verify walks the chain front to back, genesis block included, and returns an
// *entities.IntegrityError for the first block whose stored hash or previous hash link does not match.
func (c *Chain) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.blocks {
		current := &c.blocks[i]
		if current.Index != uint64(i) {
			return &entities.IntegrityError{Institution: c.institution, Index: uint64(i), Reason: fmt.Sprintf("stored index [%d] out of sequence", current.Index)}
		}
		if current.Hash != current.CalculateHash() {
			return &entities.IntegrityError{Institution: c.institution, Index: uint64(i), Reason: "block hash mismatch"}
		}
		if i == 0 {
			if current.PreviousHash != GenesisPreviousHash {
				return &entities.IntegrityError{Institution: c.institution, Index: 0, Reason: "genesis block has a predecessor"}
			}
			continue
		}
		if current.PreviousHash != c.blocks[i-1].Hash {
			return &entities.IntegrityError{Institution: c.institution, Index: uint64(i), Reason: "previous hash does not link to predecessor"}
		}
	}
	return nil
}

func (c *Chain) Valid() bool {
	return c.Verify() == nil
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

func (c *Chain) Tail() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Blocks returns a copy of the chain including the genesis block.
func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	blocks := make([]Block, len(c.blocks))
	copy(blocks, c.blocks)
	return blocks
}

func (c *Chain) TransactionsByPayer(payerID string) []entities.TransactionRecord {
	return c.filter(func(p Payload) bool { return p.PayerID == payerID })
}

func (c *Chain) TransactionsByPayee(payeeID string) []entities.TransactionRecord {
	return c.filter(func(p Payload) bool { return p.PayeeID == payeeID })
}

func (c *Chain) Transactions() []entities.TransactionRecord {
	return c.filter(func(Payload) bool { return true })
}

// filter skips the genesis block and keeps insertion order.
func (c *Chain) filter(match func(Payload) bool) []entities.TransactionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]entities.TransactionRecord, 0)
	for _, b := range c.blocks[1:] {
		if match(b.Payload) {
			records = append(records, b.Payload.Record())
		}
	}
	return records
}
