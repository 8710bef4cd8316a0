package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paynet/bank-gateway/entities"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2025, 4, 14, 6, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func testRecord(n int) entities.TransactionRecord {
	return entities.TransactionRecord{
		TransactionID:    fmt.Sprintf("tx-%03d", n),
		PayerID:          fmt.Sprintf("payer-%d", n%3),
		PayeeID:          fmt.Sprintf("payee-%d", n%2),
		Amount:           decimal.NewFromInt(int64(100 + n)),
		Timestamp:        time.Date(2025, 4, 14, 6, 0, n, 0, time.UTC),
		PayerInstitution: "HDFC",
		PayeeInstitution: "HDFC",
	}
}

func chainWithRecords(t *testing.T, n int) *Chain {
	chain := New("HDFC", fixedClock())
	for i := 1; i <= n; i++ {
		_, err := chain.Append(testRecord(i))
		require.NoError(t, err)
	}
	return chain
}

func TestChain_New_createsGenesisBlock(t *testing.T) {
	chain := New("SBI", fixedClock())

	require.Equal(t, 1, chain.Len())
	genesis := chain.Tail()
	assert.Equal(t, uint64(0), genesis.Index)
	assert.Equal(t, GenesisPreviousHash, genesis.PreviousHash)
	assert.Equal(t, GenesisTransactionID, genesis.Payload.TransactionID)
	assert.Equal(t, "SBI", genesis.Payload.Institution)
	assert.Equal(t, genesis.CalculateHash(), genesis.Hash)
	assert.Empty(t, chain.Transactions())
	assert.NoError(t, chain.Verify())
}

func TestChain_Append(t *testing.T) {
	chain := New("HDFC", fixedClock())
	genesis := chain.Tail()

	result, err := chain.Append(testRecord(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Index)

	tail := chain.Tail()
	assert.Equal(t, result.Hash, tail.Hash)
	assert.Equal(t, genesis.Hash, tail.PreviousHash)
	assert.Equal(t, tail.CalculateHash(), tail.Hash)
	assert.Equal(t, 2, chain.Len())
}

func TestChain_Append_missingFields(t *testing.T) {
	testData := []struct {
		name   string
		modify func(r *entities.TransactionRecord)
		field  string
	}{
		{name: "transaction id", modify: func(r *entities.TransactionRecord) { r.TransactionID = "" }, field: "transaction_id"},
		{name: "payer", modify: func(r *entities.TransactionRecord) { r.PayerID = "" }, field: "payer_id"},
		{name: "payee", modify: func(r *entities.TransactionRecord) { r.PayeeID = "" }, field: "payee_id"},
		{name: "amount", modify: func(r *entities.TransactionRecord) { r.Amount = decimal.Zero }, field: "amount"},
		{name: "timestamp", modify: func(r *entities.TransactionRecord) { r.Timestamp = time.Time{} }, field: "timestamp"},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			chain := New("HDFC", fixedClock())
			record := testRecord(1)
			testRun.modify(&record)

			_, err := chain.Append(record)
			require.ErrorIs(t, err, entities.ErrValidation)
			assert.Contains(t, err.Error(), testRun.field)
			assert.Equal(t, 1, chain.Len())
		})
	}
}

func TestChain_Verify_validChain(t *testing.T) {
	chain := chainWithRecords(t, 10)
	assert.NoError(t, chain.Verify())
	assert.True(t, chain.Valid())
}

func TestChain_Verify_detectsTampering(t *testing.T) {
	testData := []struct {
		name   string
		index  int
		tamper func(b *Block)
	}{
		{name: "amount", index: 3, tamper: func(b *Block) { b.Payload.Amount = decimal.NewFromInt(1_000_000) }},
		{name: "payer", index: 5, tamper: func(b *Block) { b.Payload.PayerID = "attacker" }},
		{name: "timestamp", index: 1, tamper: func(b *Block) { b.Timestamp = b.Timestamp.Add(time.Hour) }},
		{name: "stored hash", index: 7, tamper: func(b *Block) { b.Hash = strings.Repeat("f", 64) }},
		{name: "previous hash", index: 4, tamper: func(b *Block) { b.PreviousHash = "0" }},
		{name: "index", index: 2, tamper: func(b *Block) { b.Index = 9 }},
		{name: "last block", index: 10, tamper: func(b *Block) { b.Payload.PayeeID = "someone-else" }},
		{name: "genesis message", index: 0, tamper: func(b *Block) { b.Payload.Message = "Genesis Block for nobody" }},
		{name: "genesis timestamp", index: 0, tamper: func(b *Block) { b.Timestamp = b.Timestamp.Add(-time.Hour) }},
		{name: "genesis previous hash", index: 0, tamper: func(b *Block) {
			b.PreviousHash = strings.Repeat("a", 64)
			b.Hash = b.CalculateHash()
		}},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			chain := chainWithRecords(t, 10)
			testRun.tamper(&chain.blocks[testRun.index])

			err := chain.Verify()
			require.ErrorIs(t, err, entities.ErrIntegrity)
			var integrityErr *entities.IntegrityError
			require.ErrorAs(t, err, &integrityErr)
			assert.Equal(t, uint64(testRun.index), integrityErr.Index)
			assert.Equal(t, "HDFC", integrityErr.Institution)
			assert.False(t, chain.Valid())
		})
	}
}

func TestChain_Verify_detectsReordering(t *testing.T) {
	chain := chainWithRecords(t, 5)
	chain.blocks[2], chain.blocks[3] = chain.blocks[3], chain.blocks[2]

	var integrityErr *entities.IntegrityError
	require.ErrorAs(t, chain.Verify(), &integrityErr)
	assert.Equal(t, uint64(2), integrityErr.Index)
}

func TestChain_Verify_detectsSplicedRehashedBlock(t *testing.T) {
	chain := chainWithRecords(t, 5)
	// rehashing an edited block moves the break to the successor's link
	chain.blocks[2].Payload.Amount = decimal.NewFromInt(1)
	chain.blocks[2].Hash = chain.blocks[2].CalculateHash()

	var integrityErr *entities.IntegrityError
	require.ErrorAs(t, chain.Verify(), &integrityErr)
	assert.Equal(t, uint64(3), integrityErr.Index)
}

func TestChain_Queries(t *testing.T) {
	chain := chainWithRecords(t, 6)

	all := chain.Transactions()
	require.Len(t, all, 6)
	for i, r := range all {
		assert.Equal(t, fmt.Sprintf("tx-%03d", i+1), r.TransactionID)
	}

	byPayer := chain.TransactionsByPayer("payer-1")
	require.Len(t, byPayer, 2)
	assert.Equal(t, "tx-001", byPayer[0].TransactionID)
	assert.Equal(t, "tx-004", byPayer[1].TransactionID)

	byPayee := chain.TransactionsByPayee("payee-0")
	require.Len(t, byPayee, 3)
	assert.Equal(t, "tx-002", byPayee[0].TransactionID)
	assert.Equal(t, "tx-004", byPayee[1].TransactionID)
	assert.Equal(t, "tx-006", byPayee[2].TransactionID)

	assert.Empty(t, chain.TransactionsByPayer("unknown"))
}

func TestChain_ConcurrentAppends_haveNoGaps(t *testing.T) {
	chain := New("ICICI", nil)
	const appenders = 16
	const perAppender = 25

	var wg sync.WaitGroup
	for a := 0; a < appenders; a++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perAppender; i++ {
				_, err := chain.Append(testRecord(a*perAppender + i))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	blocks := chain.Blocks()
	require.Len(t, blocks, appenders*perAppender+1)
	for i, b := range blocks {
		assert.Equal(t, uint64(i), b.Index)
	}
	assert.NoError(t, chain.Verify())
}

func TestChain_RestoreFromSerializedBlocks(t *testing.T) {
	chain := chainWithRecords(t, 4)

	data, err := json.Marshal(chain.Blocks())
	require.NoError(t, err)

	var blocks []Block
	require.NoError(t, json.Unmarshal(data, &blocks))

	restored, err := Restore("HDFC", blocks, nil)
	require.NoError(t, err)
	require.NoError(t, restored.Verify())
	assert.Equal(t, chain.Tail().Hash, restored.Tail().Hash)

	// appends continue the restored chain
	result, err := restored.Append(testRecord(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), result.Index)
	assert.NoError(t, restored.Verify())
}

func TestChain_RestoreTrustsStoredHashUntilVerified(t *testing.T) {
	chain := chainWithRecords(t, 3)
	blocks := chain.Blocks()
	blocks[2].Payload.Amount = decimal.NewFromInt(999_999)

	restored, err := Restore("HDFC", blocks, nil)
	require.NoError(t, err)
	assert.Equal(t, blocks[2].Hash, restored.Blocks()[2].Hash)

	var integrityErr *entities.IntegrityError
	require.ErrorAs(t, restored.Verify(), &integrityErr)
	assert.Equal(t, uint64(2), integrityErr.Index)
}

func TestChain_Restore_empty(t *testing.T) {
	_, err := Restore("HDFC", nil, nil)
	require.ErrorIs(t, err, entities.ErrValidation)
}
