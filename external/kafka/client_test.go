package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paynet/bank-gateway/entities"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type MockKafkaClient struct {
	records     []*kgo.Record
	shouldError bool
}

func (mkc *MockKafkaClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var results kgo.ProduceResults
	for _, r := range rs {
		if mkc.shouldError {
			results = append(results, kgo.ProduceResult{Record: r, Err: errors.New("dummy error")})
			continue
		}
		mkc.records = append(mkc.records, r)
		results = append(results, kgo.ProduceResult{Record: r})
	}
	return results
}

func testRecord() entities.TransactionRecord {
	return entities.TransactionRecord{
		TransactionID:    "9f2c5c1d0b7e4a65c1aa8d2d6a1f8e0b8d5a2b1c3e4f5a6b7c8d9e0f1a2b3c4d",
		PayerID:          "5d41402abc4b2a76",
		PayeeID:          "7d793037a0760186",
		Amount:           decimal.RequireFromString("250.50"),
		Timestamp:        time.Date(2025, 4, 14, 6, 0, 0, 0, time.UTC),
		PayerInstitution: "HDFC",
		PayeeInstitution: "SBI",
	}
}

func TestClient_PublishTransaction(t *testing.T) {
	mock := &MockKafkaClient{}
	kc := NewClient(mock)

	record := testRecord()
	err := kc.PublishTransaction(context.Background(), record)
	require.NoError(t, err)
	require.Len(t, mock.records, 1)

	produced := mock.records[0]
	assert.Equal(t, record.TransactionID, string(produced.Key))
	assert.Equal(t, []kgo.RecordHeader{
		{Key: "payer_institution", Value: []byte("HDFC")},
		{Key: "payee_institution", Value: []byte("SBI")},
	}, produced.Headers)

	var decoded entities.TransactionRecord
	require.NoError(t, json.Unmarshal(produced.Value, &decoded))
	assert.Equal(t, record.TransactionID, decoded.TransactionID)
	assert.True(t, record.Amount.Equal(decoded.Amount))
	assert.True(t, record.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, record.PayeeID, decoded.PayeeID)
}

func TestClient_PublishTransaction_Error(t *testing.T) {
	kc := NewClient(&MockKafkaClient{shouldError: true})

	err := kc.PublishTransaction(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dummy error")
}
