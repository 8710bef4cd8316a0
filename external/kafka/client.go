package kafka

import (
	"context"
	"encoding/json"

	"github.com/paynet/bank-gateway/entities"
	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

type KafkaClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Client publishes committed transactions as receipts. Records are keyed by transaction id.
type Client struct {
	kcl KafkaClient
}

func NewClient(kafkaClient KafkaClient) *Client {
	return &Client{
		kcl: kafkaClient,
	}
}

func (kc *Client) PublishTransaction(ctx context.Context, record entities.TransactionRecord) error {
	kr, err := createTxRecord(record)
	if err != nil {
		return errors.Wrap(err, "creating transaction record")
	}

	err = kc.kcl.ProduceSync(ctx, kr).FirstErr()
	if err != nil {
		return errors.Wrapf(err, "producing transaction record [%s]", record.TransactionID)
	}
	return nil
}

func createTxRecord(record entities.TransactionRecord) (*kgo.Record, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling transaction to json")
	}

	return &kgo.Record{
		Key:   []byte(record.TransactionID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "payer_institution", Value: []byte(record.PayerInstitution)},
			{Key: "payee_institution", Value: []byte(record.PayeeInstitution)},
		},
	}, nil
}
