package router

import (
	"bytes"
	"encoding/json"

	"github.com/paynet/bank-gateway/entities"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Operation string

const (
	OpRegisterMerchant        Operation = "register_merchant"
	OpRegisterUser            Operation = "register_user"
	OpProcessTransaction      Operation = "process_transaction"
	OpValidateMerchant        Operation = "validate_merchant"
	OpGenerateToken           Operation = "generate_token"
	OpDecodeToken             Operation = "decode_token"
	OpGetMerchantBalance      Operation = "get_merchant_balance"
	OpGetUserBalance          Operation = "get_user_balance"
	OpGetUserTransactions     Operation = "get_user_transactions"
	OpGetMerchantTransactions Operation = "get_merchant_transactions"
	OpGetTransactionHistory   Operation = "get_transaction_history"
)

type Request struct {
	Type Operation `json:"type"`
	Data Payload   `json:"data,omitempty"`
}

// Payload holds the operation specific fields of a request.
type Payload map[string]json.RawMessage

func NewPayload(fields map[string]any) (Payload, error) {
	payload := make(Payload, len(fields))
	for name, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding field [%s]", name)
		}
		payload[name] = raw
	}
	return payload, nil
}

func missingField(name string) error {
	return entities.Validationf("missing required field: %s", name)
}

func (p Payload) present(name string) bool {
	raw, ok := p[name]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// String returns a required, non-empty string field.
func (p Payload) String(name string) (string, error) {
	value, err := p.OptionalString(name)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", missingField(name)
	}
	return value, nil
}

func (p Payload) OptionalString(name string) (string, error) {
	if !p.present(name) {
		return "", nil
	}
	var value string
	if err := json.Unmarshal(p[name], &value); err != nil {
		return "", entities.Validationf("field %s must be a string", name)
	}
	return value, nil
}

// Decimal accepts a JSON number or a numeric string.
func (p Payload) Decimal(name string) (decimal.Decimal, error) {
	if !p.present(name) {
		return decimal.Zero, missingField(name)
	}
	var value decimal.Decimal
	if err := json.Unmarshal(p[name], &value); err != nil {
		return decimal.Zero, entities.Validationf("field %s must be a decimal number", name)
	}
	return value, nil
}

func (p Payload) Bool(name string) bool {
	if !p.present(name) {
		return false
	}
	var value bool
	if err := json.Unmarshal(p[name], &value); err != nil {
		return false
	}
	return value
}

// Response is encoded as a flat object: status, message and the result fields side by side.
type Response struct {
	Status  string
	Message string
	Fields  map[string]any
}

func Success(fields map[string]any) Response {
	return Response{Status: StatusSuccess, Fields: fields}
}

func Failure(message string) Response {
	return Response{Status: StatusError, Message: message}
}

func (r Response) OK() bool {
	return r.Status == StatusSuccess
}

func (r Response) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["status"] = r.Status
	if r.Message != "" {
		flat["message"] = r.Message
	}
	return json.Marshal(flat)
}

// UnmarshalJSON keeps numbers as json.Number so that amounts are not rounded through float64.
func (r *Response) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var flat map[string]any
	if err := decoder.Decode(&flat); err != nil {
		return err
	}

	status, _ := flat["status"].(string)
	message, _ := flat["message"].(string)
	delete(flat, "status")
	delete(flat, "message")
	if len(flat) == 0 {
		flat = nil
	}

	*r = Response{Status: status, Message: message, Fields: flat}
	return nil
}

// Field decodes a result field into target, for example a decimal.Decimal or a slice of records.
func (r Response) Field(name string, target any) error {
	value, ok := r.Fields[name]
	if !ok {
		return errors.Errorf("response has no field [%s]", name)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding field [%s]", name)
	}
	if err = json.Unmarshal(raw, target); err != nil {
		return errors.Wrapf(err, "decoding field [%s]", name)
	}
	return nil
}
