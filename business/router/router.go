// Package router maps wire requests onto the transaction engine.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/paynet/bank-gateway/business/domain/diagnostics"
	"github.com/paynet/bank-gateway/business/domain/tx"
	"github.com/paynet/bank-gateway/entities"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Engine interface {
	RegisterMerchant(reg entities.Registration) (entities.Account, error)
	RegisterPayer(reg entities.Registration) (entities.Account, error)
	Execute(ctx context.Context, req tx.Request) (entities.Receipt, error)
	ValidateMerchant(merchantID, secret string) bool
	GenerateToken(merchantID string) (tx.MerchantToken, error)
	DecodeToken(merchantID, token string) (string, error)
	MerchantBalance(merchantID string) (decimal.Decimal, error)
	PayerBalance(linkingToken, pin string) (decimal.Decimal, error)
	PayerTransactions(linkingToken, pin string) ([]entities.TransactionRecord, error)
	MerchantTransactions(merchantID, secret string) ([]entities.TransactionRecord, error)
	History(filter entities.HistoryFilter) ([]entities.HistoryEntry, error)
}

type AttackSimulator interface {
	Simulate(ctx context.Context, pin, userID string) (diagnostics.Outcome, error)
}

type handlerFunc func(ctx context.Context, data Payload) (map[string]any, error)

type Router struct {
	engine   Engine
	attack   AttackSimulator
	logger   *zap.SugaredLogger
	handlers map[Operation]handlerFunc
}

// NewRouter builds the dispatch table. attack may be nil, the simulation flag is then ignored.
func NewRouter(engine Engine, attack AttackSimulator, logger *zap.SugaredLogger) *Router {
	r := &Router{engine: engine, attack: attack, logger: logger}
	r.handlers = map[Operation]handlerFunc{
		OpRegisterMerchant:        r.registerMerchant,
		OpRegisterUser:            r.registerUser,
		OpProcessTransaction:      r.processTransaction,
		OpValidateMerchant:        r.validateMerchant,
		OpGenerateToken:           r.generateToken,
		OpDecodeToken:             r.decodeToken,
		OpGetMerchantBalance:      r.merchantBalance,
		OpGetUserBalance:          r.userBalance,
		OpGetUserTransactions:     r.userTransactions,
		OpGetMerchantTransactions: r.merchantTransactions,
		OpGetTransactionHistory:   r.transactionHistory,
	}
	return r
}

// Handle never panics and never returns a response without status.
func (r *Router) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Errorw("Recovered from panic in request handler.", "type", req.Type, "panic", fmt.Sprint(recovered))
			resp = Failure("internal error")
		}
	}()

	handler, ok := r.handlers[req.Type]
	if !ok {
		return Failure("unknown request")
	}
	data := req.Data
	if data == nil {
		data = Payload{}
	}

	fields, err := handler(ctx, data)
	if err != nil {
		return r.failure(req.Type, err)
	}
	return Success(fields)
}

func (r *Router) failure(op Operation, err error) Response {
	var domainErr *entities.Error
	var inconsistent *entities.InconsistentStateError
	switch {
	case errors.Is(err, entities.ErrAuthentication):
		return Failure("invalid credential")
	case errors.As(err, &inconsistent):
		return Failure("transaction flagged for reconciliation")
	case errors.As(err, &domainErr):
		return Failure(domainErr.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Failure("request cancelled")
	default:
		r.logger.Errorw("Request failed.", "type", op, "error", err)
		return Failure("internal error")
	}
}

func registration(data Payload, payer bool) (entities.Registration, error) {
	var reg entities.Registration
	var err error
	if reg.Name, err = data.String("name"); err != nil {
		return reg, err
	}
	if reg.RoutingCode, err = data.String("routing_code"); err != nil {
		return reg, err
	}
	if reg.Secret, err = data.String("secret"); err != nil {
		return reg, err
	}
	if reg.InitialBalance, err = data.Decimal("initial_balance"); err != nil {
		return reg, err
	}
	if !payer {
		return reg, nil
	}
	if reg.PIN, err = data.String("credential_pin"); err != nil {
		return reg, err
	}
	if reg.ContactHandle, err = data.String("contact_handle"); err != nil {
		return reg, err
	}
	return reg, nil
}

func (r *Router) registerMerchant(_ context.Context, data Payload) (map[string]any, error) {
	reg, err := registration(data, false)
	if err != nil {
		return nil, err
	}
	merchant, err := r.engine.RegisterMerchant(reg)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"merchant_id": merchant.ID,
		"institution": merchant.Institution,
	}, nil
}

func (r *Router) registerUser(_ context.Context, data Payload) (map[string]any, error) {
	reg, err := registration(data, true)
	if err != nil {
		return nil, err
	}
	payer, err := r.engine.RegisterPayer(reg)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"user_id":       payer.ID,
		"linking_token": payer.LinkingToken,
		"institution":   payer.Institution,
	}, nil
}

func (r *Router) processTransaction(ctx context.Context, data Payload) (map[string]any, error) {
	var req tx.Request
	var err error
	if req.MerchantID, err = data.String("merchant_id"); err != nil {
		return nil, err
	}
	if req.LinkingToken, err = data.String("linking_token"); err != nil {
		return nil, err
	}
	if req.Amount, err = data.Decimal("amount"); err != nil {
		return nil, err
	}
	if req.PIN, err = data.String("credential_pin"); err != nil {
		return nil, err
	}

	if data.Bool("simulate_quantum_attack") && r.attack != nil {
		if _, err = r.attack.Simulate(ctx, req.PIN, req.LinkingToken); err != nil {
			return nil, err
		}
	}

	receipt, err := r.engine.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"transaction_id": receipt.TransactionID,
		"amount":         receipt.Amount,
		"timestamp":      receipt.Timestamp.Format(time.RFC3339Nano),
		"payer_balance":  receipt.PayerBalance,
		"payee_balance":  receipt.PayeeBalance,
	}, nil
}

func (r *Router) validateMerchant(_ context.Context, data Payload) (map[string]any, error) {
	merchantID, err := data.String("merchant_id")
	if err != nil {
		return nil, err
	}
	secret, err := data.String("secret")
	if err != nil {
		return nil, err
	}
	return map[string]any{"valid": r.engine.ValidateMerchant(merchantID, secret)}, nil
}

func (r *Router) generateToken(_ context.Context, data Payload) (map[string]any, error) {
	merchantID, err := data.String("merchant_id")
	if err != nil {
		return nil, err
	}
	token, err := r.engine.GenerateToken(merchantID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"token":       token.Token,
		"merchant_id": token.MerchantID,
		"timestamp":   token.Timestamp.Format(time.RFC3339Nano),
	}, nil
}

func (r *Router) decodeToken(_ context.Context, data Payload) (map[string]any, error) {
	merchantID, err := data.String("merchant_id")
	if err != nil {
		return nil, err
	}
	token, err := data.String("token")
	if err != nil {
		return nil, err
	}
	decoded, err := r.engine.DecodeToken(merchantID, token)
	if err != nil {
		return nil, err
	}
	return map[string]any{"merchant_id": decoded}, nil
}

func (r *Router) merchantBalance(_ context.Context, data Payload) (map[string]any, error) {
	merchantID, err := data.String("merchant_id")
	if err != nil {
		return nil, err
	}
	balance, err := r.engine.MerchantBalance(merchantID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"balance": balance}, nil
}

func (r *Router) userBalance(_ context.Context, data Payload) (map[string]any, error) {
	token, pin, err := payerCredentials(data)
	if err != nil {
		return nil, err
	}
	balance, err := r.engine.PayerBalance(token, pin)
	if err != nil {
		return nil, err
	}
	return map[string]any{"balance": balance}, nil
}

func (r *Router) userTransactions(_ context.Context, data Payload) (map[string]any, error) {
	token, pin, err := payerCredentials(data)
	if err != nil {
		return nil, err
	}
	transactions, err := r.engine.PayerTransactions(token, pin)
	if err != nil {
		return nil, err
	}
	return map[string]any{"transactions": transactions}, nil
}

func (r *Router) merchantTransactions(_ context.Context, data Payload) (map[string]any, error) {
	merchantID, err := data.String("merchant_id")
	if err != nil {
		return nil, err
	}
	secret, err := data.String("secret")
	if err != nil {
		return nil, err
	}
	transactions, err := r.engine.MerchantTransactions(merchantID, secret)
	if err != nil {
		return nil, err
	}
	return map[string]any{"transactions": transactions}, nil
}

func (r *Router) transactionHistory(_ context.Context, data Payload) (map[string]any, error) {
	var filter entities.HistoryFilter
	var err error
	if filter.Institution, err = data.OptionalString("institution"); err != nil {
		return nil, err
	}
	if filter.PayerID, err = data.OptionalString("payer_id"); err != nil {
		return nil, err
	}
	if filter.PayeeID, err = data.OptionalString("payee_id"); err != nil {
		return nil, err
	}
	history, err := r.engine.History(filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"transactions": history}, nil
}

func payerCredentials(data Payload) (string, string, error) {
	token, err := data.String("linking_token")
	if err != nil {
		return "", "", err
	}
	pin, err := data.String("credential_pin")
	if err != nil {
		return "", "", err
	}
	return token, pin, nil
}
