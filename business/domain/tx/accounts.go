package tx

import (
	"fmt"
	"strings"
	"time"

	"github.com/paynet/bank-gateway/business/domain/cipher"
	"github.com/paynet/bank-gateway/business/domain/registry"
	"github.com/paynet/bank-gateway/entities"
	"github.com/shopspring/decimal"
)

type MerchantToken struct {
	Token      string
	MerchantID string
	Timestamp  time.Time
}

func (e *Engine) RegisterMerchant(reg entities.Registration) (entities.Account, error) {
	return e.register(entities.RoleMerchant, reg)
}

func (e *Engine) RegisterPayer(reg entities.Registration) (entities.Account, error) {
	return e.register(entities.RolePayer, reg)
}

func (e *Engine) register(role entities.Role, reg entities.Registration) (entities.Account, error) {
	e.registryLock.Lock()
	defer e.registryLock.Unlock()

	var account *entities.Account
	var err error
	if role == entities.RolePayer {
		account, err = e.registry.RegisterPayer(reg)
	} else {
		account, err = e.registry.RegisterMerchant(reg)
	}
	if err != nil {
		return entities.Account{}, err
	}

	e.metrics.IncRegistrations(string(role))
	e.logger.Infow("Registered account.", "role", role, "id", account.ID, "institution", account.Institution)
	if e.store != nil {
		if err = e.store.SaveAccount(*account); err != nil {
			e.logger.Errorw("Saving account snapshot failed.", "id", account.ID, "error", err)
		}
	}
	return *account, nil
}

// ValidateMerchant reports whether the secret belongs to the merchant. Unknown merchants are
// invalid, not an error.
func (e *Engine) ValidateMerchant(merchantID, secret string) bool {
	e.registryLock.RLock()
	defer e.registryLock.RUnlock()

	merchant, err := e.registry.Merchant(merchantID)
	if err != nil {
		return false
	}
	return registry.CheckSecret(merchant, secret) == nil
}

func (e *Engine) MerchantBalance(merchantID string) (decimal.Decimal, error) {
	e.registryLock.RLock()
	defer e.registryLock.RUnlock()

	merchant, err := e.registry.Merchant(merchantID)
	if err != nil {
		return decimal.Zero, err
	}
	return e.readBalance(merchant), nil
}

func (e *Engine) PayerBalance(linkingToken, pin string) (decimal.Decimal, error) {
	e.registryLock.RLock()
	defer e.registryLock.RUnlock()

	payer, err := e.authenticatePayer(linkingToken, pin)
	if err != nil {
		return decimal.Zero, err
	}
	return e.readBalance(payer), nil
}

// readBalance takes the institution read lock so that no half applied transfer is observed.
func (e *Engine) readBalance(account *entities.Account) decimal.Decimal {
	l, ok := e.ledgers[account.Institution]
	if !ok {
		return account.Balance
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return account.Balance
}

func (e *Engine) PayerTransactions(linkingToken, pin string) ([]entities.TransactionRecord, error) {
	e.registryLock.RLock()
	defer e.registryLock.RUnlock()

	payer, err := e.authenticatePayer(linkingToken, pin)
	if err != nil {
		return nil, err
	}
	l, err := e.ledger(payer.Institution)
	if err != nil {
		return nil, err
	}
	return l.current().TransactionsByPayer(payer.ID), nil
}

func (e *Engine) MerchantTransactions(merchantID, secret string) ([]entities.TransactionRecord, error) {
	e.registryLock.RLock()
	defer e.registryLock.RUnlock()

	merchant, err := e.registry.Merchant(merchantID)
	if err != nil {
		return nil, entities.NewError(entities.ErrAuthentication, "invalid credential")
	}
	if err = registry.CheckSecret(merchant, secret); err != nil {
		return nil, err
	}
	l, err := e.ledger(merchant.Institution)
	if err != nil {
		return nil, err
	}
	return l.current().TransactionsByPayee(merchant.ID), nil
}

func (e *Engine) authenticatePayer(linkingToken, pin string) (*entities.Account, error) {
	payer, err := e.registry.PayerByLinkingToken(linkingToken)
	if err != nil {
		return nil, err
	}
	if err = registry.CheckPIN(payer, pin); err != nil {
		return nil, err
	}
	return payer, nil
}

func (e *Engine) ledger(code string) (*institutionLedger, error) {
	l, ok := e.ledgers[code]
	if !ok {
		return nil, entities.NotFoundf("unknown institution [%s]", code)
	}
	return l, nil
}

// GenerateToken encodes "<merchant id>_<unix nanos>" keyed with the merchant id. The key is
// public, the token only obscures the id.
func (e *Engine) GenerateToken(merchantID string) (MerchantToken, error) {
	e.registryLock.RLock()
	_, err := e.registry.Merchant(merchantID)
	e.registryLock.RUnlock()
	if err != nil {
		return MerchantToken{}, err
	}

	ts := e.now().UTC()
	return MerchantToken{
		Token:      cipher.Encode(merchantID, fmt.Sprintf("%s_%d", merchantID, ts.UnixNano())),
		MerchantID: merchantID,
		Timestamp:  ts,
	}, nil
}

// DecodeToken checks that the token decodes to a plaintext issued for the merchant.
func (e *Engine) DecodeToken(merchantID, token string) (string, error) {
	plaintext, err := cipher.Decode(merchantID, token)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(plaintext, merchantID+"_") {
		return "", entities.NewError(entities.ErrDecode, "invalid token")
	}
	return merchantID, nil
}
