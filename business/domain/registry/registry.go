// Package registry holds the payer and merchant accounts of the network. It performs no
// locking of its own; callers serialize access (see the transaction engine).
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/paynet/bank-gateway/entities"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const identifierLength = 16

type Options struct {
	Institutions entities.Institutions
	BcryptCost   int
	Now          func() time.Time
}

type Registry struct {
	institutions entities.Institutions
	bcryptCost   int
	now          func() time.Time

	payers        map[string]*entities.Account
	merchants     map[string]*entities.Account
	linkingTokens map[string]string // linking token -> payer id
}

func New(opts Options) *Registry {
	if opts.Institutions == nil {
		opts.Institutions = entities.DefaultInstitutions
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		institutions:  opts.Institutions,
		bcryptCost:    opts.BcryptCost,
		now:           opts.Now,
		payers:        make(map[string]*entities.Account),
		merchants:     make(map[string]*entities.Account),
		linkingTokens: make(map[string]string),
	}
}

// DeriveIdentifier returns the truncated SHA-256 of name, creation time and secret. It is not
// collision free, registration checks for existing identifiers.
func DeriveIdentifier(name, secret string, createdAt time.Time) string {
	return truncatedDigest(fmt.Sprintf("%s_%d_%s", name, createdAt.UnixNano(), secret))
}

func DeriveLinkingToken(id, contactHandle string) string {
	return truncatedDigest(fmt.Sprintf("%s_%s", id, contactHandle))
}

func truncatedDigest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:identifierLength]
}

func (r *Registry) RegisterMerchant(reg entities.Registration) (*entities.Account, error) {
	account, err := r.newAccount(entities.RoleMerchant, reg)
	if err != nil {
		return nil, err
	}
	if r.registered(account.ID) {
		return nil, entities.NewError(entities.ErrDuplicateRegistration, "identifier [%s] already registered", account.ID)
	}
	r.merchants[account.ID] = account
	return account, nil
}

func (r *Registry) RegisterPayer(reg entities.Registration) (*entities.Account, error) {
	if reg.PIN == "" {
		return nil, entities.Validationf("missing required field: credential_pin")
	}
	if reg.ContactHandle == "" {
		return nil, entities.Validationf("missing required field: contact_handle")
	}

	account, err := r.newAccount(entities.RolePayer, reg)
	if err != nil {
		return nil, err
	}
	if r.registered(account.ID) {
		return nil, entities.NewError(entities.ErrDuplicateRegistration, "identifier [%s] already registered", account.ID)
	}
	account.ContactHandle = reg.ContactHandle
	account.LinkingToken = DeriveLinkingToken(account.ID, reg.ContactHandle)
	if _, exists := r.linkingTokens[account.LinkingToken]; exists {
		return nil, entities.NewError(entities.ErrDuplicateRegistration, "linking token [%s] already registered", account.LinkingToken)
	}

	pinHash, err := bcrypt.GenerateFromPassword([]byte(reg.PIN), r.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "hashing pin")
	}
	account.PINHash = pinHash

	r.payers[account.ID] = account
	r.linkingTokens[account.LinkingToken] = account.ID
	return account, nil
}

func (r *Registry) newAccount(role entities.Role, reg entities.Registration) (*entities.Account, error) {
	switch {
	case reg.Name == "":
		return nil, entities.Validationf("missing required field: name")
	case reg.RoutingCode == "":
		return nil, entities.Validationf("missing required field: routing_code")
	case reg.Secret == "":
		return nil, entities.Validationf("missing required field: secret")
	case reg.InitialBalance.IsNegative():
		return nil, entities.Validationf("initial balance must not be negative")
	}

	institution, ok := r.institutions.Resolve(reg.RoutingCode)
	if !ok {
		return nil, entities.Validationf("invalid routing code [%s]", reg.RoutingCode)
	}

	createdAt := r.now().UTC()
	secretHash, err := bcrypt.GenerateFromPassword([]byte(reg.Secret), r.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "hashing secret")
	}

	return &entities.Account{
		ID:          DeriveIdentifier(reg.Name, reg.Secret, createdAt),
		Role:        role,
		Name:        reg.Name,
		RoutingCode: reg.RoutingCode,
		SecretHash:  secretHash,
		Balance:     reg.InitialBalance,
		Institution: institution,
		CreatedAt:   createdAt,
	}, nil
}

func (r *Registry) Payer(id string) (*entities.Account, error) {
	account, ok := r.payers[id]
	if !ok {
		return nil, entities.NotFoundf("invalid identifier")
	}
	return account, nil
}

func (r *Registry) PayerByLinkingToken(token string) (*entities.Account, error) {
	id, ok := r.linkingTokens[token]
	if !ok {
		return nil, entities.NotFoundf("invalid identifier")
	}
	return r.Payer(id)
}

func (r *Registry) Merchant(id string) (*entities.Account, error) {
	account, ok := r.merchants[id]
	if !ok {
		return nil, entities.NotFoundf("invalid identifier")
	}
	return account, nil
}

// registered reports whether id is taken by an account of either role. Payers and merchants
// share one identifier space.
func (r *Registry) registered(id string) bool {
	_, payer := r.payers[id]
	_, merchant := r.merchants[id]
	return payer || merchant
}

func CheckPIN(account *entities.Account, pin string) error {
	if len(account.PINHash) == 0 || bcrypt.CompareHashAndPassword(account.PINHash, []byte(pin)) != nil {
		return entities.NewError(entities.ErrAuthentication, "invalid credential")
	}
	return nil
}

func CheckSecret(account *entities.Account, secret string) error {
	if bcrypt.CompareHashAndPassword(account.SecretHash, []byte(secret)) != nil {
		return entities.NewError(entities.ErrAuthentication, "invalid credential")
	}
	return nil
}

// Credit adds amount to the account resolved by the caller.
func Credit(account *entities.Account, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return entities.Validationf("amount must be greater than zero")
	}
	account.Balance = account.Balance.Add(amount)
	return nil
}

func Debit(account *entities.Account, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return entities.Validationf("amount must be greater than zero")
	}
	if account.Balance.LessThan(amount) {
		return entities.NewError(entities.ErrInsufficientFunds, "insufficient funds")
	}
	account.Balance = account.Balance.Sub(amount)
	return nil
}

// Restore replaces the registry content with previously persisted accounts.
func (r *Registry) Restore(accounts []entities.Account) error {
	payers := make(map[string]*entities.Account)
	merchants := make(map[string]*entities.Account)
	tokens := make(map[string]string)

	for i := range accounts {
		account := accounts[i]
		_, payer := payers[account.ID]
		_, merchant := merchants[account.ID]
		if payer || merchant {
			return entities.NewError(entities.ErrDuplicateRegistration, "identifier [%s] restored twice", account.ID)
		}
		switch account.Role {
		case entities.RolePayer:
			payers[account.ID] = &account
			if account.LinkingToken != "" {
				tokens[account.LinkingToken] = account.ID
			}
		case entities.RoleMerchant:
			merchants[account.ID] = &account
		default:
			return entities.Validationf("account [%s] has unknown role [%s]", account.ID, account.Role)
		}
	}

	r.payers = payers
	r.merchants = merchants
	r.linkingTokens = tokens
	return nil
}

// Accounts returns copies of all accounts ordered by id.
func (r *Registry) Accounts() []entities.Account {
	accounts := make([]entities.Account, 0, len(r.payers)+len(r.merchants))
	for _, a := range r.payers {
		accounts = append(accounts, *a)
	}
	for _, a := range r.merchants {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts
}

func (r *Registry) Institutions() entities.Institutions {
	return r.institutions
}
