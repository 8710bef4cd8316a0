// Package tx executes transfers between payers and merchants and posts them to the
// institution ledgers.
package tx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/paynet/bank-gateway/business/domain/ledger"
	"github.com/paynet/bank-gateway/business/domain/registry"
	"github.com/paynet/bank-gateway/entities"
	"github.com/paynet/bank-gateway/metrics"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Chain is the ledger of one institution as used by the engine.
type Chain interface {
	Institution() string
	Append(record entities.TransactionRecord) (ledger.AppendResult, error)
	Verify() error
	Len() int
	Tail() ledger.Block
	Blocks() []ledger.Block
	TransactionsByPayer(payerID string) []entities.TransactionRecord
	TransactionsByPayee(payeeID string) []entities.TransactionRecord
	Transactions() []entities.TransactionRecord
}

type Store interface {
	SaveAccount(account entities.Account) error
	SaveChain(institution string, blocks []ledger.Block) error
	SaveTransaction(accounts []entities.Account, blocks map[string]ledger.Block) error
	LoadAccounts() ([]entities.Account, error)
	LoadChain(institution string) ([]ledger.Block, error)
	AddReconciliation(transactionID string) error
}

type Publisher interface {
	PublishTransaction(ctx context.Context, record entities.TransactionRecord) error
}

type Request struct {
	MerchantID   string
	LinkingToken string
	Amount       decimal.Decimal
	PIN          string
}

type Config struct {
	Now            func() time.Time
	PublishTimeout time.Duration
}

type institutionLedger struct {
	mu    sync.RWMutex // guards balances of the institution's accounts and ledger posting
	chain Chain
}

// current returns the chain for reads outside of a critical section.
func (l *institutionLedger) current() Chain {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain
}

// Engine owns all concurrency control over the registry and the ledgers. Lock order is the
// registry lock first, then institution locks in ascending code order.
type Engine struct {
	registryLock sync.RWMutex
	registry     *registry.Registry
	ledgers      map[string]*institutionLedger
	codes        []string

	store     Store
	publisher Publisher
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics

	now            func() time.Time
	publishTimeout time.Duration
}

func NewEngine(reg *registry.Registry, chains []Chain, store Store, publisher Publisher, logger *zap.SugaredLogger, m *metrics.Metrics, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	e := &Engine{
		registry:       reg,
		ledgers:        make(map[string]*institutionLedger, len(chains)),
		store:          store,
		publisher:      publisher,
		logger:         logger,
		metrics:        m,
		now:            cfg.Now,
		publishTimeout: cfg.PublishTimeout,
	}
	for _, chain := range chains {
		e.ledgers[chain.Institution()] = &institutionLedger{chain: chain}
		e.codes = append(e.codes, chain.Institution())
		m.SetLedgerHeight(chain.Institution(), chain.Len())
	}
	sort.Strings(e.codes)
	return e
}

// NewChains creates a fresh ledger for every institution.
func NewChains(institutions entities.Institutions, now func() time.Time) []Chain {
	chains := make([]Chain, 0, len(institutions))
	for _, code := range institutions.Codes() {
		chains = append(chains, ledger.New(code, now))
	}
	return chains
}

// TransactionID derives the id of a transfer. Equal inputs within the same nanosecond collide.
func TransactionID(payerID, payeeID string, amount decimal.Decimal, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%s_%d", payerID, payeeID, amount.String(), ts.UnixNano())))
	return hex.EncodeToString(sum[:])
}

// Execute transfers the requested amount from the payer to the merchant. Cancellation of ctx
// is only observed before the balances are touched; once started the transfer runs to the end.
func (e *Engine) Execute(ctx context.Context, req Request) (entities.Receipt, error) {
	record, receipt, err := e.execute(ctx, req)
	if err != nil {
		var inconsistent *entities.InconsistentStateError
		if !errors.As(err, &inconsistent) {
			e.metrics.IncRejectedTransactions(rejectionReason(err))
		}
		return entities.Receipt{}, err
	}

	e.metrics.IncProcessedTransactions(record.CrossInstitution())
	e.publish(ctx, record)
	return receipt, nil
}

func (e *Engine) execute(ctx context.Context, req Request) (entities.TransactionRecord, entities.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return entities.TransactionRecord{}, entities.Receipt{}, errors.Wrap(err, "transaction aborted")
	}

	e.registryLock.RLock()
	defer e.registryLock.RUnlock()

	payer, err := e.registry.PayerByLinkingToken(req.LinkingToken)
	if err != nil {
		return entities.TransactionRecord{}, entities.Receipt{}, err
	}
	payee, err := e.registry.Merchant(req.MerchantID)
	if err != nil {
		return entities.TransactionRecord{}, entities.Receipt{}, err
	}
	if err = registry.CheckPIN(payer, req.PIN); err != nil {
		return entities.TransactionRecord{}, entities.Receipt{}, err
	}
	if err = ctx.Err(); err != nil {
		return entities.TransactionRecord{}, entities.Receipt{}, errors.Wrap(err, "transaction aborted")
	}

	unlock, err := e.lockInstitutions(payer.Institution, payee.Institution)
	if err != nil {
		return entities.TransactionRecord{}, entities.Receipt{}, err
	}
	defer unlock()

	// a non-positive amount is only reported once the credentials are known to be valid
	if !req.Amount.IsPositive() || payer.Balance.LessThan(req.Amount) {
		return entities.TransactionRecord{}, entities.Receipt{}, entities.NewError(entities.ErrInsufficientFunds, "insufficient funds")
	}

	if err = e.transfer(payer, payee, req.Amount); err != nil {
		return entities.TransactionRecord{}, entities.Receipt{}, err
	}

	ts := e.now().UTC()
	record := entities.TransactionRecord{
		TransactionID:    TransactionID(payer.ID, payee.ID, req.Amount, ts),
		PayerID:          payer.ID,
		PayeeID:          payee.ID,
		Amount:           req.Amount,
		Timestamp:        ts,
		PayerInstitution: payer.Institution,
		PayeeInstitution: payee.Institution,
	}

	blocks, err := e.post(record)
	if err != nil {
		return entities.TransactionRecord{}, entities.Receipt{}, e.handlePostingFailure(record, payer, payee, blocks, err)
	}

	e.snapshot(record.TransactionID, []entities.Account{*payer, *payee}, blocks)

	return record, entities.Receipt{
		TransactionID: record.TransactionID,
		Amount:        record.Amount,
		Timestamp:     record.Timestamp,
		PayerBalance:  payer.Balance,
		PayeeBalance:  payee.Balance,
	}, nil
}

// transfer debits and credits the accounts resolved for this transaction as one step. The debit
// cannot fail after the balance check under the institution lock, a failing credit undoes the debit.
func (e *Engine) transfer(from, to *entities.Account, amount decimal.Decimal) error {
	if err := registry.Debit(from, amount); err != nil {
		return err
	}
	if err := registry.Credit(to, amount); err != nil {
		if undoErr := registry.Credit(from, amount); undoErr != nil {
			e.logger.Errorw("Restoring payer balance failed.", "payer", from.ID, "amount", amount.String(), "error", undoErr)
		}
		return err
	}
	return nil
}

// post appends the record to the payer institution and, if different, to the payee
// institution. Returns the blocks appended so far.
func (e *Engine) post(record entities.TransactionRecord) (map[string]ledger.Block, error) {
	institutions := []string{record.PayerInstitution}
	if record.CrossInstitution() {
		institutions = append(institutions, record.PayeeInstitution)
	}

	blocks := make(map[string]ledger.Block, len(institutions))
	for _, code := range institutions {
		l, ok := e.ledgers[code]
		if !ok {
			return blocks, errors.Errorf("no ledger for institution [%s]", code)
		}
		if _, err := l.chain.Append(record); err != nil {
			return blocks, errors.Wrapf(err, "appending to ledger [%s]", code)
		}
		blocks[code] = l.chain.Tail()
		e.metrics.SetLedgerHeight(code, l.chain.Len())
	}
	return blocks, nil
}

func (e *Engine) handlePostingFailure(record entities.TransactionRecord, payer, payee *entities.Account, committed map[string]ledger.Block, cause error) error {
	if len(committed) == 0 {
		if err := e.transfer(payee, payer, record.Amount); err != nil {
			e.logger.Errorw("Rolling back balances failed.", "transaction", record.TransactionID, "error", err)
			cause = errors.Wrapf(cause, "rollback failed: %v", err)
		} else {
			return &entities.InconsistentStateError{TransactionID: record.TransactionID, RolledBack: true, Cause: cause}
		}
	}

	codes := make([]string, 0, len(committed))
	for code := range committed {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	e.metrics.IncInconsistentTransactions()
	e.logger.Errorw("Transaction partially posted. Manual reconciliation required.",
		"transaction", record.TransactionID, "committed", codes, "payer", payer.ID, "payee", payee.ID,
		"amount", record.Amount.String(), "error", cause)
	if e.store != nil {
		if err := e.store.AddReconciliation(record.TransactionID); err != nil {
			e.logger.Errorw("Recording transaction for reconciliation failed.", "transaction", record.TransactionID, "error", err)
		}
	}
	// balances stay mutated and the committed blocks are real, persist them as they are
	e.snapshot(record.TransactionID, []entities.Account{*payer, *payee}, committed)

	return &entities.InconsistentStateError{TransactionID: record.TransactionID, Committed: codes, Cause: cause}
}

func (e *Engine) snapshot(transactionID string, accounts []entities.Account, blocks map[string]ledger.Block) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveTransaction(accounts, blocks); err != nil {
		e.logger.Errorw("Saving transaction snapshot failed.", "transaction", transactionID, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, record entities.TransactionRecord) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.publishTimeout)
	defer cancel()
	if err := e.publisher.PublishTransaction(ctx, record); err != nil {
		e.metrics.IncPublishFailures()
		e.logger.Warnw("Publishing transaction failed.", "transaction", record.TransactionID, "error", err)
	}
}

// lockInstitutions write-locks the given institutions in ascending code order.
func (e *Engine) lockInstitutions(codes ...string) (func(), error) {
	unique := make([]string, 0, len(codes))
	for _, code := range codes {
		if _, ok := e.ledgers[code]; !ok {
			return nil, errors.Errorf("no ledger for institution [%s]", code)
		}
		if !slices.Contains(unique, code) {
			unique = append(unique, code)
		}
	}
	sort.Strings(unique)

	for _, code := range unique {
		e.ledgers[code].mu.Lock()
	}
	return func() {
		for i := len(unique) - 1; i >= 0; i-- {
			e.ledgers[unique[i]].mu.Unlock()
		}
	}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, entities.ErrNotFound):
		return "not_found"
	case errors.Is(err, entities.ErrAuthentication):
		return "authentication"
	case errors.Is(err, entities.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, entities.ErrValidation):
		return "validation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
