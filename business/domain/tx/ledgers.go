package tx

import (
	"context"
	"sort"
	"sync"

	"github.com/paynet/bank-gateway/business/domain/ledger"
	"github.com/paynet/bank-gateway/entities"
	"github.com/paynet/bank-gateway/util"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// History lists transactions across institutions for operators. A record posted on two
// ledgers is listed once, attributed to the first institution in code order. Newest first.
func (e *Engine) History(filter entities.HistoryFilter) ([]entities.HistoryEntry, error) {
	codes := e.codes
	if filter.Institution != "" {
		if _, err := e.ledger(filter.Institution); err != nil {
			return nil, err
		}
		codes = []string{filter.Institution}
	}

	seen := util.NewSet()
	entries := make([]entities.HistoryEntry, 0)
	for _, code := range codes {
		chain := e.ledgers[code].current()

		var records []entities.TransactionRecord
		switch {
		case filter.PayerID != "":
			records = chain.TransactionsByPayer(filter.PayerID)
		case filter.PayeeID != "":
			records = chain.TransactionsByPayee(filter.PayeeID)
		default:
			records = chain.Transactions()
		}

		for _, r := range records {
			if util.AddIfAbsent(seen, r.TransactionID) {
				entries = append(entries, entities.HistoryEntry{TransactionRecord: r, Institution: code})
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	return entries, nil
}

// VerifyLedgers checks every ledger in parallel. The returned map holds the verification
// result per institution, nil for intact ledgers. Failures are reported, never repaired.
func (e *Engine) VerifyLedgers(ctx context.Context) (map[string]error, error) {
	var mu sync.Mutex
	results := make(map[string]error, len(e.codes))

	var errorGroup errgroup.Group
	for _, code := range e.codes {
		chain := e.ledgers[code].current()
		errorGroup.Go(func() error {
			if err := ctx.Err(); err != nil {
				return errors.Wrapf(err, "verifying ledger [%s]", code)
			}
			err := chain.Verify()
			if err != nil {
				e.reportIntegrityFailure(code, err)
			}
			mu.Lock()
			results[code] = err
			mu.Unlock()
			return nil
		})
	}
	if err := errorGroup.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) reportIntegrityFailure(code string, err error) {
	e.metrics.IncIntegrityFailures(code)
	var integrityErr *entities.IntegrityError
	if errors.As(err, &integrityErr) {
		e.logger.Errorw("Ledger integrity check failed.", "institution", code, "index", integrityErr.Index, "reason", integrityErr.Reason)
		return
	}
	e.logger.Errorw("Ledger integrity check failed.", "institution", code, "error", err)
}

func (e *Engine) LedgerHeights() map[string]int {
	heights := make(map[string]int, len(e.codes))
	for _, code := range e.codes {
		heights[code] = e.ledgers[code].current().Len()
	}
	return heights
}

func (e *Engine) Institutions() []string {
	return append([]string(nil), e.codes...)
}

// Blocks returns a copy of the institution's ledger including genesis.
func (e *Engine) Blocks(institution string) ([]ledger.Block, error) {
	l, err := e.ledger(institution)
	if err != nil {
		return nil, err
	}
	return l.current().Blocks(), nil
}

// Load replaces the in-memory state with the persisted snapshot and verifies every restored
// ledger. Institutions without a persisted ledger keep their fresh chain, which gets persisted.
// Integrity failures are logged and counted; they do not prevent startup.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	e.registryLock.Lock()
	defer e.registryLock.Unlock()
	unlock, err := e.lockInstitutions(e.codes...)
	if err != nil {
		return err
	}
	defer unlock()

	accounts, err := e.store.LoadAccounts()
	if err != nil {
		return errors.Wrap(err, "loading accounts")
	}
	if err = e.registry.Restore(accounts); err != nil {
		return errors.Wrap(err, "restoring accounts")
	}

	for _, code := range e.codes {
		if err = ctx.Err(); err != nil {
			return errors.Wrap(err, "loading ledgers")
		}

		l := e.ledgers[code]
		blocks, err := e.store.LoadChain(code)
		if errors.Is(err, entities.ErrNotFound) {
			if err = e.store.SaveChain(code, l.chain.Blocks()); err != nil {
				return errors.Wrapf(err, "saving new ledger [%s]", code)
			}
			e.logger.Infow("Created ledger.", "institution", code)
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "loading ledger [%s]", code)
		}

		restored, err := ledger.Restore(code, blocks, e.now)
		if err != nil {
			return errors.Wrapf(err, "restoring ledger [%s]", code)
		}
		l.chain = restored
		e.metrics.SetLedgerHeight(code, restored.Len())

		if err = restored.Verify(); err != nil {
			e.reportIntegrityFailure(code, err)
			continue
		}
		e.logger.Infow("Restored ledger.", "institution", code, "blocks", restored.Len())
	}

	e.logger.Infow("Restored accounts.", "count", len(accounts))
	return nil
}
