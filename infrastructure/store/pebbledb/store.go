package pebbledb

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/paynet/bank-gateway/business/domain/ledger"
	"github.com/paynet/bank-gateway/entities"
	"github.com/paynet/bank-gateway/util"
	"github.com/pkg/errors"
)

var ErrNotFound = fmt.Errorf("store resource %w", entities.ErrNotFound)

const (
	blockKeyPrefix          = 0x01
	accountKeyPrefix        = 0x02
	reconciliationKeyPrefix = 0x03
)

const institutionSeparator = 0x00

type PebbleStore struct {
	db                 *pebble.DB
	reconciliationLock sync.Mutex // read-modify-write of the reconciliation set
}

func NewPebbleStore(storeDir string) (*PebbleStore, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "bank-server-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &PebbleStore{db: db}, nil
}

// blockKey is prefix | institution | 0x00 | big endian index, so that blocks of one
// institution iterate in index order.
func blockKey(institution string, index uint64) []byte {
	key := institutionBlocksPrefix(institution)
	return binary.BigEndian.AppendUint64(key, index)
}

func institutionBlocksPrefix(institution string) []byte {
	key := []byte{blockKeyPrefix}
	key = append(key, institution...)
	return append(key, institutionSeparator)
}

func accountKey(id string) []byte {
	return append([]byte{accountKeyPrefix}, id...)
}

func (ps *PebbleStore) SaveAccount(account entities.Account) error {
	batch := ps.db.NewBatch()
	defer batch.Close()

	if err := setAccount(batch, account); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrapf(err, "committing account [%s]", account.ID)
	}
	return nil
}

// SaveChain writes all given blocks of one institution. Used to persist a freshly created chain.
func (ps *PebbleStore) SaveChain(institution string, blocks []ledger.Block) error {
	batch := ps.db.NewBatch()
	defer batch.Close()

	for _, b := range blocks {
		if err := setBlock(batch, institution, b); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrapf(err, "committing chain of [%s]", institution)
	}
	return nil
}

// SaveTransaction writes the touched accounts and the new block per institution atomically.
func (ps *PebbleStore) SaveTransaction(accounts []entities.Account, blocks map[string]ledger.Block) error {
	batch := ps.db.NewBatch()
	defer batch.Close()

	for _, account := range accounts {
		if err := setAccount(batch, account); err != nil {
			return err
		}
	}
	for institution, b := range blocks {
		if err := setBlock(batch, institution, b); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "committing transaction batch")
	}
	return nil
}

func setAccount(batch *pebble.Batch, account entities.Account) error {
	value, err := json.Marshal(account)
	if err != nil {
		return errors.Wrapf(err, "serializing account [%s]", account.ID)
	}
	if err = batch.Set(accountKey(account.ID), value, nil); err != nil {
		return errors.Wrapf(err, "setting account [%s]", account.ID)
	}
	return nil
}

func setBlock(batch *pebble.Batch, institution string, b ledger.Block) error {
	value, err := json.Marshal(b)
	if err != nil {
		return errors.Wrapf(err, "serializing block [%d] of [%s]", b.Index, institution)
	}
	if err = batch.Set(blockKey(institution, b.Index), value, nil); err != nil {
		return errors.Wrapf(err, "setting block [%d] of [%s]", b.Index, institution)
	}
	return nil
}

func (ps *PebbleStore) LoadAccounts() ([]entities.Account, error) {
	iter, err := ps.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{accountKeyPrefix},
		UpperBound: []byte{accountKeyPrefix + 1},
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating iterator")
	}
	defer iter.Close()

	accounts := make([]entities.Account, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, errors.Wrap(err, "getting value from iter")
		}

		var account entities.Account
		if err = json.Unmarshal(value, &account); err != nil {
			return nil, errors.Wrapf(err, "deserializing account [%s]", iter.Key()[1:])
		}
		accounts = append(accounts, account)
	}

	return accounts, nil
}

// LoadChain returns the persisted blocks of the institution in index order. Returns ErrNotFound
// if nothing was stored for it yet.
func (ps *PebbleStore) LoadChain(institution string) ([]ledger.Block, error) {
	upperBound := append([]byte{blockKeyPrefix}, institution...)
	upperBound = append(upperBound, institutionSeparator+1)

	iter, err := ps.db.NewIter(&pebble.IterOptions{
		LowerBound: institutionBlocksPrefix(institution),
		UpperBound: upperBound,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating iterator")
	}
	defer iter.Close()

	var blocks []ledger.Block
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, errors.Wrap(err, "getting value from iter")
		}

		var b ledger.Block
		if err = json.Unmarshal(value, &b); err != nil {
			return nil, errors.Wrapf(err, "deserializing block of [%s]", institution)
		}
		blocks = append(blocks, b)
	}

	if len(blocks) == 0 {
		return nil, ErrNotFound
	}
	return blocks, nil
}

// AddReconciliation records a transaction that was left partially posted.
func (ps *PebbleStore) AddReconciliation(transactionID string) error {
	ps.reconciliationLock.Lock()
	defer ps.reconciliationLock.Unlock()

	flagged, err := ps.loadReconciliationSet()
	if err != nil {
		return errors.Wrap(err, "getting reconciliation set")
	}
	util.AddToSet(flagged, transactionID)
	err = ps.saveReconciliationSet(flagged)
	if err != nil {
		return errors.Wrap(err, "saving reconciliation set")
	}
	return nil
}

func (ps *PebbleStore) GetReconciliation() ([]string, error) {
	flagged, err := ps.loadReconciliationSet()
	if err != nil {
		return nil, errors.Wrap(err, "getting reconciliation set")
	}
	return util.SortedMembers(flagged), nil
}

func (ps *PebbleStore) saveReconciliationSet(set map[string]bool) error {
	buffer := new(bytes.Buffer)
	err := gob.NewEncoder(buffer).Encode(set)
	if err != nil {
		return errors.Wrap(err, "encoding set")
	}

	err = ps.db.Set([]byte{reconciliationKeyPrefix}, buffer.Bytes(), pebble.Sync)
	if err != nil {
		return errors.Wrap(err, "saving set")
	}
	return nil
}

func (ps *PebbleStore) loadReconciliationSet() (map[string]bool, error) {
	value, closer, err := ps.db.Get([]byte{reconciliationKeyPrefix})
	if errors.Is(err, pebble.ErrNotFound) {
		return util.NewSet(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting reconciliation set")
	}
	defer closer.Close()

	var flagged map[string]bool
	err = gob.NewDecoder(bytes.NewReader(value)).Decode(&flagged)
	if err != nil {
		return nil, errors.Wrap(err, "deserializing reconciliation set")
	}
	if flagged == nil {
		flagged = util.NewSet()
	}
	return flagged, nil
}

func (ps *PebbleStore) Close() error {
	return ps.db.Close()
}
