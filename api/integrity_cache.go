package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
)

const integrityKey = "integrity"

type LedgerVerifier interface {
	VerifyLedgers(ctx context.Context) (map[string]error, error)
}

// IntegrityReport is the outcome of one verification run. Failures maps institutions with a
// broken ledger to the failure description.
type IntegrityReport struct {
	CheckedAt time.Time
	Failures  map[string]string
}

func (r *IntegrityReport) Intact(institution string) bool {
	_, failed := r.Failures[institution]
	return !failed
}

func (r *IntegrityReport) FailedInstitutions() []string {
	codes := make([]string, 0, len(r.Failures))
	for code := range r.Failures {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// IntegrityCache keeps the last verification result so that status requests do not rehash
// every ledger.
type IntegrityCache struct {
	verifier LedgerVerifier
	cache    *ttlcache.Cache[string, *IntegrityReport]
	lock     sync.Mutex
	now      func() time.Time
}

func NewIntegrityCache(verifier LedgerVerifier, cache *ttlcache.Cache[string, *IntegrityReport]) *IntegrityCache {
	return &IntegrityCache{verifier: verifier, cache: cache, now: time.Now}
}

// NewReportCache creates a cache whose entries expire ttl after they were stored.
func NewReportCache(ttl time.Duration) *ttlcache.Cache[string, *IntegrityReport] {
	return ttlcache.New[string, *IntegrityReport](
		ttlcache.WithTTL[string, *IntegrityReport](ttl),
		ttlcache.WithDisableTouchOnHit[string, *IntegrityReport](),
	)
}

func (c *IntegrityCache) Report(ctx context.Context) (*IntegrityReport, error) {
	c.lock.Lock() // one verification run at a time
	defer c.lock.Unlock()

	item := c.cache.Get(integrityKey)
	if item != nil {
		return item.Value(), nil
	}

	results, err := c.verifier.VerifyLedgers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "verifying ledgers")
	}
	report := &IntegrityReport{CheckedAt: c.now().UTC(), Failures: make(map[string]string)}
	for code, verifyErr := range results {
		if verifyErr != nil {
			report.Failures[code] = verifyErr.Error()
		}
	}
	c.cache.Set(integrityKey, report, ttlcache.DefaultTTL)
	return report, nil
}

// Invalidate forces the next Report to verify again.
func (c *IntegrityCache) Invalidate() {
	c.cache.Delete(integrityKey)
}
