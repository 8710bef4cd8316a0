// Package diagnostics contains illustrative hooks that sit outside the transaction trust
// boundary. Nothing here influences whether a transaction is executed.
package diagnostics

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	MinDelay           time.Duration
	MaxDelay           time.Duration
	SuccessProbability float64
}

type Outcome struct {
	Success    bool
	Confidence int // percent, only set on success
}

// QuantumAttack simulates an attack on a payer credential: it waits a random delay and then
// flips a weighted coin. The credential itself is never logged.
type QuantumAttack struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuantumAttack(cfg Config, logger *zap.SugaredLogger, source rand.Source) *QuantumAttack {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if source == nil {
		source = rand.NewPCG(uint64(time.Now().UnixNano()), 0)
	}
	return &QuantumAttack{cfg: cfg, logger: logger, rnd: rand.New(source)}
}

func (q *QuantumAttack) Simulate(ctx context.Context, pin, userID string) (Outcome, error) {
	q.mu.Lock()
	delay := q.cfg.MinDelay
	if spread := q.cfg.MaxDelay - q.cfg.MinDelay; spread > 0 {
		delay += time.Duration(q.rnd.Int64N(int64(spread) + 1))
	}
	outcome := Outcome{Success: q.rnd.Float64() < q.cfg.SuccessProbability}
	if outcome.Success {
		outcome.Confidence = 70 + q.rnd.IntN(30)
	}
	q.mu.Unlock()

	q.logger.Infow("Simulating quantum attack on payer credential.", "user", userID, "pinLength", len(pin), "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Outcome{}, errors.Wrap(ctx.Err(), "quantum attack simulation")
	case <-timer.C:
	}

	if outcome.Success {
		q.logger.Warnw("Quantum attack simulation recovered the credential.", "user", userID, "confidence", outcome.Confidence)
	} else {
		q.logger.Infow("Quantum attack simulation failed to recover the credential.", "user", userID)
	}
	return outcome, nil
}
