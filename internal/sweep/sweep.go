// Package sweep prunes expired revocations and fails downloads left in the
// downloading state by a process that died mid-attempt.
package sweep

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"nasmusic.dev/internal/history"
	"nasmusic.dev/internal/obs"
)

// InterruptedMessage is stored on records failed by the sweeper.
const InterruptedMessage = "download interrupted"

// Pruner deletes revocation rows whose tokens have expired.
type Pruner interface {
	PruneRevoked(ctx context.Context) (int64, error)
}

// Report is the outcome of one pass.
type Report struct {
	RevokedPruned int64
	StuckFailed   int64
}

// Sweeper runs maintenance passes over the ledger and the revocation list.
type Sweeper struct {
	tokens     Pruner
	ledger     history.Store
	stuckAfter time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// Option configures Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Sweeper. A non-positive stuckAfter disables reconciliation.
func New(tokens Pruner, ledger history.Store, stuckAfter time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		tokens:     tokens,
		ledger:     ledger,
		stuckAfter: stuckAfter,
		now:        time.Now,
		log:        obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one pass. Both steps are attempted; errors are joined.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	if s.tokens != nil {
		n, err := s.tokens.PruneRevoked(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		rep.RevokedPruned = n
		obs.AddSwept("revoked_tokens", n)
	}
	if s.ledger != nil && s.stuckAfter > 0 {
		now := s.now().UTC()
		n, err := s.ledger.FailStuck(ctx, now.Add(-s.stuckAfter), InterruptedMessage, now)
		if err != nil {
			errs = append(errs, err)
		}
		rep.StuckFailed = n
		obs.AddSwept("stuck_downloads", n)
	}
	s.log.Info("sweep complete",
		zap.Int64("revoked_pruned", rep.RevokedPruned),
		zap.Int64("stuck_failed", rep.StuckFailed),
	)
	return rep, errors.Join(errs...)
}

// Start runs a pass every interval until the returned stop function is called
// or ctx is done.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
					s.log.Error("sweep failed", zap.Error(err))
				}
			}
		}
	}()
	return cancel
}
