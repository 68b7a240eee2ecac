package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/repository"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/saga"
)

// Recoverer redrives one stalled transaction. Implemented by the saga
// coordinator so redispatch stays serialized with result handling.
type Recoverer interface {
	Recover(ctx context.Context, transactionID string, maxStepRetries int) error
}

// Config holds sweeper tuning.
type Config struct {
	// Interval between scans.
	Interval time.Duration
	// StepTimeout is how long a transaction may sit without an update before
	// its current step is considered stuck.
	StepTimeout time.Duration
	// MaxStepRetries bounds dispatch attempts per step across original
	// dispatch and sweeper redispatches.
	MaxStepRetries int
}

// Sweeper periodically scans for transactions stuck past the step timeout
// and hands them to the coordinator for redispatch or escalation.
type Sweeper struct {
	repo      repository.TransactionRepository
	recoverer Recoverer
	cfg       Config
	logger    *slog.Logger
}

// New creates a recovery sweeper.
func New(repo repository.TransactionRepository, recoverer Recoverer, cfg Config, log *slog.Logger) *Sweeper {
	return &Sweeper{
		repo:      repo,
		recoverer: recoverer,
		cfg:       cfg,
		logger:    log,
	}
}

// Run scans on a fixed interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("recovery sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("step_timeout", s.cfg.StepTimeout),
		slog.Int("max_step_retries", s.cfg.MaxStepRetries),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("recovery sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one scan. Exported so a single pass can be triggered
// directly, e.g. at startup to recover transactions orphaned by a crash.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := saga.StalenessCutoff(time.Now().UTC(), s.cfg.StepTimeout)

	stalled, err := s.repo.ListStalled(ctx, cutoff, saga.ActiveStatuses)
	if err != nil {
		s.logger.Error("sweeper scan failed", slog.String("error", err.Error()))
		return
	}
	if len(stalled) == 0 {
		return
	}

	s.logger.Info("sweeping stalled transactions", slog.Int("count", len(stalled)))

	for _, tx := range stalled {
		if ctx.Err() != nil {
			return
		}
		if err := s.recoverer.Recover(ctx, tx.ID, s.cfg.MaxStepRetries); err != nil {
			s.logger.Error("recovery failed",
				slog.String("transaction_id", tx.ID),
				slog.String("status", string(tx.Status)),
				slog.String("error", err.Error()),
			)
		}
	}
}
