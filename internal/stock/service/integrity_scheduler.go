package service

import (
	"context"
	"time"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/pkg/actor"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
)

// IntegrityChecker runs one integrity pass
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) (*domain.IntegrityReport, error)
}

// IntegrityScheduler runs the ledger integrity check periodically
type IntegrityScheduler struct {
	checker  IntegrityChecker
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewIntegrityScheduler creates a new integrity scheduler
func NewIntegrityScheduler(checker IntegrityChecker, interval time.Duration, log *logger.Logger) *IntegrityScheduler {
	return &IntegrityScheduler{
		checker:  checker,
		interval: interval,
		logger:   log.WithComponent("integrity-scheduler"),
	}
}

// Start starts the scheduler in a background goroutine.
// It runs one check immediately and then one per interval.
func (s *IntegrityScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(actor.WithActor(ctx, actor.SystemActor()))
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("integrity scheduler started")

		s.runCheck(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("integrity scheduler stopped")
				return
			case <-ticker.C:
				s.runCheck(ctx)
			}
		}
	}()
}

// Stop stops the scheduler and waits for a running check to return
func (s *IntegrityScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *IntegrityScheduler) runCheck(ctx context.Context) {
	start := time.Now()

	report, err := s.checker.CheckIntegrity(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("integrity check failed")
		}
		return
	}

	s.logger.Debug().
		Dur("duration", time.Since(start)).
		Bool("clean", report.Clean()).
		Msg("integrity cycle completed")
}
