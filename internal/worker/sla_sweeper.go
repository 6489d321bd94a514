package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/observability"
	"github.com/sapphire/support-core/internal/service"
)

// BreachChecker is the part of the SLA service the sweep needs.
type BreachChecker interface {
	ListOpenCases(ctx context.Context, afterID string, limit int) ([]*domain.Case, error)
	CheckBreaches(ctx context.Context, caseID, source string) ([]domain.EventType, error)
}

// SweepResult summarizes one pass.
type SweepResult struct {
	Checked  int
	Breaches int
	Failed   int
}

// SLASweeper periodically appends breaches for open cases nobody has read.
type SLASweeper struct {
	checker   BreachChecker
	schedule  string
	batchSize int
	cron      *cron.Cron
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	// runMu keeps a slow pass from overlapping the next tick.
	runMu sync.Mutex
}

// NewSLASweeper creates a sweeper; an empty schedule means every minute.
func NewSLASweeper(checker BreachChecker, schedule string, batchSize int, metrics *observability.Metrics, logger *zap.Logger) *SLASweeper {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLASweeper{
		checker:   checker,
		schedule:  schedule,
		batchSize: batchSize,
		cron:      cron.New(),
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "sla_sweeper")),
	}
}

// Start registers the sweep on its schedule.
func (s *SLASweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sla sweeper already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runScheduled); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("sla sweeper started",
		zap.String("schedule", s.schedule),
		zap.Int("batch_size", s.batchSize))
	return nil
}

// Stop halts scheduling; the returned context is done once a running pass finishes.
func (s *SLASweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info("stopping sla sweeper")
	return s.cron.Stop()
}

func (s *SLASweeper) runScheduled() {
	if !s.runMu.TryLock() {
		s.logger.Warn("previous sla sweep still running, skipping tick")
		return
	}
	defer s.runMu.Unlock()
	_, _ = s.sweep(context.Background())
}

// RunNow runs one pass synchronously.
func (s *SLASweeper) RunNow(ctx context.Context) (SweepResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.sweep(ctx)
}

func (s *SLASweeper) sweep(ctx context.Context) (SweepResult, error) {
	started := time.Now()
	var result SweepResult
	afterID := ""

	for {
		if err := ctx.Err(); err != nil {
			s.finish(started, result, err)
			return result, err
		}

		page, err := s.checker.ListOpenCases(ctx, afterID, s.batchSize)
		if err != nil {
			s.logger.Error("listing open cases failed", zap.String("after_id", afterID), zap.Error(err))
			s.finish(started, result, err)
			return result, err
		}

		for _, c := range page {
			result.Checked++
			appended, err := s.checker.CheckBreaches(ctx, c.ID, service.BreachSourceSweep)
			if err != nil {
				result.Failed++
				s.logger.Warn("sla check failed",
					zap.String("case_id", c.ID),
					zap.String("tenant_id", c.TenantID),
					zap.Error(err))
				continue
			}
			result.Breaches += len(appended)
		}

		if len(page) < s.batchSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	s.finish(started, result, nil)
	return result, nil
}

func (s *SLASweeper) finish(started time.Time, result SweepResult, err error) {
	duration := time.Since(started)
	s.metrics.RecordSweep(duration, result.Checked, result.Failed, err)
	if err != nil {
		return
	}
	s.logger.Info("sla sweep completed",
		zap.Int("checked", result.Checked),
		zap.Int("breaches", result.Breaches),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", duration))
}
