package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/render/controlplane"
)

// TabCloser closes a tab by id.
type TabCloser interface {
	CloseTab(ctx context.Context, tabID string) controlplane.CloseOutcome
}

// SweeperConfig controls how often and how aggressively leaked tabs are reclaimed.
type SweeperConfig struct {
	Interval     time.Duration
	Grace        time.Duration
	CloseTimeout time.Duration
}

// Sweeper periodically closes tabs that stayed in the ledger past the grace
// period. A tab leaves the ledger once the browser confirms it is gone.
type Sweeper struct {
	ledger Ledger
	closer TabCloser
	config SweeperConfig
	logger *zap.Logger

	onSweep func(closed, failed int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(l Ledger, closer TabCloser, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		ledger: l,
		closer: closer,
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnSweep registers a callback invoked after every sweep that found work.
func (s *Sweeper) OnSweep(fn func(closed, failed int)) {
	s.onSweep = fn
}

func (s *Sweeper) Start() {
	if s.config.Interval <= 0 {
		s.logger.Info("Tab sweeper disabled")
		return
	}

	s.logger.Info("Tab sweeper starting",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("grace", s.config.Grace))

	ticker := time.NewTicker(s.config.Interval)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.SweepOnce(s.ctx)
			case <-s.ctx.Done():
				s.logger.Info("Tab sweeper shutting down")
				return
			}
		}
	}()
}

func (s *Sweeper) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// SweepOnce closes every stale tab once and returns how many were reclaimed
// and how many are still open.
func (s *Sweeper) SweepOnce(ctx context.Context) (closed, failed int) {
	stale, err := s.ledger.Stale(ctx, s.config.Grace)
	if err != nil {
		s.logger.Error("Failed to list stale tabs", zap.Error(err))
		return 0, 0
	}
	if len(stale) == 0 {
		return 0, 0
	}

	for _, e := range stale {
		if ctx.Err() != nil {
			break
		}

		closeCtx, cancel := context.WithTimeout(ctx, s.config.CloseTimeout)
		outcome := s.closer.CloseTab(closeCtx, e.TabID)
		cancel()

		if !outcome.Gone() {
			failed++
			continue
		}
		if err := s.ledger.Forget(ctx, e.TabID); err != nil {
			s.logger.Warn("Failed to forget swept tab",
				zap.String("tab_id", e.TabID),
				zap.Error(err))
			failed++
			continue
		}
		closed++
		s.logger.Info("Reclaimed leaked tab",
			zap.String("tab_id", e.TabID),
			zap.String("request_id", e.RequestID),
			zap.Time("opened_at", e.OpenedAt))
	}

	if s.onSweep != nil {
		s.onSweep(closed, failed)
	}
	return closed, failed
}
