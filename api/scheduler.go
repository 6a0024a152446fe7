/*
scheduler.go - Background sweep over open collections

PURPOSE:
  Post-payout status refreshes and weigh-in recomputes are best effort. If
  one fails, the collection stays stale until someone calls recompute or
  status. The sweep runs Ledger.ReconcileOpenCollections on an interval so
  stale collections converge without a human.

DESIGN:
  - One background goroutine driven by a ticker
  - Runs once immediately on Start
  - Each pass gets its own timeout so a slow store cannot pile up passes
  - The last report is kept for GET /api/admin/sweep

USAGE:
  sweeper := NewSweeper(ledger, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - harvest/settlement.go: ReconcileOpenCollections
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/harvest-ledger/harvest"
)

// Sweeper periodically reconciles every open collection.
type Sweeper struct {
	Ledger   *harvest.Ledger
	Logger   *zap.Logger
	Interval time.Duration
	Timeout  time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	lastRun time.Time
	last    harvest.SweepReport
}

func NewSweeper(ledger *harvest.Ledger, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		Ledger:   ledger,
		Logger:   logger.Named("sweeper"),
		Interval: 10 * time.Minute,
		Timeout:  time.Minute,
		Enabled:  true,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("started", zap.Duration("interval", s.Interval))
}

// Stop halts the loop and waits for an in-flight pass.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	s.RunNow(context.Background())
	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one pass and records its report.
func (s *Sweeper) RunNow(ctx context.Context) harvest.SweepReport {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	report, err := s.Ledger.ReconcileOpenCollections(ctx)
	if err != nil {
		s.Logger.Error("sweep aborted", zap.Error(err), zap.Int("checked", report.Checked))
	} else if len(report.Failed) > 0 {
		s.Logger.Warn("sweep finished with failures",
			zap.Int("checked", report.Checked),
			zap.Int("failed", len(report.Failed)),
		)
	} else {
		s.Logger.Debug("sweep finished", zap.Int("checked", report.Checked))
	}

	s.lastMu.Lock()
	s.lastRun = time.Now().UTC()
	s.last = report
	s.lastMu.Unlock()
	return report
}

type SweepDTO struct {
	LastRun *time.Time `json:"last_run,omitempty"`
	Checked int        `json:"checked"`
	Failed  int        `json:"failed"`
}

func (s *Sweeper) snapshot() SweepDTO {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	// Counts only: the sweep spans every company.
	dto := SweepDTO{Checked: s.last.Checked, Failed: len(s.last.Failed)}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		dto.LastRun = &t
	}
	return dto
}

// GetSweep returns the last sweep report.
func (s *Sweeper) GetSweep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

// TriggerSweep runs a pass now and returns its report.
func (s *Sweeper) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	s.RunNow(r.Context())
	writeJSON(w, http.StatusOK, s.snapshot())
}
