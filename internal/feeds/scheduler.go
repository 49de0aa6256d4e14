package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RunResult summarizes one global refresh.
type RunResult struct {
	Started     bool // false when another run was already in flight
	FeedsDue    int
	FeedsFailed int
	NewArticles int
}

// Scheduler refreshes due feeds. At most one run is active at a time; a run
// requested while another is in flight is skipped, not queued.
type Scheduler struct {
	fetcher *Fetcher
	store   Store
	logger  *zap.Logger
	now     func() time.Time

	running sync.Mutex // held for the duration of one run

	ctx    context.Context // cancelled by Stop
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler creates a scheduler driving fetcher.
func NewScheduler(fetcher *Fetcher, store Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		fetcher: fetcher,
		store:   store,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RunDue fetches every feed that is due. It returns immediately with
// Started=false when a run is already in progress.
func (s *Scheduler) RunDue(ctx context.Context) (RunResult, error) {
	if !s.running.TryLock() {
		s.logger.Debug("feed refresh already running, skipping")
		return RunResult{}, nil
	}
	defer s.running.Unlock()
	return s.run(ctx)
}

// Trigger starts a run in the background and reports whether one was
// started. Used by the manual refresh endpoint.
func (s *Scheduler) Trigger() bool {
	if !s.running.TryLock() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Unlock()
		if _, err := s.run(s.ctx); err != nil {
			s.logger.Error("feed refresh failed", zap.Error(err))
		}
	}()
	return true
}

func (s *Scheduler) run(ctx context.Context) (res RunResult, err error) {
	res.Started = true
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("feed refresh panicked: %v", p)
		}
	}()

	feeds, err := s.store.ListFeeds()
	if err != nil {
		return res, fmt.Errorf("failed to get feeds: %w", err)
	}

	now := s.now()
	for _, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		if !feed.Due(now) {
			continue
		}
		res.FeedsDue++

		stored, err := s.fetcher.FetchOne(ctx, feed)
		if err != nil {
			res.FeedsFailed++
			s.logger.Warn("failed to fetch feed", zap.String("feed_url", feed.URL), zap.Error(err))
			continue
		}
		res.NewArticles += stored
	}

	s.logger.Info("feed refresh complete",
		zap.Int("due", res.FeedsDue),
		zap.Int("failed", res.FeedsFailed),
		zap.Int("new_articles", res.NewArticles))
	return res, nil
}

// Start runs one refresh immediately, then on spec (a cron expression such
// as "@every 60m").
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunDue(s.ctx); err != nil {
			s.logger.Error("scheduled feed refresh failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("adding cron entry %q: %w", spec, err)
	}

	s.cron = c
	c.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunDue(s.ctx); err != nil {
			s.logger.Error("initial feed refresh failed", zap.Error(err))
		}
	}()

	s.logger.Info("feed scheduler started", zap.String("schedule", spec))
	return nil
}

// Stop halts the cron trigger, cancels an in-flight run and waits for it.
// The scheduler cannot be restarted afterwards.
func (s *Scheduler) Stop() {
	s.cancel()

	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
}

// ScheduleSpec builds the cron expression for the global trigger.
func ScheduleSpec(configured string, intervalMinutes int) string {
	if configured != "" {
		return configured
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	return fmt.Sprintf("@every %dm", intervalMinutes)
}
