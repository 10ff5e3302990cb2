package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"storyloom/internal/domain"
	"storyloom/internal/infra"
	"storyloom/internal/storage"
)

// Config defines the retention policy for working folders.
type Config struct {
	Enabled  bool
	TTL      time.Duration
	Interval time.Duration
}

// DefaultConfig returns the stock policy: expire working folders a day after
// creation, checking every hour.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		TTL:      24 * time.Hour,
		Interval: time.Hour,
	}
}

// Sweeper deletes expired job folders from the working area on a fixed
// interval. The saved area is never examined, let alone swept. Age comes from
// the sidecar creation timestamp; folders whose sidecar is missing or
// unreadable fall back to the directory mtime and are flagged as degraded.
type Sweeper struct {
	config  Config
	store   *storage.FileStore
	metrics *infra.Metrics
	logger  infra.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// Result is the outcome of a single sweep pass.
type Result struct {
	Examined int
	Deleted  int
	Errors   int
	Degraded int
}

// Stats accumulates sweep outcomes across the sweeper's lifetime.
type Stats struct {
	LastSweepTime     time.Time
	LastSweepDuration time.Duration
	LastResult        Result
	TotalDeleted      int64
	TotalErrors       int64
}

// NewSweeper creates a sweeper over the store's working area.
func NewSweeper(config Config, store *storage.FileStore, metrics *infra.Metrics, logger infra.Logger) *Sweeper {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		config:  config,
		store:   store,
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the periodic sweep loop. A disabled sweeper logs and stays
// idle so Stop remains safe to call either way.
func (s *Sweeper) Start() {
	if !s.config.Enabled {
		s.logger.Info().Msg("sweeper: disabled")
		return
	}
	s.logger.Info().
		Dur("ttl", s.config.TTL).
		Dur("interval", s.config.Interval).
		Msg("sweeper: starting")
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("sweeper: stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.SweepOnce(s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(s.ctx)
		}
	}
}

// SweepOnce runs a single pass over the working area. A folder that cannot be
// assessed or deleted is logged and skipped; the pass always reaches the end
// of the listing.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	started := time.Now()
	cutoff := started.Add(-s.config.TTL)
	var res Result

	folders, err := s.store.JobFolders(ctx, storage.AreaWorking)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: cannot list working area")
		s.metrics.SweepError()
		res.Errors++
		s.record(started, res)
		return res
	}

	for _, folder := range folders {
		if ctx.Err() != nil {
			break
		}
		res.Examined++
		createdAt, degraded, err := s.folderAge(ctx, folder)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", folder.ID).Msg("sweeper: skipping folder")
			s.metrics.SweepError()
			res.Errors++
			continue
		}
		if degraded {
			s.logger.Warn().Str("job_id", folder.ID).Msg("sweeper: no usable creation timestamp, using folder mtime")
			res.Degraded++
		}
		if !createdAt.Before(cutoff) {
			continue
		}
		if err := s.store.DeleteJobFolder(ctx, folder.ID, storage.AreaWorking); err != nil {
			s.logger.Warn().Err(err).Str("job_id", folder.ID).Msg("sweeper: delete failed")
			s.metrics.SweepError()
			res.Errors++
			continue
		}
		s.logger.Info().Str("job_id", folder.ID).Time("created_at", createdAt).Msg("sweeper: expired folder deleted")
		res.Deleted++
	}

	s.metrics.SweepDeleted(res.Deleted)
	s.record(started, res)
	s.logger.Info().
		Int("examined", res.Examined).
		Int("deleted", res.Deleted).
		Int("errors", res.Errors).
		Int("degraded", res.Degraded).
		Dur("took", time.Since(started)).
		Msg("sweeper: pass complete")
	return res
}

// folderAge determines the retention reference time for one folder.
func (s *Sweeper) folderAge(ctx context.Context, folder storage.JobFolder) (createdAt time.Time, degraded bool, err error) {
	meta, err := s.store.Metadata(ctx, folder.ID, storage.AreaWorking)
	if err != nil {
		if errors.Is(err, domain.ErrMalformed) || errors.Is(err, domain.ErrNotFound) {
			return folder.ModTime, true, nil
		}
		return time.Time{}, false, err
	}
	if ts, ok := storage.CreatedAtFrom(meta); ok {
		return ts, false, nil
	}
	return folder.ModTime, true, nil
}

func (s *Sweeper) record(started time.Time, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.LastSweepTime = started
	s.stats.LastSweepDuration = time.Since(started)
	s.stats.LastResult = res
	s.stats.TotalDeleted += int64(res.Deleted)
	s.stats.TotalErrors += int64(res.Errors)
}

// GetStats returns a copy of the cumulative sweep statistics.
func (s *Sweeper) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
