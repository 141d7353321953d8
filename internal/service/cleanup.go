package service

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/curation"
	"github.com/entrained/engram-service/internal/metrics"
	"github.com/entrained/engram-service/internal/model"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
)

// CleanupOptions tunes the cleanup scheduler's cadence and thresholds.
type CleanupOptions struct {
	DailyInterval   time.Duration
	WeeklyInterval  time.Duration
	MonthlyInterval time.Duration

	ConsolidationThreshold      int
	ConsolidationSuggestionTTL  time.Duration
	ConsolidationScanBatchLimit int

	UnusedAccessAge          time.Duration
	UnusedAccessCountCeiling int
	UnusedNeverAccessedAge   time.Duration
}

// CleanupScheduler runs the periodic maintenance jobs: daily expiry of
// memories past retention, weekly consolidation-opportunity scans, and a
// monthly comprehensive pass. Each job is non-reentrant; if a run is still in
// progress when its tick fires, the tick is skipped.
type CleanupScheduler struct {
	store   registrystore.MemoryStore
	curator *curation.Curator
	opts    CleanupOptions

	dailyMu   sync.Mutex
	weeklyMu  sync.Mutex
	monthlyMu sync.Mutex
}

// NewCleanupScheduler creates a cleanup scheduler. Zero intervals fall back
// to daily/weekly/monthly defaults.
func NewCleanupScheduler(store registrystore.MemoryStore, curator *curation.Curator, opts CleanupOptions) *CleanupScheduler {
	if opts.DailyInterval <= 0 {
		opts.DailyInterval = 24 * time.Hour
	}
	if opts.WeeklyInterval <= 0 {
		opts.WeeklyInterval = 7 * 24 * time.Hour
	}
	if opts.MonthlyInterval <= 0 {
		opts.MonthlyInterval = 30 * 24 * time.Hour
	}
	if opts.ConsolidationScanBatchLimit <= 0 {
		opts.ConsolidationScanBatchLimit = 50
	}
	return &CleanupScheduler{store: store, curator: curator, opts: opts}
}

// Start begins the periodic cleanup loops. Returns when ctx is cancelled.
func (s *CleanupScheduler) Start(ctx context.Context) {
	daily := time.NewTicker(s.opts.DailyInterval)
	weekly := time.NewTicker(s.opts.WeeklyInterval)
	monthly := time.NewTicker(s.opts.MonthlyInterval)
	defer daily.Stop()
	defer weekly.Stop()
	defer monthly.Stop()

	log.Info("Cleanup scheduler started",
		"daily", s.opts.DailyInterval,
		"weekly", s.opts.WeeklyInterval,
		"monthly", s.opts.MonthlyInterval)

	for {
		select {
		case <-ctx.Done():
			log.Info("Cleanup scheduler stopped")
			return
		case <-daily.C:
			s.RunDaily(ctx)
		case <-weekly.C:
			s.RunWeekly(ctx)
		case <-monthly.C:
			s.RunMonthly(ctx)
		}
	}
}

func observeRun(job string, err error) {
	if metrics.CleanupRunsTotal == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CleanupRunsTotal.WithLabelValues(job, outcome).Inc()
}

// RunDaily deletes memories whose retention expiry has passed.
func (s *CleanupScheduler) RunDaily(ctx context.Context) {
	if !s.dailyMu.TryLock() {
		log.Warn("Cleanup: daily run still in progress, skipping")
		return
	}
	defer s.dailyMu.Unlock()

	err := s.expireMemories(ctx)
	observeRun("daily", err)
}

func (s *CleanupScheduler) expireMemories(ctx context.Context) error {
	log.Info("Cleanup: starting expired memory sweep")
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		log.Error("Cleanup: list memories failed", "err", err)
		return err
	}

	now := time.Now().UTC()
	removed := 0
	for _, id := range ids {
		stats, err := s.store.Stats(ctx, id)
		if err != nil {
			// Deleted mid-scan or unreadable; move on.
			continue
		}
		if stats.ExpiresAt == nil || !stats.ExpiresAt.Before(now) {
			continue
		}
		if err := s.store.Delete(ctx, id); err != nil {
			log.Error("Cleanup: expired memory delete failed", "memory", id, "err", err)
			continue
		}
		removed++
	}
	log.Info("Cleanup: expired memory sweep completed", "removed", removed, "scanned", len(ids))
	return nil
}

// RunWeekly scans each entity's memories for consolidation opportunities and
// persists the suggestions for review. Suggestions are never applied
// automatically.
func (s *CleanupScheduler) RunWeekly(ctx context.Context) {
	if !s.weeklyMu.TryLock() {
		log.Warn("Cleanup: weekly run still in progress, skipping")
		return
	}
	defer s.weeklyMu.Unlock()

	err := s.scanConsolidation(ctx)
	observeRun("weekly", err)
}

func (s *CleanupScheduler) scanConsolidation(ctx context.Context) error {
	log.Info("Cleanup: starting consolidation opportunity scan")
	entities, err := s.store.EntityIDs(ctx)
	if err != nil {
		log.Error("Cleanup: list entities failed", "err", err)
		return err
	}

	var suggestions []model.CleanupAction
	for _, entity := range entities {
		ids, err := s.store.EntityMemoryIDs(ctx, entity)
		if err != nil {
			log.Warn("Cleanup: entity memory listing failed", "entity", entity, "err", err)
			continue
		}
		if len(ids) > s.opts.ConsolidationScanBatchLimit {
			ids = ids[:s.opts.ConsolidationScanBatchLimit]
		}

		var stats []*registrystore.MemoryStats
		for _, id := range ids {
			st, err := s.store.Stats(ctx, id)
			if err != nil {
				continue
			}
			stats = append(stats, st)
		}
		if len(stats) <= 10 {
			continue
		}

		for _, action := range s.curator.SuggestCleanupActions(stats, s.opts.ConsolidationThreshold) {
			if action.Type != model.CleanupConsolidate {
				continue
			}
			suggestions = append(suggestions, action)
		}
	}

	if len(suggestions) == 0 {
		log.Info("Cleanup: no consolidation opportunities found")
		return nil
	}

	date := time.Now().UTC().Format("20060102")
	if err := s.store.PutCleanupSuggestions(ctx, date, suggestions, s.opts.ConsolidationSuggestionTTL); err != nil {
		log.Error("Cleanup: persisting consolidation suggestions failed", "err", err)
		return err
	}
	log.Info("Cleanup: consolidation opportunities recorded", "count", len(suggestions), "date", date)
	return nil
}

// RunMonthly performs the comprehensive pass: expiry sweep, access-statistics
// flagging, orphaned-reference removal, and an index maintenance touch.
func (s *CleanupScheduler) RunMonthly(ctx context.Context) {
	if !s.monthlyMu.TryLock() {
		log.Warn("Cleanup: monthly run still in progress, skipping")
		return
	}
	defer s.monthlyMu.Unlock()

	log.Info("Cleanup: starting comprehensive monthly pass")

	err := s.expireMemories(ctx)

	if ferr := s.flagUnusedMemories(ctx); ferr != nil && err == nil {
		err = ferr
	}

	if removed, oerr := s.store.CleanOrphanRefs(ctx); oerr != nil {
		log.Error("Cleanup: orphaned reference removal failed", "err", oerr)
		if err == nil {
			err = oerr
		}
	} else {
		log.Info("Cleanup: orphaned references removed", "count", removed)
	}

	if terr := s.store.MaintenanceTouch(ctx); terr != nil {
		log.Warn("Cleanup: index maintenance touch failed", "err", terr)
	}

	observeRun("monthly", err)
	log.Info("Cleanup: comprehensive monthly pass completed")
}

// flagUnusedMemories marks memories with stale or absent access activity so
// retention tooling can review them. Nothing is deleted here.
func (s *CleanupScheduler) flagUnusedMemories(ctx context.Context) error {
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		log.Error("Cleanup: list memories failed", "err", err)
		return err
	}

	now := time.Now().UTC()
	flagged := 0
	for _, id := range ids {
		stats, err := s.store.Stats(ctx, id)
		if err != nil {
			continue
		}

		unused := false
		if stats.LastAccessed != nil {
			sinceAccess := now.Sub(*stats.LastAccessed)
			unused = sinceAccess > s.opts.UnusedAccessAge && stats.AccessCount < s.opts.UnusedAccessCountCeiling
		} else if !stats.CreatedAt.IsZero() {
			sinceCreation := now.Sub(stats.CreatedAt)
			unused = sinceCreation > s.opts.UnusedNeverAccessedAge && stats.AccessCount == 0
		}
		if !unused {
			continue
		}

		if err := s.store.MarkPotentiallyUnused(ctx, id); err != nil {
			log.Warn("Cleanup: flagging unused memory failed", "memory", id, "err", err)
			continue
		}
		flagged++
	}
	log.Info("Cleanup: access statistics updated", "potentiallyUnused", flagged)
	return nil
}
