package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/aura-dx/aura/config"
	"github.com/aura-dx/aura/internal/store"
)

const retentionLockKey = "aura:retention:lock"

// RetentionScheduler prunes diagnostic runs older than the configured
// retention window. A Redis lock keeps multiple instances from pruning at
// the same moment.
type RetentionScheduler struct {
	cfg   config.PipelineConfig
	store *store.Store
	rdb   *redis.Client
	expr  *cronexpr.Expression
	log   *log.Logger
}

func NewRetentionScheduler(cfg config.PipelineConfig, st *store.Store, rdb *redis.Client) (*RetentionScheduler, error) {
	expr, err := cronexpr.Parse(cfg.RetentionCron)
	if err != nil {
		return nil, err
	}
	return &RetentionScheduler{
		cfg:   cfg,
		store: st,
		rdb:   rdb,
		expr:  expr,
		log:   log.New(log.Writer(), "[RETENTION] ", log.LstdFlags),
	}, nil
}

// Start runs the scheduler until the context is cancelled.
func (s *RetentionScheduler) Start(ctx context.Context) {
	next := s.expr.Next(time.Now())
	s.log.Printf("retention scheduler started, next prune at %s (keep %d days)", next.Format(time.RFC3339), s.cfg.RetentionDays)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			next = s.expr.Next(now)
			s.runOnce(ctx)
		}
	}
}

func (s *RetentionScheduler) runOnce(ctx context.Context) {
	// Short-lived lock: losers skip this cycle entirely.
	ok, err := s.rdb.SetNX(ctx, retentionLockKey, "1", 10*time.Minute).Result()
	if err != nil {
		s.log.Printf("lock acquisition failed: %v", err)
		return
	}
	if !ok {
		s.log.Printf("another instance holds the retention lock, skipping")
		return
	}
	defer s.rdb.Del(ctx, retentionLockKey)

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	pruned, err := s.store.PruneRunsBefore(ctx, cutoff)
	if err != nil {
		s.log.Printf("prune failed: %v", err)
		return
	}
	s.log.Printf("pruned %d runs finished before %s", pruned, cutoff.Format(time.RFC3339))
}
