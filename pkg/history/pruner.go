package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultPruneSchedule runs retention once an hour
const DefaultPruneSchedule = "@hourly"

// Pruner deletes entries older than the retention window on a cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

// NewPruner validates schedule, a standard five-field expression or a
// descriptor such as "@every 30m".
func NewPruner(store *Store, retention time.Duration, schedule string) (*Pruner, error) {
	if store == nil {
		return nil, errors.New("history store is required")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %v", retention)
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}

	p := &Pruner{
		store:     store,
		retention: retention,
		cron:      cron.New(),
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start runs the schedule in the background
func (p *Pruner) Start() {
	p.cron.Start()
	log.Info().Dur("retention", p.retention).Msg("History pruner started")
}

// Stop halts the schedule and waits for a running prune to finish
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

// PruneNow removes expired entries immediately
func (p *Pruner) PruneNow(ctx context.Context) (int64, error) {
	return p.store.Prune(ctx, p.now().Add(-p.retention))
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := p.PruneNow(ctx)
	if err != nil {
		log.Error().Err(err).Msg("History prune failed")
		return
	}
	log.Debug().Int64("removed", removed).Msg("History pruned")
}
