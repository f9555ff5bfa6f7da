package diskcache

import (
	"context"
	"time"

	"github.com/catalogarr/catalogarr/internal/logging"
)

// DefaultPurgeInterval is the cadence of the background purge loop.
const DefaultPurgeInterval = 15 * time.Minute

// Purger runs Store.Purge on a fixed cadence.
type Purger struct {
	store    *Store
	interval time.Duration
}

func NewPurger(store *Store, interval time.Duration) *Purger {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	return &Purger{store: store, interval: interval}
}

// RunOnce performs a single purge pass.
func (p *Purger) RunOnce() (int, error) {
	return p.store.Purge(time.Now())
}

// Run blocks until ctx is cancelled, purging on every tick.
func (p *Purger) Run(ctx context.Context) {
	log := logging.Component("diskcache")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.RunOnce()
			if err != nil {
				log.Error().Err(err).Msg("cache purge failed")
				continue
			}
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("cache purge complete")
			}
		}
	}
}
