package price

import (
	"context"
	"time"

	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

// SnapshotStore persists snapshots across restarts
type SnapshotStore interface {
	Save(ctx context.Context, snap *models.PriceSnapshot) error
	Load(ctx context.Context) (*models.PriceSnapshot, error)
}

// Refresher keeps a Cache filled from an Oracle
type Refresher struct {
	cache      *Cache
	oracle     Oracle
	store      SnapshotStore
	currencies []types.Currency
	interval   time.Duration
}

// NewRefresher creates a refresher. store may be nil.
func NewRefresher(cache *Cache, oracle Oracle, store SnapshotStore, currencies []types.Currency, interval time.Duration) *Refresher {
	return &Refresher{
		cache:      cache,
		oracle:     oracle,
		store:      store,
		currencies: currencies,
		interval:   interval,
	}
}

// Warm loads the persisted snapshot into an empty cache
func (r *Refresher) Warm(ctx context.Context) {
	if r.store == nil || r.cache.Snapshot() != nil {
		return
	}
	snap, err := r.store.Load(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to load persisted price snapshot")
		return
	}
	if snap != nil {
		r.cache.Store(snap)
		logging.FromContext(ctx).WithField("fetchedAt", snap.FetchedAt).Info("Loaded persisted price snapshot")
	}
}

// Refresh fetches one snapshot. On failure the previous snapshot stays.
func (r *Refresher) Refresh(ctx context.Context) error {
	snap, err := r.oracle.Fetch(ctx, r.currencies)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Price refresh failed, keeping previous snapshot")
		return err
	}
	r.cache.Store(snap)

	if r.store != nil {
		if err := r.store.Save(ctx, snap); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to persist price snapshot")
		}
	}

	fields := make(map[string]interface{}, len(snap.Prices))
	for c, p := range snap.Prices {
		fields[string(c)] = p.String()
	}
	logging.FromContext(ctx).WithFields(fields).Info("Prices refreshed")
	return nil
}

// Run refreshes immediately and then on every tick until ctx ends
func (r *Refresher) Run(ctx context.Context) {
	r.Warm(ctx)
	_ = r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}
