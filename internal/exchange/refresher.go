// refresher.go keeps the order-filter table in sync with the exchange
// catalog. Tick sizes, lot steps and notional floors drift as the exchange
// retunes its markets, and an order rounded against stale steps is rejected.
package exchange

import (
	"context"
	"log/slog"
	"time"

	"triarb/pkg/types"
)

// defaultRefreshPeriod applies when no period is configured.
const defaultRefreshPeriod = time.Hour

// CatalogSource fetches the exchange info snapshot.
type CatalogSource interface {
	ExchangeInfo(ctx context.Context) (*types.ExchangeInfo, error)
}

// Refresher re-fetches the catalog on a period and swaps the filter table.
type Refresher struct {
	source      CatalogSource
	limitations *Limitations
	period      time.Duration
	logger      *slog.Logger
}

// NewRefresher creates the periodic catalog refresher. A non-positive period
// falls back to hourly.
func NewRefresher(source CatalogSource, limitations *Limitations, period time.Duration, logger *slog.Logger) *Refresher {
	if period <= 0 {
		period = defaultRefreshPeriod
	}
	return &Refresher{
		source:      source,
		limitations: limitations,
		period:      period,
		logger:      logger.With("component", "catalog-refresher"),
	}
}

// Run polls until ctx is cancelled. The engine seeds the table at startup,
// so the first re-fetch happens one full period in.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	info, err := r.source.ExchangeInfo(ctx)
	if err != nil {
		// A failed fetch keeps the previous table.
		r.logger.Warn("catalog refresh failed", "error", err)
		return
	}
	r.limitations.Refresh(info)
	r.logger.Debug("order filters refreshed", "symbols", len(info.Symbols))
}
