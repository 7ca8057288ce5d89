package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
)

// SalesSource lists a product's sales, newest first.
type SalesSource interface {
	Sales(ctx context.Context, productID string) ([]domain.Sale, error)
}

// SyncSummary totals one sales sync pass.
type SyncSummary struct {
	SyncedLaunches int     `json:"synced_launches"`
	NewSales       int     `json:"new_sales"`
	Revenue        float64 `json:"revenue"`
}

// SyncSales pulls new sales for every launch linked to a platform product. New
// sales are those listed before the launch's last seen sale id.
func (e Engine) SyncSales(ctx context.Context, src SalesSource) (SyncSummary, error) {
	var sum SyncSummary
	for _, l := range e.Stores.Launches.Items() {
		if l.GumroadProductID == nil || strings.TrimSpace(*l.GumroadProductID) == "" {
			continue
		}
		sales, err := src.Sales(ctx, *l.GumroadProductID)
		if err != nil {
			return sum, fmt.Errorf("sync launch %s: %w", l.ID, err)
		}
		last := ""
		if l.LastGumroadSaleID != nil {
			last = *l.LastGumroadSaleID
		}
		var pending []domain.Sale
		for _, s := range sales {
			if last != "" && s.ID == last {
				break
			}
			pending = append(pending, s)
		}
		revenue := 0.0
		for _, s := range pending {
			revenue += s.Amount
		}
		revenue = round2(revenue)
		newest := last
		if len(pending) > 0 {
			newest = pending[0].ID
		}
		if _, err := e.ApplySyncedSales(ctx, l.ID, len(pending), revenue, newest); err != nil {
			return sum, err
		}
		sum.SyncedLaunches++
		sum.NewSales += len(pending)
		sum.Revenue = round2(sum.Revenue + revenue)
	}
	e.Log.Info("sales synced", append(events.TraceFields(ctx),
		zap.Int("synced_launches", sum.SyncedLaunches), zap.Int("new_sales", sum.NewSales), zap.Float64("revenue", sum.Revenue))...)
	return sum, nil
}
