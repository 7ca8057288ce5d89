package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/lifecycle"
)

// AddSale records one sale on a launch. A tracking link for the launch's
// proposal, when present, gets the sale attributed too.
func (e Engine) AddSale(ctx context.Context, launchID string, amount float64) (domain.ProductLaunch, error) {
	if amount < 0 {
		return domain.ProductLaunch{}, domain.ClientError{Code: "invalid_amount", Message: "amount must be non-negative"}
	}
	launch, err := e.updateLaunch(ctx, "add_sale", launchID, func(l *domain.ProductLaunch) error {
		l.Metrics.Sales++
		l.Metrics.Revenue = round2(l.Metrics.Revenue + amount)
		return nil
	})
	if err != nil {
		return domain.ProductLaunch{}, err
	}
	if t, ok := e.Stores.Revenue.LatestTrackingForProposal(launch.ProposalID); ok {
		if _, err := e.Stores.Revenue.RecordSale(t.TrackingID, 1, amount, e.timestamp()); err != nil {
			e.Log.Error("attribute sale", append(events.TraceFields(ctx), zap.String("launch_id", launchID), zap.Error(err))...)
		}
	}
	return launch, nil
}

// TransitionLaunch moves a launch along the launch graph.
func (e Engine) TransitionLaunch(ctx context.Context, launchID, to string) (domain.ProductLaunch, error) {
	to = strings.TrimSpace(to)
	return e.updateLaunch(ctx, "transition_launch", launchID, func(l *domain.ProductLaunch) error {
		if err := lifecycle.EnsureLaunchTransition(l.Status, to); err != nil {
			return err
		}
		l.Status = to
		if to == domain.LaunchActive && l.LaunchedAt == nil {
			ts := e.timestamp()
			l.LaunchedAt = &ts
		}
		return nil
	})
}

// LinkSalesProduct binds a launch to its product on the sales platform.
func (e Engine) LinkSalesProduct(ctx context.Context, launchID, productID string) (domain.ProductLaunch, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductLaunch{}, domain.ClientError{Code: "missing_gumroad_product_id", Message: "gumroad_product_id is required"}
	}
	return e.updateLaunch(ctx, "link_sales_product", launchID, func(l *domain.ProductLaunch) error {
		l.GumroadProductID = &productID
		return nil
	})
}

// ApplySyncedSales adds a batch of platform sales and advances the sync cursor.
func (e Engine) ApplySyncedSales(ctx context.Context, launchID string, count int, revenue float64, lastSaleID string) (domain.ProductLaunch, error) {
	return e.updateLaunch(ctx, "apply_synced_sales", launchID, func(l *domain.ProductLaunch) error {
		l.Metrics.Sales += max(0, count)
		l.Metrics.Revenue = round2(l.Metrics.Revenue + revenue)
		ts := e.timestamp()
		l.LastGumroadSyncAt = &ts
		if lastSaleID != "" {
			l.LastGumroadSaleID = &lastSaleID
		}
		return nil
	})
}

func (e Engine) updateLaunch(ctx context.Context, op, launchID string, fn func(*domain.ProductLaunch) error) (domain.ProductLaunch, error) {
	launchID = strings.TrimSpace(launchID)
	err := e.mutate(ctx, op, func(s *lifecycle.Snapshot) error {
		i := launchIndex(s, launchID)
		if i < 0 {
			return domain.NotFoundError{Kind: "launch", ID: launchID}
		}
		return fn(&s.Launches[i])
	})
	if err != nil {
		return domain.ProductLaunch{}, err
	}
	l, ok := e.Stores.GetLaunch(launchID)
	if !ok {
		return domain.ProductLaunch{}, fmt.Errorf("launch %s vanished after %s", launchID, op)
	}
	return l, nil
}
