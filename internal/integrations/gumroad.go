package integrations

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"treta/internal/domain"
)

// centsThreshold: raw amounts above it are taken to be cents.
const centsThreshold = 1000

type GumroadConfig struct {
	BaseURL     string
	AccessToken string
	Breaker     BreakerConfig
}

// Gumroad reads products and sales from the sales platform.
type Gumroad struct {
	t *transport
}

// NewGumroad returns nil when no access token is configured.
func NewGumroad(cfg GumroadConfig, httpClient *http.Client, log *zap.Logger) *Gumroad {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.gumroad.com"
	}
	t := newTransport("gumroad", cfg.BaseURL, httpClient, cfg.Breaker, log)
	t.headers["Authorization"] = "Bearer " + cfg.AccessToken
	return &Gumroad{t: t}
}

type gumroadSale struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	Price       json.RawMessage `json:"price"`
	AmountCents json.RawMessage `json:"amount_cents"`
	CreatedAt   string          `json:"created_at"`
}

type Product struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SalesUSD  int    `json:"sales_usd_cents"`
	Published bool   `json:"published"`
}

// Sales lists a product's sales, newest first.
func (g *Gumroad) Sales(ctx context.Context, productID string) ([]domain.Sale, error) {
	var resp struct {
		Sales []gumroadSale `json:"sales"`
	}
	query := map[string]string{}
	if productID != "" {
		query["product_id"] = productID
	}
	if err := g.t.do(ctx, http.MethodGet, "v2/sales", query, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Sale, 0, len(resp.Sales))
	for _, s := range resp.Sales {
		pid := s.ProductID
		if pid == "" {
			pid = productID
		}
		out = append(out, domain.Sale{ID: s.ID, ProductID: pid, Amount: saleAmount(s), CreatedAt: s.CreatedAt})
	}
	return out, nil
}

func (g *Gumroad) Products(ctx context.Context) ([]Product, error) {
	var resp struct {
		Products []Product `json:"products"`
	}
	if err := g.t.do(ctx, http.MethodGet, "v2/products", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Products == nil {
		resp.Products = []Product{}
	}
	return resp.Products, nil
}

// RevenueSummary totals every listed sale.
type RevenueSummary struct {
	TotalRevenue float64 `json:"total_revenue"`
	Currency     string  `json:"currency"`
	SalesCount   int     `json:"sales_count"`
}

func (g *Gumroad) Revenue(ctx context.Context) (RevenueSummary, error) {
	sales, err := g.Sales(ctx, "")
	if err != nil {
		return RevenueSummary{Currency: "USD"}, err
	}
	total := 0.0
	for _, s := range sales {
		total += s.Amount
	}
	return RevenueSummary{TotalRevenue: math.Round(total*100) / 100, Currency: "USD", SalesCount: len(sales)}, nil
}

// BreakerState reports the state of the client's breaker.
func (g *Gumroad) BreakerState() string {
	return g.t.State()
}

func saleAmount(s gumroadSale) float64 {
	raw := s.Price
	if len(raw) == 0 || string(raw) == "null" {
		raw = s.AmountCents
	}
	v, ok := rawNumber(raw)
	if !ok {
		return 0
	}
	if v > centsThreshold {
		v /= 100
	}
	return v
}

// rawNumber accepts both JSON numbers and numeric strings.
func rawNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}
