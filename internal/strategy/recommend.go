package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"treta/internal/domain"
)

// Recommendation kinds of the read-only performance report.
const (
	RecommendScaleProduct      = "SCALE_PRODUCT"
	RecommendTestPrice         = "TEST_PRICE"
	RecommendFixOrArchive      = "FIX_OR_ARCHIVE"
	RecommendCategoryExpansion = "CATEGORY_EXPANSION"

	categoryShareThreshold = 0.60
)

type ProductAdvice struct {
	ProductID  string `json:"product_id"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	Confidence int    `json:"confidence"`
}

type CategoryAdvice struct {
	Category   string `json:"category"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	Confidence int    `json:"confidence"`
}

type PortfolioSummary struct {
	TotalRevenue      float64            `json:"total_revenue"`
	TotalSales        int                `json:"total_sales"`
	RevenueByProduct  map[string]float64 `json:"revenue_by_product"`
	RevenueByCategory map[string]float64 `json:"revenue_by_category"`
	DaysSinceLaunch   map[string]int     `json:"days_since_launch"`
}

// Report is a read-only view of launch performance. Unlike Decide it
// registers nothing.
type Report struct {
	Summary         PortfolioSummary `json:"global_summary"`
	ProductActions  []ProductAdvice  `json:"product_actions"`
	CategoryActions []CategoryAdvice `json:"category_actions"`
}

// Recommend builds the performance report for launches.
func Recommend(launches []domain.ProductLaunch, now time.Time) Report {
	sorted := append([]domain.ProductLaunch(nil), launches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	rep := Report{
		Summary: PortfolioSummary{
			RevenueByProduct:  map[string]float64{},
			RevenueByCategory: map[string]float64{},
			DaysSinceLaunch:   map[string]int{},
		},
		ProductActions:  []ProductAdvice{},
		CategoryActions: []CategoryAdvice{},
	}
	for _, l := range sorted {
		sales := l.Metrics.Sales
		revenue := round2(l.Metrics.Revenue)
		days := daysSince(l.CreatedAt, now)
		name := l.ProductName
		if name == "" {
			name = "unknown"
		}
		rep.Summary.TotalSales += sales
		rep.Summary.TotalRevenue += l.Metrics.Revenue
		rep.Summary.RevenueByProduct[name] += l.Metrics.Revenue
		rep.Summary.RevenueByCategory[Category(name)] += l.Metrics.Revenue
		rep.Summary.DaysSinceLaunch[l.ID] = days

		switch {
		case sales >= 5 && revenue >= 100:
			rep.ProductActions = append(rep.ProductActions, ProductAdvice{l.ID, RecommendScaleProduct,
				fmt.Sprintf("%d sales and $%.2f revenue meet scale thresholds.", sales, revenue), 92})
		case sales > 0 && revenue < 50:
			rep.ProductActions = append(rep.ProductActions, ProductAdvice{l.ID, RecommendTestPrice,
				fmt.Sprintf("%d sales but only $%.2f revenue indicates price optimization opportunity.", sales, revenue), 84})
		case sales == 0 && days > StalledAfterDays:
			rep.ProductActions = append(rep.ProductActions, ProductAdvice{l.ID, RecommendFixOrArchive,
				fmt.Sprintf("No sales after %d days since launch.", days), 88})
		}
	}
	rep.Summary.TotalRevenue = round2(rep.Summary.TotalRevenue)
	for k, v := range rep.Summary.RevenueByProduct {
		rep.Summary.RevenueByProduct[k] = round2(v)
	}
	categories := make([]string, 0, len(rep.Summary.RevenueByCategory))
	for k, v := range rep.Summary.RevenueByCategory {
		rep.Summary.RevenueByCategory[k] = round2(v)
		categories = append(categories, k)
	}
	sort.Strings(categories)

	total := rep.Summary.TotalRevenue
	if total > 0 {
		for _, c := range categories {
			revenue := rep.Summary.RevenueByCategory[c]
			share := revenue / total
			if share < categoryShareThreshold {
				continue
			}
			rep.CategoryActions = append(rep.CategoryActions, CategoryAdvice{
				Category:   c,
				Action:     RecommendCategoryExpansion,
				Reason:     fmt.Sprintf("Category contributes %.0f%% of total revenue ($%.2f/$%.2f).", share*100, revenue, total),
				Confidence: 90,
			})
		}
	}
	return rep
}

// Category derives a product category from the last alphabetic word of its
// name: "Creator Prompt Pack" is a "pack".
func Category(productName string) string {
	var last string
	for _, tok := range strings.Fields(strings.ReplaceAll(productName, "+", " ")) {
		if isAlpha(tok) {
			last = strings.ToLower(tok)
		}
	}
	if last == "" {
		return "unknown"
	}
	return last
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
