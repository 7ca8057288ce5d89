package store

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"treta/internal/jsonstore"
)

// DefaultRedditWindow is how long after a tracking link is created a sale is
// still credited to the forum channel.
const DefaultRedditWindow = 24 * time.Hour

const (
	ChannelReddit  = "reddit"
	ChannelUnknown = "unknown"
)

// Tracking links a tracking id handed out in a forum post to the proposal it
// promotes.
type Tracking struct {
	TrackingID string   `json:"tracking_id"`
	ProposalID string   `json:"proposal_id"`
	ProductID  string   `json:"product_id"`
	Subreddit  *string  `json:"subreddit"`
	PostID     *string  `json:"post_id"`
	Price      *float64 `json:"price"`
	CreatedAt  string   `json:"created_at"`
}

type Attribution struct {
	Channel   string  `json:"channel"`
	Subreddit *string `json:"subreddit"`
	PostID    *string `json:"post_id"`
}

type Sale struct {
	SaleID      string      `json:"sale_id"`
	ProductID   string      `json:"product_id"`
	Revenue     float64     `json:"revenue"`
	Timestamp   string      `json:"timestamp"`
	Attribution Attribution `json:"attribution"`
}

type Bucket struct {
	Sales   int     `json:"sales"`
	Revenue float64 `json:"revenue"`
}

type SubredditBucket struct {
	Sales          int     `json:"sales"`
	Revenue        float64 `json:"revenue"`
	Views          int     `json:"views"`
	ConversionRate float64 `json:"conversion_rate"`
}

type AttributionSummary struct {
	Totals      Bucket                     `json:"totals"`
	ByProposal  map[string]Bucket          `json:"by_proposal"`
	ByChannel   map[string]Bucket          `json:"by_channel"`
	BySubreddit map[string]SubredditBucket `json:"by_subreddit"`
	Sales       []Sale                     `json:"sales"`
}

type attributionDoc struct {
	Trackings []Tracking `json:"trackings"`
	Sales     []Sale     `json:"sales"`
}

// RevenueAttribution records tracking links and the sales credited to them.
type RevenueAttribution struct {
	mu        sync.Mutex
	path      string
	window    time.Duration
	trackings []Tracking
	sales     []Sale
	Now       func() time.Time
}

func OpenRevenueAttribution(path string, window time.Duration, log *zap.Logger) (*RevenueAttribution, error) {
	if window < time.Hour {
		window = time.Hour
	}
	r := &RevenueAttribution{path: path, window: window, Now: time.Now}
	var doc attributionDoc
	if _, err := jsonstore.Read(path, &doc, log); err != nil {
		return nil, err
	}
	for _, t := range doc.Trackings {
		if strings.TrimSpace(t.TrackingID) == "" || strings.TrimSpace(t.ProposalID) == "" {
			continue
		}
		if t.ProductID == "" {
			t.ProductID = t.ProposalID
		}
		r.trackings = append(r.trackings, t)
	}
	for _, s := range doc.Sales {
		if s.SaleID == "" || s.ProductID == "" {
			continue
		}
		if s.Attribution.Channel == "" {
			s.Attribution.Channel = ChannelUnknown
		}
		r.sales = append(r.sales, s)
	}
	return r, nil
}

func (r *RevenueAttribution) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// UpsertTracking creates or updates a tracking link. Nil optionals keep the
// previous values.
func (r *RevenueAttribution) UpsertTracking(trackingID, proposalID string, subreddit *string, price *float64, createdAt string) (Tracking, error) {
	trackingID = strings.TrimSpace(trackingID)
	proposalID = strings.TrimSpace(proposalID)
	if trackingID == "" {
		return Tracking{}, errors.New("tracking_id is required")
	}
	if proposalID == "" {
		return Tracking{}, errors.New("proposal_id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(trackingID)
	rec := Tracking{TrackingID: trackingID, ProposalID: proposalID, ProductID: proposalID}
	if idx >= 0 {
		prev := r.trackings[idx]
		rec.Subreddit, rec.PostID, rec.Price, rec.CreatedAt = prev.Subreddit, prev.PostID, prev.Price, prev.CreatedAt
	}
	if subreddit != nil {
		rec.Subreddit = subreddit
	}
	if price != nil {
		rec.Price = price
	}
	if createdAt != "" {
		rec.CreatedAt = createdAt
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = r.now().UTC().Format(time.RFC3339)
	}
	if idx >= 0 {
		r.trackings[idx] = rec
	} else {
		r.trackings = append(r.trackings, rec)
	}
	return rec, r.saveLocked()
}

// Tracking returns the tracking link with id.
func (r *RevenueAttribution) Tracking(trackingID string) (Tracking, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(strings.TrimSpace(trackingID))
	if idx < 0 {
		return Tracking{}, false
	}
	return r.trackings[idx], true
}

// RecordSale appends saleCount sales splitting revenueDelta evenly. It reports
// false when the tracking id is unknown.
func (r *RevenueAttribution) RecordSale(trackingID string, saleCount int, revenueDelta float64, soldAt string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(strings.TrimSpace(trackingID))
	if idx < 0 {
		return false, nil
	}
	t := r.trackings[idx]
	if saleCount < 1 {
		saleCount = 1
	}
	if soldAt == "" {
		soldAt = r.now().UTC().Format(time.RFC3339)
	}
	channel := r.channel(t, soldAt)
	attr := Attribution{Channel: channel}
	if channel == ChannelReddit {
		attr.Subreddit, attr.PostID = t.Subreddit, t.PostID
	}
	perSale := round2(revenueDelta / float64(saleCount))
	base := len(r.sales)
	for i := 0; i < saleCount; i++ {
		r.sales = append(r.sales, Sale{
			SaleID:      fmt.Sprintf("%s-sale-%d", t.TrackingID, base+i+1),
			ProductID:   t.ProductID,
			Revenue:     perSale,
			Timestamp:   soldAt,
			Attribution: attr,
		})
	}
	return true, r.saveLocked()
}

// Summary aggregates every recorded sale.
func (r *RevenueAttribution) Summary() AttributionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := AttributionSummary{
		ByProposal:  map[string]Bucket{},
		ByChannel:   map[string]Bucket{},
		BySubreddit: map[string]SubredditBucket{},
		Sales:       append([]Sale{}, r.sales...),
	}
	for _, s := range r.sales {
		out.Totals.Sales++
		out.Totals.Revenue = round2(out.Totals.Revenue + s.Revenue)

		if s.ProductID != "" {
			b := out.ByProposal[s.ProductID]
			b.Sales++
			b.Revenue = round2(b.Revenue + s.Revenue)
			out.ByProposal[s.ProductID] = b
		}

		ch := s.Attribution.Channel
		if ch == "" {
			ch = ChannelUnknown
		}
		cb := out.ByChannel[ch]
		cb.Sales++
		cb.Revenue = round2(cb.Revenue + s.Revenue)
		out.ByChannel[ch] = cb

		if s.Attribution.Subreddit != nil && strings.TrimSpace(*s.Attribution.Subreddit) != "" {
			name := strings.TrimSpace(*s.Attribution.Subreddit)
			sb := out.BySubreddit[name]
			sb.Sales++
			sb.Revenue = round2(sb.Revenue + s.Revenue)
			out.BySubreddit[name] = sb
		}
	}
	for name, sb := range out.BySubreddit {
		views := 0
		for _, t := range r.trackings {
			if t.Subreddit != nil && strings.TrimSpace(*t.Subreddit) == name {
				views++
			}
		}
		sb.Views = views
		if views > 0 {
			sb.ConversionRate = math.Round(float64(sb.Sales)/float64(views)*10000) / 10000
		}
		out.BySubreddit[name] = sb
	}
	return out
}

func (r *RevenueAttribution) channel(t Tracking, soldAt string) string {
	created, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return ChannelUnknown
	}
	sold, err := time.Parse(time.RFC3339, soldAt)
	if err != nil {
		return ChannelUnknown
	}
	if sold.Before(created) || sold.After(created.Add(r.window)) {
		return ChannelUnknown
	}
	return ChannelReddit
}

func (r *RevenueAttribution) indexOf(trackingID string) int {
	for i, t := range r.trackings {
		if t.TrackingID == trackingID {
			return i
		}
	}
	return -1
}

func (r *RevenueAttribution) saveLocked() error {
	doc := attributionDoc{Trackings: r.trackings, Sales: r.sales}
	if doc.Trackings == nil {
		doc.Trackings = []Tracking{}
	}
	if doc.Sales == nil {
		doc.Sales = []Sale{}
	}
	return jsonstore.WriteAtomic(r.path, doc)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// LatestTrackingForProposal returns the most recently added tracking link for
// proposalID.
func (r *RevenueAttribution) LatestTrackingForProposal(proposalID string) (Tracking, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.trackings) - 1; i >= 0; i-- {
		if r.trackings[i].ProposalID == proposalID {
			return r.trackings[i], true
		}
	}
	return Tracking{}, false
}
