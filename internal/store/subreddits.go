package store

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"treta/internal/jsonstore"
)

// SubredditStats counts the funnel for one forum.
type SubredditStats struct {
	Name               string `json:"name"`
	PostsAttempted     int    `json:"posts_attempted"`
	ProposalsGenerated int    `json:"proposals_generated"`
	PlansExecuted      int    `json:"plans_executed"`
	Sales              int    `json:"sales"`
}

// SubredditPerformance persists per-forum funnel counters keyed by name.
type SubredditPerformance struct {
	mu    sync.Mutex
	path  string
	items map[string]SubredditStats
}

func OpenSubredditPerformance(path string, log *zap.Logger) (*SubredditPerformance, error) {
	s := &SubredditPerformance{path: path, items: map[string]SubredditStats{}}
	loaded := map[string]SubredditStats{}
	if _, err := jsonstore.Read(path, &loaded, log); err != nil {
		return nil, err
	}
	for key, st := range loaded {
		name := strings.TrimSpace(key)
		if name == "" {
			name = strings.TrimSpace(st.Name)
		}
		if name == "" {
			continue
		}
		st.Name = name
		s.items[name] = st
	}
	return s, nil
}

func (s *SubredditPerformance) RecordPostAttempt(name string) error {
	return s.bump(name, func(st *SubredditStats) { st.PostsAttempted++ })
}

func (s *SubredditPerformance) RecordProposalGenerated(name string) error {
	return s.bump(name, func(st *SubredditStats) { st.ProposalsGenerated++ })
}

func (s *SubredditPerformance) RecordPlanExecuted(name string) error {
	return s.bump(name, func(st *SubredditStats) { st.PlansExecuted++ })
}

func (s *SubredditPerformance) RecordSale(name string) error {
	return s.bump(name, func(st *SubredditStats) { st.Sales++ })
}

// Get returns the counters for name.
func (s *SubredditPerformance) Get(name string) (SubredditStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.items[strings.TrimSpace(name)]
	return st, ok
}

// All returns every forum's counters sorted by name.
func (s *SubredditPerformance) All() []SubredditStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubredditStats, 0, len(s.items))
	for _, st := range s.items {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *SubredditPerformance) bump(name string, fn func(*SubredditStats)) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("subreddit is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.items[name]
	if !ok {
		st = SubredditStats{Name: name}
	}
	fn(&st)
	s.items[name] = st
	return jsonstore.WriteAtomic(s.path, s.items)
}
