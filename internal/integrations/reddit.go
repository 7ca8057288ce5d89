package integrations

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

const redditUserAgent = "treta/1.0"

// Post is one public forum post.
type Post struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Body        string  `json:"selftext"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
}

type RedditConfig struct {
	BaseURL string
	Breaker BreakerConfig
}

// Reddit reads public subreddit listings.
type Reddit struct {
	t *transport
}

func NewReddit(cfg RedditConfig, httpClient *http.Client, log *zap.Logger) *Reddit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	t := newTransport("reddit", cfg.BaseURL, httpClient, cfg.Breaker, log)
	t.headers["User-Agent"] = redditUserAgent
	return &Reddit{t: t}
}

type listing struct {
	Data struct {
		Children []struct {
			Data Post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// FetchPosts lists the newest posts of a subreddit.
func (r *Reddit) FetchPosts(ctx context.Context, subreddit string, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 25
	}
	var resp listing
	path := "r/" + url.PathEscape(subreddit) + "/new.json"
	if err := r.t.do(ctx, http.MethodGet, path, map[string]string{"limit": strconv.Itoa(limit)}, nil, &resp); err != nil {
		return nil, err
	}
	posts := make([]Post, 0, len(resp.Data.Children))
	for _, c := range resp.Data.Children {
		p := c.Data
		if p.Subreddit == "" {
			p.Subreddit = subreddit
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// BreakerState reports the state of the client's breaker.
func (r *Reddit) BreakerState() string {
	return r.t.State()
}
