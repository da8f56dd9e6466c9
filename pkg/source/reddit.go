package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultSubreddits are polled when the config lists none.
var DefaultSubreddits = []string{
	"artificial", "ChatGPT", "ClaudeAI", "LocalLLaMA", "SideProject",
	"passive_income", "entrepreneur", "vibecoding", "webdev", "cryptocurrency",
}

// Reddit collects hot posts from a set of subreddits.
//
// With client credentials it uses the OAuth API, otherwise the public
// listing endpoint.
type Reddit struct {
	client       *resty.Client
	baseURL      string
	clientID     string
	clientSecret string
	subreddits   []string
	limit        int
	mu           sync.Mutex
	token        string
	tokenExpiry  time.Time
}

// NewReddit creates a new Reddit collector.
func NewReddit(clientID, clientSecret string, subreddits []string, limit int) *Reddit {
	if len(subreddits) == 0 {
		subreddits = DefaultSubreddits
	}
	if limit <= 0 {
		limit = 25
	}
	baseURL := "https://www.reddit.com"
	if clientID != "" && clientSecret != "" {
		baseURL = "https://oauth.reddit.com"
	}
	return &Reddit{
		client:       newClient(),
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		subreddits:   subreddits,
		limit:        limit,
	}
}

func (r *Reddit) Name() SourceType { return SourceReddit }

func (r *Reddit) Collect(ctx context.Context) ([]TrendItem, error) {
	if err := r.authenticate(ctx); err != nil {
		return nil, fmt.Errorf("reddit auth: %w", err)
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		items []TrendItem
		errs  []error
	)
	for _, sub := range r.subreddits {
		wg.Add(1)
		go func(sub string) {
			defer wg.Done()
			got, err := r.fetchSubreddit(ctx, sub)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			items = append(items, got...)
		}(sub)
	}
	wg.Wait()

	return items, errors.Join(errs...)
}

func (r *Reddit) authenticate(ctx context.Context) error {
	if r.clientID == "" || r.clientSecret == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return nil
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetBasicAuth(r.clientID, r.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tokenResp).
		Post("https://www.reddit.com/api/v1/access_token")
	if err != nil {
		return fmt.Errorf("reddit token request: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("reddit auth status %d", resp.StatusCode())
	}

	r.token = tokenResp.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return nil
}

func (r *Reddit) fetchSubreddit(ctx context.Context, subreddit string) ([]TrendItem, error) {
	var listing redditListing
	req := r.client.R().
		SetContext(ctx).
		SetQueryParam("limit", fmt.Sprintf("%d", r.limit)).
		SetResult(&listing).
		ForceContentType("application/json")

	r.mu.Lock()
	if r.token != "" {
		req.SetAuthToken(r.token)
	}
	r.mu.Unlock()

	resp, err := req.Get(fmt.Sprintf("%s/r/%s/hot.json", r.baseURL, subreddit))
	if err != nil {
		return nil, fmt.Errorf("fetch r/%s: %w", subreddit, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("reddit r/%s status %d", subreddit, resp.StatusCode())
	}

	var items []TrendItem
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied || strings.Contains(post.Selftext, "[removed]") {
			continue
		}

		sub := post.Subreddit
		if sub == "" {
			sub = subreddit
		}

		items = append(items, TrendItem{
			ID:         "reddit-" + post.ID,
			Source:     SourceReddit,
			Title:      post.Title,
			URL:        "https://reddit.com" + post.Permalink,
			Engagement: max(post.Score, 0),
			Comments:   max(post.NumComments, 0),
			CapturedAt: int64(post.CreatedUTC),
			Author:     post.Author,
			Subreddit:  sub,
			Extra: map[string]any{
				"flair":        post.LinkFlairText,
				"external_url": post.URL,
			},
		})
	}

	return items, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	Selftext      string  `json:"selftext"`
	Author        string  `json:"author"`
	Subreddit     string  `json:"subreddit"`
	Score         int     `json:"score"`
	NumComments   int     `json:"num_comments"`
	CreatedUTC    float64 `json:"created_utc"`
	Stickied      bool    `json:"stickied"`
	LinkFlairText string  `json:"link_flair_text"`
}
