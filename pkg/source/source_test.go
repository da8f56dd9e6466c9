package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourceTypes(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []SourceType
		wantErr bool
	}{
		{name: "empty means all", in: "", want: AllSourceTypes()},
		{name: "aliases", in: "hn, yt,ph,x", want: []SourceType{SourceHackerNews, SourceYouTube, SourceProductHunt, SourceTwitter}},
		{name: "dedup and case", in: "Reddit,reddit,POLYMARKET", want: []SourceType{SourceReddit, SourcePolymarket}},
		{name: "unknown", in: "reddit,myspace", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSourceTypes(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "will-gpt-5-ship-in-2025", slugify("Will GPT-5 ship in 2025?", 0))
	assert.Equal(t, "cursor", slugify("  Cursor!! ", 0))
	assert.Equal(t, "a-b", slugify("a b c", 4))
}

func TestLeadingProbability(t *testing.T) {
	assert.Equal(t, 62, leadingProbability(`["0.62","0.38"]`))
	assert.Equal(t, 50, leadingProbability("garbage"))
	assert.Equal(t, 50, leadingProbability(""))
}

func TestRedditCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/LocalLLaMA/hot.json", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"data":{"children":[
			{"data":{"id":"abc","title":"Qwen beats GPT","permalink":"/r/LocalLLaMA/comments/abc/","score":420,"num_comments":88,"created_utc":1700000000,"author":"u1","subreddit":"LocalLLaMA"}},
			{"data":{"id":"pin","title":"Weekly thread","stickied":true}},
			{"data":{"id":"gone","title":"Deleted","selftext":"[removed]"}}
		]}}`)
	}))
	defer srv.Close()

	r := NewReddit("", "", []string{"LocalLLaMA"}, 5)
	r.baseURL = srv.URL

	items, err := r.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	it := items[0]
	assert.Equal(t, "reddit-abc", it.ID)
	assert.Equal(t, SourceReddit, it.Source)
	assert.Equal(t, "https://reddit.com/r/LocalLLaMA/comments/abc/", it.URL)
	assert.Equal(t, 420, it.Engagement)
	assert.Equal(t, 88, it.Comments)
	assert.Equal(t, int64(1700000000), it.CapturedAt)
	assert.Equal(t, "LocalLLaMA", it.Subreddit)
}

func TestRedditPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/r/broken/hot.json" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `{"data":{"children":[{"data":{"id":"ok","title":"fine","permalink":"/x","score":1}}]}}`)
	}))
	defer srv.Close()

	r := NewReddit("", "", []string{"artificial", "broken"}, 5)
	r.baseURL = srv.URL

	items, err := r.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	require.Len(t, items, 1)
	assert.Equal(t, "artificial", items[0].Subreddit)
}

func TestHackerNewsCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/topstories.json":
			fmt.Fprint(w, `[3, 1, 2, 9]`)
		case "/item/1.json":
			fmt.Fprint(w, `{"id":1,"type":"story","title":"Ask HN","score":50,"descendants":12,"by":"pg","time":1700000100}`)
		case "/item/2.json":
			fmt.Fprint(w, `{"id":2,"type":"job","title":"Hiring"}`)
		case "/item/3.json":
			fmt.Fprint(w, `{"id":3,"type":"story","title":"Show HN: thing","url":"https://thing.dev","score":300,"descendants":40,"time":1700000200}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	hn := NewHackerNews(3)
	hn.baseURL = srv.URL

	items, err := hn.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "hn-3", items[0].ID)
	assert.Equal(t, "https://thing.dev", items[0].URL)
	assert.Equal(t, 300, items[0].Engagement)
	assert.Equal(t, "hn-1", items[1].ID)
	assert.Equal(t, "https://news.ycombinator.com/item?id=1", items[1].URL)
	assert.Equal(t, 12, items[1].Comments)
}

func TestPolymarketCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		fmt.Fprint(w, `[
			{"question":"Will OpenAI release GPT-5 by June?","slug":"gpt-5-june","volumeNum":2500000,"liquidityNum":40000,"outcomePrices":"[\"0.71\",\"0.29\"]","createdAt":"2025-01-02T03:04:05Z"},
			{"question":"","slug":"empty"},
			{"question":"Who wins the AI race?","volumeNum":1000,"createdAt":"2025-01-02T03:04:05Z"}
		]`)
	}))
	defer srv.Close()

	pm := NewPolymarket(10)
	pm.baseURL = srv.URL

	items, err := pm.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "polymarket-gpt-5-june", items[0].ID)
	assert.Equal(t, 2500, items[0].Engagement)
	assert.Equal(t, 40, items[0].Comments)
	assert.Equal(t, 71, items[0].Extra["probability"])
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).Unix(), items[0].CapturedAt)

	assert.Equal(t, "polymarket-who-wins-the-ai-race", items[1].ID)
}

func TestProductHuntCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Product Hunt</title>
  <entry>
    <id>tag:www.producthunt.com,2005:Post/1</id>
    <title>Cursor 2.0</title>
    <link rel="alternate" type="text/html" href="https://www.producthunt.com/products/cursor"/>
    <published>2025-01-02T03:04:05Z</published>
    <author><name>Jane</name></author>
  </entry>
  <entry>
    <id>tag:www.producthunt.com,2005:Post/2</id>
    <title>Second Launch</title>
    <link rel="alternate" type="text/html" href="https://www.producthunt.com/products/second"/>
    <published>2025-01-02T04:04:05Z</published>
  </entry>
</feed>`)
	}))
	defer srv.Close()

	ph := NewProductHunt(1)
	ph.feedURL = srv.URL

	items, err := ph.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ph-cursor-2-0", items[0].ID)
	assert.Equal(t, "Jane", items[0].Author)
	assert.Equal(t, "https://www.producthunt.com/products/cursor", items[0].URL)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).Unix(), items[0].CapturedAt)
}

func TestTwitterCollect(t *testing.T) {
	recent := time.Now().Add(-time.Hour).UTC().Format(time.RFC1123Z)
	old := time.Now().Add(-72 * time.Hour).UTC().Format(time.RFC1123Z)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/karpathy/rss", r.URL.Path)
		nitter := "http://" + r.Host
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>karpathy</title>
<item><title>new model dropped</title><link>%[1]s/karpathy/status/1</link><guid>%[1]s/karpathy/status/1</guid><pubDate>%[2]s</pubDate></item>
<item><title>old news</title><link>%[1]s/karpathy/status/0</link><guid>%[1]s/karpathy/status/0</guid><pubDate>%[3]s</pubDate></item>
</channel></rss>`, nitter, recent, old)
	}))
	defer srv.Close()

	tw := NewTwitter(srv.URL+"/", []string{"karpathy"})
	first, err := tw.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "https://x.com/karpathy/status/1", first[0].URL)
	assert.Regexp(t, `^twitter-[0-9a-f]{16}$`, first[0].ID)

	again, err := tw.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
}

type stubSource struct {
	name  SourceType
	items []TrendItem
	err   error
}

func (s stubSource) Name() SourceType { return s.name }

func (s stubSource) Collect(context.Context) ([]TrendItem, error) { return s.items, s.err }

func TestAggregate(t *testing.T) {
	res := Aggregate(context.Background(), []Source{
		stubSource{name: SourceReddit, items: []TrendItem{{ID: "reddit-1"}, {ID: "reddit-2"}}},
		stubSource{name: SourceHackerNews, err: errors.New("timeout")},
		stubSource{name: SourcePolymarket, items: []TrendItem{{ID: "polymarket-x"}, {ID: "reddit-1"}, {ID: ""}}, err: errors.New("partial")},
	})

	require.Len(t, res.Items, 3)
	assert.Equal(t, []string{"reddit-1", "reddit-2", "polymarket-x"}, []string{res.Items[0].ID, res.Items[1].ID, res.Items[2].ID})
	assert.Equal(t, 2, res.Counts[SourceReddit])
	assert.Equal(t, 1, res.Counts[SourcePolymarket])
	assert.Len(t, res.Errors, 2)
	assert.False(t, res.Failed())
}

func TestAggregateAllFailed(t *testing.T) {
	res := Aggregate(context.Background(), []Source{
		stubSource{name: SourceReddit, err: errors.New("down")},
		stubSource{name: SourceHackerNews, err: errors.New("down")},
	})
	assert.Empty(t, res.Items)
	assert.True(t, res.Failed())
}

func TestYouTubeCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		switch r.URL.Path {
		case "/search":
			fmt.Fprint(w, `{"items":[
				{"id":{"videoId":"v1"},"snippet":{"title":"I built an AI agent","channelTitle":"Chan","publishedAt":"2025-01-02T03:04:05Z"}},
				{"id":{},"snippet":{"title":"a playlist"}}
			]}`)
		case "/videos":
			assert.Equal(t, "v1", r.URL.Query().Get("id"))
			fmt.Fprint(w, `{"items":[{"id":"v1","statistics":{"viewCount":"120000","commentCount":"340"}}]}`)
		}
	}))
	defer srv.Close()

	yt := NewYouTube("k", []string{"ai"}, 5)
	yt.baseURL = srv.URL

	items, err := yt.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "yt-v1", items[0].ID)
	assert.Equal(t, 120000, items[0].Engagement)
	assert.Equal(t, 340, items[0].Comments)
	assert.Equal(t, "https://www.youtube.com/watch?v=v1", items[0].URL)
}

func TestYouTubeRequiresKey(t *testing.T) {
	_, err := NewYouTube("", nil, 0).Collect(context.Background())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestProductHuntUndatedEntries(t *testing.T) {
	feeds := map[string]string{
		"/dated": `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Product Hunt</title>
  <updated>2025-01-02T00:00:00Z</updated>
  <entry><id>1</id><title>No Date Launch</title><link href="https://www.producthunt.com/products/nodate"/></entry>
</feed>`,
		"/undated": `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Product Hunt</title>
  <entry><id>1</id><title>No Date Launch</title><link href="https://www.producthunt.com/products/nodate"/></entry>
</feed>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feeds[r.URL.Path])
	}))
	defer srv.Close()

	ph := NewProductHunt(5)
	ph.feedURL = srv.URL + "/dated"
	items, err := ph.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC).Unix(), items[0].CapturedAt)

	ph.feedURL = srv.URL + "/undated"
	items, err = ph.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}
