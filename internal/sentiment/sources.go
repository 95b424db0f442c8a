package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Source family weights. Professional coverage is trusted at full weight;
// anonymous social chatter at half.
const (
	WeightNews   = 1.0
	WeightForum  = 0.7
	WeightSocial = 0.5
)

// feedItem is the wire shape of one item from the sentiment collector
// service. Score and Confidence are optional; items without them are
// lexicon-scored from Text.
type feedItem struct {
	Text        string    `json:"text"`
	Score       *float64  `json:"score,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	Credibility float64   `json:"author_credibility"`
	Engagement  float64   `json:"engagement"`
	PublishedAt time.Time `json:"published_at"`
}

// HTTPSource fetches one feed family from the sentiment collector.
// Subpaths model forum subcollections; each is fetched and merged.
type HTTPSource struct {
	name     string
	weight   float64
	baseURL  string
	apiKey   string
	subpaths []string
	client   *http.Client
}

// NewNewsSource reads the professional news feed.
func NewNewsSource(baseURL, apiKey string, client *http.Client) *HTTPSource {
	return newHTTPSource("news", WeightNews, baseURL, apiKey, []string{"news"}, client)
}

// NewForumSource reads the investor forum subcollections.
func NewForumSource(baseURL, apiKey string, subcollections []string, client *http.Client) *HTTPSource {
	if len(subcollections) == 0 {
		subcollections = []string{"forum/stocks", "forum/pennystocks"}
	}
	return newHTTPSource("forum", WeightForum, baseURL, apiKey, subcollections, client)
}

// NewSocialSource reads the social firehose sample.
func NewSocialSource(baseURL, apiKey string, client *http.Client) *HTTPSource {
	return newHTTPSource("social", WeightSocial, baseURL, apiKey, []string{"social"}, client)
}

func newHTTPSource(name string, weight float64, baseURL, apiKey string, subpaths []string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSource{
		name:     name,
		weight:   weight,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		subpaths: subpaths,
		client:   client,
	}
}

// Name implements SourceFetcher.
func (s *HTTPSource) Name() string { return s.name }

// Weight implements SourceFetcher.
func (s *HTTPSource) Weight() float64 { return s.weight }

// Fetch implements SourceFetcher. Subpaths are fetched sequentially; the
// first hard failure aborts since a partially fetched family would skew
// the per-source counts.
func (s *HTTPSource) Fetch(ctx context.Context, symbol string, since time.Time) ([]DataPoint, error) {
	var points []DataPoint
	for _, sub := range s.subpaths {
		items, err := s.fetchPath(ctx, sub, symbol, since)
		if err != nil {
			return nil, fmt.Errorf("fetch %s/%s: %w", s.name, sub, err)
		}
		points = append(points, items...)
	}
	return points, nil
}

func (s *HTTPSource) fetchPath(ctx context.Context, sub, symbol string, since time.Time) ([]DataPoint, error) {
	u := fmt.Sprintf("%s/v1/%s?symbol=%s&since=%s",
		s.baseURL, sub, url.QueryEscape(symbol), url.QueryEscape(since.UTC().Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var items []feedItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	points := make([]DataPoint, 0, len(items))
	for _, item := range items {
		points = append(points, s.toPoint(item))
	}
	return points, nil
}

func (s *HTTPSource) toPoint(item feedItem) DataPoint {
	p := DataPoint{
		Text:        item.Text,
		Source:      s.name,
		Credibility: item.Credibility,
		Engagement:  item.Engagement,
		Timestamp:   item.PublishedAt,
	}
	if item.Score != nil {
		p.Score = clampScore(*item.Score)
		p.Confidence = 0.8
		if item.Confidence != nil {
			p.Confidence = *item.Confidence
		}
	} else {
		p.Score, p.Confidence = ScoreText(item.Text)
	}
	if p.Credibility < 1 {
		p.Credibility = 1
	}
	if p.Engagement < 1 {
		p.Engagement = 1
	}
	return p
}
