package dataflows

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/quantclan/HedgeCouncil/internal/capability"
)

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	PubDate     string    `xml:"pubDate"`
	Source      rssSource `xml:"source"`
}

type rssSource struct {
	URL  string `xml:"url,attr"`
	Text string `xml:",chardata"`
}

// NewsClient scrapes company headlines from the Google News RSS feed.
type NewsClient struct {
	client *resty.Client
	cache  *Cache
	retry  capability.RetryPolicy
}

func NewNewsClient(cacheDir string, cacheEnabled bool, timeout time.Duration, retry capability.RetryPolicy) *NewsClient {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")

	return &NewsClient{
		client: client,
		cache:  NewCache(filepath.Join(cacheDir, "google_news"), 30*time.Minute, cacheEnabled),
		retry:  retry,
	}
}

// GetCompanyNews returns up to maxResults recent articles matching the
// ticker, newest first as the feed orders them.
func (nc *NewsClient) GetCompanyNews(ctx context.Context, symbol string, maxResults int) ([]*NewsArticle, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, capability.Permanent("news", err)
	}
	symbol = NormalizeSymbol(symbol)
	if maxResults <= 0 {
		maxResults = 5
	}

	cacheKey := fmt.Sprintf("%s_%d", symbol, maxResults)
	var cached []*NewsArticle
	if nc.cache.Get("google_news", "company", cacheKey, &cached) {
		return cached, nil
	}

	query := fmt.Sprintf("%s stock", symbol)
	feedURL := fmt.Sprintf("https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en",
		url.QueryEscape(query))

	articles, err := capability.Retry(ctx, nc.retry, func() ([]*NewsArticle, error) {
		resp, err := nc.client.R().SetContext(ctx).Get(feedURL)
		if err != nil {
			return nil, capability.Transient("news", err)
		}
		if resp.StatusCode() >= 500 || resp.StatusCode() == 429 {
			return nil, capability.Transient("news", fmt.Errorf("feed returned %d", resp.StatusCode()))
		}
		if resp.StatusCode() != 200 {
			return nil, capability.Permanent("news", fmt.Errorf("feed returned %d", resp.StatusCode()))
		}

		var feed rssFeed
		if err := xml.Unmarshal(resp.Body(), &feed); err != nil {
			return nil, capability.Permanent("news", fmt.Errorf("parse feed: %w", err))
		}

		out := make([]*NewsArticle, 0, maxResults)
		for _, item := range feed.Channel.Items {
			if len(out) >= maxResults {
				break
			}
			out = append(out, &NewsArticle{
				Title:       strings.TrimSpace(item.Title),
				Content:     stripHTML(item.Description),
				URL:         item.Link,
				Source:      strings.TrimSpace(item.Source.Text),
				PublishedAt: parsePubDate(item.PubDate),
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	nc.cache.Set("google_news", "company", cacheKey, articles)
	return articles, nil
}

// stripHTML flattens an RSS description fragment to plain text.
func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}

func parsePubDate(raw string) time.Time {
	for _, format := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(format, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
