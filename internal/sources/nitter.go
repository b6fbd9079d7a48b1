package sources

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/web3-frozen/tao-metrics/internal/fetch"
)

const (
	DefaultNitterInstance = "https://nitter.net"
	DefaultAlertAccount   = "bittensor_alert"
)

var statusIDRe = regexp.MustCompile(`/status/(\d+)`)

type Alert struct {
	ID                  string   `json:"id"`
	Text                string   `json:"text"`
	EditHistoryTweetIDs []string `json:"edit_history_tweet_ids"`
	AuthorID            string   `json:"author_id"`
	CreatedAt           *string  `json:"created_at"`
	Link                string   `json:"link,omitempty"`
}

type AlertFeed struct {
	FetchedAt   time.Time `json:"fetched_at"`
	Alerts      []Alert   `json:"alerts"`
	Skipped     bool      `json:"_skipped,omitempty"`
	WaitSeconds int       `json:"wait_seconds,omitempty"`
}

// Nitter reads a user's timeline from a Nitter instance's RSS feed.
type Nitter struct {
	client   *fetch.Client
	instance string
	parser   *gofeed.Parser
}

func NewNitter(instance string, client *fetch.Client) *Nitter {
	if instance == "" {
		instance = DefaultNitterInstance
	}
	return &Nitter{
		client:   client,
		instance: strings.TrimRight(instance, "/"),
		parser:   gofeed.NewParser(),
	}
}

// StatusID extracts the numeric id from a status link.
func StatusID(link string) string {
	m := statusIDRe.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// newerThan compares decimal ids that may exceed 64 bits.
func newerThan(id, sinceID string) bool {
	a, ok1 := new(big.Int).SetString(id, 10)
	b, ok2 := new(big.Int).SetString(sinceID, 10)
	if !ok1 || !ok2 {
		return true
	}
	return a.Cmp(b) > 0
}

// FetchAlerts returns up to limit alerts newer than sinceID. When the feed is
// rate limited beyond the client's wait budget the result is marked skipped
// instead of failing.
func (n *Nitter) FetchAlerts(ctx context.Context, user string, limit int, sinceID string) (*AlertFeed, error) {
	if user == "" {
		user = DefaultAlertAccount
	}
	url := fmt.Sprintf("%s/%s/rss", n.instance, user)
	body, err := n.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/rss+xml")
		return req, nil
	})
	var rle *fetch.RateLimitError
	if errors.As(err, &rle) {
		return &AlertFeed{
			FetchedAt:   time.Now().UTC(),
			Alerts:      []Alert{},
			Skipped:     true,
			WaitSeconds: int(rle.Wait.Seconds()),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nitter rss: %w", err)
	}

	feed, err := n.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse nitter rss: %w", err)
	}
	return &AlertFeed{FetchedAt: time.Now().UTC(), Alerts: AlertsFromFeed(feed, limit, sinceID)}, nil
}

// AlertsFromFeed converts feed items in feed order.
func AlertsFromFeed(feed *gofeed.Feed, limit int, sinceID string) []Alert {
	alerts := []Alert{}
	for _, item := range feed.Items {
		if limit > 0 && len(alerts) >= limit {
			break
		}
		id := StatusID(item.Link)
		if sinceID != "" && id != "" && !newerThan(id, sinceID) {
			continue
		}
		text := item.Description
		if text == "" {
			text = item.Title
		}
		a := Alert{
			ID:                  id,
			Text:                text,
			EditHistoryTweetIDs: []string{},
			Link:                item.Link,
		}
		if item.PublishedParsed != nil {
			s := item.PublishedParsed.UTC().Format(time.RFC3339)
			a.CreatedAt = &s
		}
		alerts = append(alerts, a)
	}
	return alerts
}
