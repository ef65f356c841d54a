// Package mirror fetches timeline pages from the read-only source mirror and
// slices them into per-post subtrees. It recognizes a bounded set of markup
// shapes; an unrelated page structure is an error, never silent misbehavior.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// ErrUnrecognizedPage means the fetched document matches no known markup
// version. The run for that account must abort rather than guess.
var ErrUnrecognizedPage = errors.New("mirror: page does not match any known markup version")

// Client fetches pages from a list of interchangeable mirror instances.
// Instances are community-run and flaky; the first one that serves a
// recognizable page wins and stays active for the rest of the run.
type Client struct {
	bases      []*url.URL
	active     *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	agents     []string
}

func New(bases []string, agents []string) (*Client, error) {
	if len(bases) == 0 {
		return nil, errors.New("mirror: no base urls configured")
	}
	parsed := make([]*url.URL, 0, len(bases))
	for _, b := range bases {
		u, err := url.Parse(b)
		if err != nil {
			return nil, fmt.Errorf("mirror base url %q: %w", b, err)
		}
		parsed = append(parsed, u)
	}
	if len(agents) == 0 {
		agents = []string{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:84.0) Gecko/20100101 Firefox/84.0"}
	}
	return &Client{
		bases:      parsed,
		active:     parsed[0],
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    newDefaultLimiter(),
		agents:     agents,
	}, nil
}

// BaseURL returns the active mirror base, used to resolve relative hrefs.
func (c *Client) BaseURL() *url.URL { return c.active }

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.agents[rand.Intn(len(c.agents))])
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// Timeline is the parsed timeline page of one account.
type Timeline struct {
	// Account is the mirrored handle with the capitalization the origin
	// platform uses, recovered from the page's og:title meta tag.
	Account string
	Doc     *goquery.Document
	Items   []Item
}

// Item is one post subtree drawn from the timeline in document order.
type Item struct {
	PostID   string // permalink path, e.g. /user/status/123
	StatusID string // trailing numeric id
	Sel      *goquery.Selection
}

var handleInTitle = regexp.MustCompile(`\(@([^)]+)\)`)

// FetchTimeline downloads and parses the timeline page for account, trying
// each configured mirror in order until one serves a recognizable page.
func (c *Client) FetchTimeline(ctx context.Context, account string) (*Timeline, error) {
	var lastErr error
	for _, base := range c.bases {
		tl, err := c.fetchFrom(ctx, base, account)
		if err != nil {
			lastErr = err
			continue
		}
		c.active = base
		return tl, nil
	}
	return nil, fmt.Errorf("all mirrors failed: %w", lastErr)
}

func (c *Client) fetchFrom(ctx context.Context, base *url.URL, account string) (*Timeline, error) {
	pageURL := base.JoinPath(account).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch timeline: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch timeline: status %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse timeline: %w", err)
	}

	doc = c.unlockSensitive(ctx, pageURL, doc)

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	items := doc.Find(".timeline .timeline-item")
	if title == "" && items.Length() == 0 {
		return nil, ErrUnrecognizedPage
	}

	tl := &Timeline{Account: account, Doc: doc}
	if m := handleInTitle.FindStringSubmatch(title); m != nil {
		tl.Account = m[1]
	}

	items.Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Find("a.tweet-link").Attr("href")
		if !ok {
			return // show-more and similar filler items carry no permalink
		}
		postID := strings.TrimSuffix(href, "#m")
		parts := strings.Split(strings.Trim(postID, "/"), "/")
		if len(parts) < 3 {
			return
		}
		tl.Items = append(tl.Items, Item{
			PostID:   postID,
			StatusID: parts[len(parts)-1],
			Sel:      s,
		})
	})
	return tl, nil
}

// unlockSensitive re-submits the sensitive-media consent form when the page
// carries one, so censored attachments become visible. Best effort: any
// failure keeps the censored document.
func (c *Client) unlockSensitive(ctx context.Context, pageURL string, doc *goquery.Document) *goquery.Document {
	form := doc.Find(".accept-data")
	if form.Length() == 0 {
		return doc
	}
	token, ok := doc.Find(`input[name="authenticity_token"]`).Attr("value")
	if !ok {
		return doc
	}
	data := url.Values{
		"show_media":         {"1"},
		"authenticity_token": {token},
		"commit":             {"Display media"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pageURL, strings.NewReader(data.Encode()))
	if err != nil {
		return doc
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(ctx, req)
	if err != nil {
		return doc
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return doc
	}
	unlocked, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return doc
	}
	return unlocked
}
