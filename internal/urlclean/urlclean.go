// Package urlclean normalizes outbound links before they are re-published:
// shortener redirects are resolved to their final target, hosts of known
// platforms are swapped for configured privacy frontends, and tracking
// parameters are stripped from query and fragment.
package urlclean

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mirrorbird/internal/config"
)

const deredirTimeout = 5 * time.Second

// Cleaner applies the link pipeline. Zero-value Cleaner is not usable; use New.
type Cleaner struct {
	// HTTPClient performs redirect resolution. Exposed so tests can shorten
	// timeouts; defaults to a client with a bounded timeout.
	HTTPClient *http.Client

	deny   map[string]struct{}
	groups []config.Substitution
}

func New(trackerParams []string, subs []config.Substitution) *Cleaner {
	deny := make(map[string]struct{}, len(trackerParams))
	for _, p := range trackerParams {
		deny[p] = struct{}{}
	}
	return &Cleaner{
		HTTPClient: &http.Client{Timeout: deredirTimeout},
		deny:       deny,
		groups:     subs,
	}
}

// Resolve runs the full pipeline: de-redirect, substitute, strip trackers.
// It never fails; each stage passes its input through on any error.
func (c *Cleaner) Resolve(ctx context.Context, raw string) string {
	return c.Clean(c.Substitute(c.Deredir(ctx, raw)))
}

// Deredir returns the URL the page really downloads from. Any network
// failure or timeout keeps the original URL unchanged; a broken link must
// never fail the post it appears in.
func (c *Cleaner) Deredir(ctx context.Context, raw string) string {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return raw
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return raw
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return raw
	}
	defer resp.Body.Close()
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return raw
}

// Substitute replaces the host with a randomly chosen mirror host when it
// matches one of the configured source-domain groups. Path, query and
// fragment are left untouched.
func (c *Cleaner) Substitute(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.ToLower(u.Hostname())
	for _, g := range c.groups {
		if len(g.Mirrors) == 0 {
			continue
		}
		for _, h := range g.Hosts {
			if host == strings.ToLower(h) {
				u.Host = g.Mirrors[rand.Intn(len(g.Mirrors))]
				return u.String()
			}
		}
	}
	return raw
}

// Clean strips deny-listed tracking parameters from the query string, and
// from the fragment when the fragment itself has key=value&key=value shape.
// Pair order and blank values are preserved.
func (c *Cleaner) Clean(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = c.stripPairs(u.RawQuery)
	if strings.Contains(u.Fragment, "=") {
		u.Fragment = c.stripPairs(u.Fragment)
	}
	return u.String()
}

func (c *Cleaner) stripPairs(q string) string {
	if q == "" {
		return q
	}
	var kept []string
	for _, pair := range strings.Split(q, "&") {
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if _, denied := c.deny[key]; denied {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}
