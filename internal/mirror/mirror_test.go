package mirror

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const timelinePage = `<!DOCTYPE html>
<html><head>
<meta property="og:title" content="Bird Watcher (@BirdWatcher)">
</head><body>
<div class="timeline">
  <div class="timeline-item">
    <a class="tweet-link" href="/BirdWatcher/status/101#m"></a>
    <div class="tweet-content">first</div>
  </div>
  <div class="timeline-item show-more"><a href="?cursor=x">Load more</a></div>
  <div class="timeline-item">
    <a class="tweet-link" href="/BirdWatcher/status/100#m"></a>
    <div class="tweet-content">second</div>
  </div>
</div>
</body></html>`

func newTestClient(t *testing.T, bases ...string) *Client {
	t.Helper()
	t.Setenv("MIRRORBIRD_MIRROR_RPS", "1000")
	c, err := New(bases, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFetchTimelineFailsOverToNextMirror(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer dead.Close()
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(timelinePage))
	}))
	defer alive.Close()

	c := newTestClient(t, dead.URL, alive.URL)
	tl, err := c.FetchTimeline(context.Background(), "birdwatcher")
	if err != nil {
		t.Fatal(err)
	}
	if len(tl.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(tl.Items))
	}
	if c.BaseURL().String() != alive.URL {
		t.Fatalf("active base = %s, want %s", c.BaseURL(), alive.URL)
	}
}

func TestFetchTimeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/birdwatcher" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(timelinePage))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	tl, err := c.FetchTimeline(context.Background(), "birdwatcher")
	if err != nil {
		t.Fatal(err)
	}
	// canonical capitalization comes from og:title
	if tl.Account != "BirdWatcher" {
		t.Fatalf("account = %q, want BirdWatcher", tl.Account)
	}
	if len(tl.Items) != 2 {
		t.Fatalf("items = %d, want 2 (filler item has no permalink)", len(tl.Items))
	}
	if tl.Items[0].PostID != "/BirdWatcher/status/101" || tl.Items[0].StatusID != "101" {
		t.Fatalf("item[0] = %+v", tl.Items[0])
	}
	if tl.Items[1].StatusID != "100" {
		t.Fatalf("item[1] = %+v", tl.Items[1])
	}
}

func TestFetchTimelineUnrecognizedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1>Welcome to a completely different site</h1></body></html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchTimeline(context.Background(), "birdwatcher")
	if !errors.Is(err, ErrUnrecognizedPage) {
		t.Fatalf("expected ErrUnrecognizedPage, got %v", err)
	}
}

func TestFetchTimelineStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.FetchTimeline(context.Background(), "birdwatcher"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestUnlockSensitive(t *testing.T) {
	var sawPost bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sawPost = true
			if r.FormValue("authenticity_token") != "tok123" {
				t.Errorf("token = %q", r.FormValue("authenticity_token"))
			}
			_, _ = w.Write([]byte(timelinePage))
			return
		}
		_, _ = w.Write([]byte(`<html><head>
<meta property="og:title" content="Bird Watcher (@BirdWatcher)"></head><body>
<div class="timeline">
  <form class="accept-data"><input name="authenticity_token" value="tok123"></form>
</div></body></html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	tl, err := c.FetchTimeline(context.Background(), "birdwatcher")
	if err != nil {
		t.Fatal(err)
	}
	if !sawPost {
		t.Fatal("consent form was not re-submitted")
	}
	if len(tl.Items) != 2 {
		t.Fatalf("items after unlock = %d, want 2", len(tl.Items))
	}
}
