package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mirrorbird/internal/config"
	"mirrorbird/internal/ledger"
	"mirrorbird/internal/mirror"
)

type fakeTarget struct {
	submitted []string
	mediaIDs  [][]string
	nextID    int
}

func (f *fakeTarget) UploadMedia(_ context.Context, _ []byte, _ string, _ string) (string, error) {
	f.nextID++
	return fmt.Sprintf("media-%d", f.nextID), nil
}

func (f *fakeTarget) SubmitStatus(_ context.Context, text string, mediaIDs []string) (string, error) {
	f.submitted = append(f.submitted, text)
	f.mediaIDs = append(f.mediaIDs, mediaIDs)
	return fmt.Sprintf("9%03d", len(f.submitted)), nil
}

func timelineFixture(t *testing.T) string {
	t.Helper()
	layout := "Jan 2, 2006 · 3:04 PM UTC"
	newer := time.Now().UTC().Add(-1 * time.Hour).Format(layout)
	older := time.Now().UTC().Add(-2 * time.Hour).Format(layout)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta property="og:title" content="Bird Watcher (@BirdWatcher) | mirror"></head>
<body>
<div class="timeline">
  <div class="timeline-item">
    <a class="tweet-link" href="/BirdWatcher/status/102#m"></a>
    <div class="fullname">Bird Watcher</div>
    <div class="username">@BirdWatcher</div>
    <span class="tweet-date"><a title="%s">ts</a></span>
    <div class="tweet-content">second post</div>
  </div>
  <div class="timeline-item">
    <a class="tweet-link" href="/BirdWatcher/status/101#m"></a>
    <div class="fullname">Bird Watcher</div>
    <div class="username">@BirdWatcher</div>
    <span class="tweet-date"><a title="%s">ts</a></span>
    <div class="tweet-content">first post</div>
  </div>
</div>
</body>
</html>`, newer, older)
}

func testConfig(t *testing.T, mediaDir string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source.Account = "birdwatcher"
	cfg.Target.Instance = "mastodon.example"
	cfg.Target.Account = "mirror"
	cfg.Freshness.MinDelayMinutes = 0
	cfg.Freshness.MaxAgeDays = 1
	off := false
	cfg.Posting.BackLink = &off
	cfg.Media.Dir = mediaDir
	cfg.Ledger.Retention = 100
	return cfg
}

func TestRunPublishesOldestFirst(t *testing.T) {
	t.Setenv("MIRRORBIRD_MIRROR_RPS", "1000")
	page := timelineFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	src, err := mirror.New([]string{srv.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	led, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer led.Close()

	target := &fakeTarget{}
	mediaDir := t.TempDir()
	cfg := testConfig(t, mediaDir)

	if err := Run(context.Background(), cfg, src, target, led); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(target.submitted) != 2 {
		t.Fatalf("submitted %d statuses, want 2", len(target.submitted))
	}
	if !strings.Contains(target.submitted[0], "first post") {
		t.Errorf("oldest post not published first: %q", target.submitted[0])
	}
	if !strings.Contains(target.submitted[1], "second post") {
		t.Errorf("newest post not published last: %q", target.submitted[1])
	}

	// canonical capitalization from og:title feeds the dedup key
	ok, err := led.Exists(context.Background(), ledger.Key{
		SourceAccount: "BirdWatcher",
		TargetService: "mastodon.example",
		TargetAccount: "mirror",
		PostID:        "/BirdWatcher/status/101",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("delivery not recorded under canonical account")
	}

	// per-run workspace is gone
	if _, err := os.Stat(filepath.Join(mediaDir, "BirdWatcher")); !os.IsNotExist(err) {
		t.Errorf("media workspace not cleaned up: %v", err)
	}
}

func TestRunSecondPassPublishesNothing(t *testing.T) {
	t.Setenv("MIRRORBIRD_MIRROR_RPS", "1000")
	page := timelineFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	src, err := mirror.New([]string{srv.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	led, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer led.Close()

	target := &fakeTarget{}
	cfg := testConfig(t, t.TempDir())

	for i := 0; i < 2; i++ {
		if err := Run(context.Background(), cfg, src, target, led); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(target.submitted) != 2 {
		t.Fatalf("submitted %d statuses across two runs, want 2", len(target.submitted))
	}
}

func TestRunSkipsStalePosts(t *testing.T) {
	t.Setenv("MIRRORBIRD_MIRROR_RPS", "1000")
	layout := "Jan 2, 2006 · 3:04 PM UTC"
	old := time.Now().UTC().Add(-72 * time.Hour).Format(layout)
	page := fmt.Sprintf(`<html>
<head><meta property="og:title" content="Bird Watcher (@BirdWatcher) | mirror"></head>
<body><div class="timeline">
  <div class="timeline-item">
    <a class="tweet-link" href="/BirdWatcher/status/100#m"></a>
    <div class="fullname">Bird Watcher</div>
    <div class="username">@BirdWatcher</div>
    <span class="tweet-date"><a title="%s">ts</a></span>
    <div class="tweet-content">ancient post</div>
  </div>
</div></body></html>`, old)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	src, err := mirror.New([]string{srv.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	led, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer led.Close()

	target := &fakeTarget{}
	cfg := testConfig(t, t.TempDir())

	if err := Run(context.Background(), cfg, src, target, led); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(target.submitted) != 0 {
		t.Fatalf("stale post published: %v", target.submitted)
	}
	n, err := led.Count(context.Background(), "BirdWatcher")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("stale post recorded in ledger")
	}
}

func TestRunAbortsOnFetchFailure(t *testing.T) {
	t.Setenv("MIRRORBIRD_MIRROR_RPS", "1000")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	src, err := mirror.New([]string{srv.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	led, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer led.Close()

	cfg := testConfig(t, t.TempDir())
	if err := Run(context.Background(), cfg, src, &fakeTarget{}, led); err == nil {
		t.Fatal("expected run-level error on fetch failure")
	}
}
