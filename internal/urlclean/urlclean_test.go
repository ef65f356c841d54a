package urlclean

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"mirrorbird/internal/config"
)

var denyList = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"mkt_tok", "xtor",
}

func TestCleanStripsTrackers(t *testing.T) {
	c := New(denyList, nil)
	cases := []struct {
		in, want string
	}{
		{
			"https://example.com/video/this-aerial-ropeway?utm_source=Twitter&utm_medium=video&utm_campaign=organic&utm_content=Nov13&a=aaa&b=1",
			"https://example.com/video/this-aerial-ropeway?a=aaa&b=1",
		},
		{
			// fragment with key=value&key=value shape gets the same treatment
			"https://example.com/a?utm_source=x&b=1#mkt_tok=tik&mkt_tik=tok",
			"https://example.com/a?b=1#mkt_tik=tok",
		},
		{
			// plain anchors are not pair-shaped and stay intact
			"https://docs.example.com/keymap.html#movement",
			"https://docs.example.com/keymap.html#movement",
		},
		{
			// blank values and pair order survive
			"https://example.com/?b=&utm_term=z&a=1",
			"https://example.com/?b=&a=1",
		},
		{"https://example.com/plain", "https://example.com/plain"},
	}
	for _, tc := range cases {
		if got := c.Clean(tc.in); got != tc.want {
			t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSubstituteSwapsHostOnly(t *testing.T) {
	c := New(nil, []config.Substitution{
		{Hosts: []string{"youtube.com", "www.youtube.com"}, Mirrors: []string{"yewtu.be"}},
	})
	got := c.Substitute("https://www.youtube.com/watch?v=abc#t=1")
	want := "https://yewtu.be/watch?v=abc#t=1"
	if got != want {
		t.Fatalf("Substitute = %q, want %q", got, want)
	}
	if got := c.Substitute("https://example.com/watch"); got != "https://example.com/watch" {
		t.Fatalf("unmatched host rewritten: %q", got)
	}
}

func TestDeredirFollowsRedirect(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/short" {
			http.Redirect(w, r, srv.URL+"/real/path", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(nil, nil)
	got := c.Deredir(context.Background(), srv.URL+"/short")
	if got != srv.URL+"/real/path" {
		t.Fatalf("Deredir = %q, want %q", got, srv.URL+"/real/path")
	}
}

func TestDeredirKeepsURLOnFailure(t *testing.T) {
	c := New(nil, nil)
	// closed port: connection refused, URL must pass through unchanged
	in := "http://127.0.0.1:1/short"
	if got := c.Deredir(context.Background(), in); got != in {
		t.Fatalf("Deredir = %q, want input unchanged", got)
	}
	if got := c.Deredir(context.Background(), "not-a-url"); got != "not-a-url" {
		t.Fatalf("non-http input rewritten: %q", got)
	}
}

func TestResolvePipeline(t *testing.T) {
	c := New(denyList, nil)
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/path?utm_campaign=z&keep=1", http.StatusFound)
	}))
	defer redirecting.Close()

	got := c.Resolve(context.Background(), redirecting.URL+"/x")
	want := final.URL + "/path?keep=1"
	if got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}
