package ingest

import (
	"context"
	"testing"

	"mirrorbird/internal/model"
)

// fakeResolver stands in for the urlclean pipeline.
type fakeResolver map[string]string

func (f fakeResolver) Resolve(_ context.Context, raw string) string {
	if v, ok := f[raw]; ok {
		return v
	}
	return raw
}

func TestReconstructResolvesLinks(t *testing.T) {
	frags := []model.Fragment{
		{Kind: model.FragmentText, Text: "see "},
		{Kind: model.FragmentLink, URL: "http://t.co/x"},
		{Kind: model.FragmentText, Text: " now"},
	}
	links := fakeResolver{"http://t.co/x": "http://real.example/path"}
	got := Reconstruct(context.Background(), frags, links)
	want := "see http://real.example/path now"
	if got != want {
		t.Fatalf("Reconstruct = %q, want %q (no duplicate space)", got, want)
	}
}

func TestReconstructInsertsMissingSpace(t *testing.T) {
	frags := []model.Fragment{
		{Kind: model.FragmentText, Text: "breaking:"},
		{Kind: model.FragmentLink, URL: "https://example.com/a"},
	}
	got := Reconstruct(context.Background(), frags, nil)
	if got != "breaking: https://example.com/a" {
		t.Fatalf("Reconstruct = %q", got)
	}
}

func TestReconstructLinkAtStart(t *testing.T) {
	frags := []model.Fragment{
		{Kind: model.FragmentLink, URL: "https://example.com/a"},
	}
	if got := Reconstruct(context.Background(), frags, nil); got != "https://example.com/a" {
		t.Fatalf("leading space inserted at start of body: %q", got)
	}
}

func TestReconstructOrderAndGlyphs(t *testing.T) {
	frags := []model.Fragment{
		{Kind: model.FragmentText, Text: "hi "},
		{Kind: model.FragmentMention, Text: "@friend"},
		{Kind: model.FragmentText, Text: " "},
		{Kind: model.FragmentHashtag, Text: "#birds"},
		{Kind: model.FragmentText, Text: " "},
		{Kind: model.FragmentEmoji, Text: "\U0001F600"},
	}
	got := Reconstruct(context.Background(), frags, nil)
	if got != "hi @friend #birds \U0001F600" {
		t.Fatalf("Reconstruct = %q", got)
	}
}

func TestReconstructDropsUnsupported(t *testing.T) {
	frags := []model.Fragment{
		{Kind: model.FragmentText, Text: "a"},
		{Kind: model.FragmentUnsupported, Raw: "<span>?</span>"},
		{Kind: model.FragmentText, Text: "b"},
	}
	if got := Reconstruct(context.Background(), frags, nil); got != "ab" {
		t.Fatalf("Reconstruct = %q, unsupported must contribute nothing", got)
	}
}
