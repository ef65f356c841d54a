package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mirrorbird/internal/logging"
	"mirrorbird/internal/media"
	"mirrorbird/internal/model"
	"mirrorbird/internal/util"
)

// VideoPlaceholder is appended to the body when a video exists in the source
// post but video capture is disabled.
const VideoPlaceholder = "\n\n[Video embedded in original post]"

// Policy controls video handling during extraction.
type Policy struct {
	// CaptureVideo downloads native videos for re-upload. Off by default;
	// the placeholder text is used instead.
	CaptureVideo bool
	// RequireVideo fails the post when its only attachment was a video we
	// could not fetch. Otherwise the post proceeds textual-only.
	RequireVideo bool
}

// Attachments is the extractor's result for one post.
type Attachments struct {
	Photos      []model.MediaRef
	Video       *model.MediaRef // at most one primary video (gif proxy or native)
	Placeholder string          // in-text substitute when video capture is off
}

// Extractor pulls structured media references out of a post's attachment
// subtree, downloading video files into the per-post workspace directory.
type Extractor struct {
	ws         *media.Workspace
	policy     Policy
	base       *url.URL
	cardClient *http.Client
}

func NewExtractor(ws *media.Workspace, policy Policy, base *url.URL) *Extractor {
	return &Extractor{
		ws:         ws,
		policy:     policy,
		base:       base,
		cardClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Extract walks the attachment container of one post item. Photos keep
// document order. A single animated-image proxy becomes the primary video
// via its re-encoded file; download failures there are swallowed. A native
// video is fetched only when capture is enabled, and its failure is fatal
// only under the RequireVideo policy with no other attachment present.
func (e *Extractor) Extract(ctx context.Context, sel *goquery.Selection, account, statusID string) (Attachments, error) {
	var att Attachments

	sel.Find(".attachments .still-image").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		src := strings.TrimSuffix(e.absolute(href), ":small")
		att.Photos = append(att.Photos, model.MediaRef{Kind: model.MediaPhoto, SourceURL: src})
	})

	if gifSrc, ok := sel.Find(".attachments .gif source").First().Attr("src"); ok {
		src := e.absolute(gifSrc)
		local, err := e.ws.DownloadFile(ctx, src, account, statusID)
		if err != nil {
			logging.Warn("gif_download_failed", map[string]any{"account": account, "status": statusID, "error": err.Error()})
		} else {
			att.Video = &model.MediaRef{Kind: model.MediaGif, SourceURL: src, LocalPath: local}
		}
	}

	if video := sel.Find(".attachments .video-container").First(); video.Length() > 0 && att.Video == nil {
		if !e.policy.CaptureVideo {
			att.Placeholder = VideoPlaceholder
			return att, nil
		}
		src, ok := video.Attr("data-url")
		if !ok {
			src, _ = video.Find("source").First().Attr("src")
		}
		if src == "" {
			att.Placeholder = VideoPlaceholder
			return att, nil
		}
		src = e.absolute(src)
		local, err := e.ws.DownloadFile(ctx, src, account, statusID)
		if err != nil {
			if e.policy.RequireVideo && len(att.Photos) == 0 {
				return Attachments{}, fmt.Errorf("video download: %w", err)
			}
			logging.Warn("video_download_failed", map[string]any{"account": account, "status": statusID, "error": err.Error()})
			return att, nil
		}
		att.Video = &model.MediaRef{Kind: model.MediaVideo, SourceURL: src, LocalPath: local}
	}

	return att, nil
}

// CardFallback scans the first linked page in the reconstructed text for a
// social-preview image meta tag. Short timeout, silent on every error: a
// missing preview is not a defect.
func (e *Extractor) CardFallback(ctx context.Context, text string) *model.MediaRef {
	link := util.FirstHTTPLink(text)
	if link == "" || !strings.HasSuffix(link, ".html") {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil
	}
	resp, err := e.cardClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil
	}
	content, ok := doc.Find(`meta[name="twitter:image"], meta[name="twitter:image:src"], meta[property="og:image"]`).First().Attr("content")
	if !ok || content == "" {
		return nil
	}
	return &model.MediaRef{Kind: model.MediaPhoto, SourceURL: content}
}

func (e *Extractor) absolute(href string) string {
	if e.base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.base.ResolveReference(ref).String()
}
