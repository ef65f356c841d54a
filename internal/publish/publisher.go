package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"mirrorbird/internal/ledger"
	"mirrorbird/internal/logging"
	"mirrorbird/internal/masto"
	"mirrorbird/internal/metrics"
	"mirrorbird/internal/model"
)

// ErrDeliveryFailed means the post could not be submitted this run. It stays
// un-ledgered and becomes eligible again on the next run.
var ErrDeliveryFailed = errors.New("publish: delivery failed")

// Target is the slice of the posting service the publisher needs.
type Target interface {
	UploadMedia(ctx context.Context, data []byte, mime, filename string) (string, error)
	SubmitStatus(ctx context.Context, text string, mediaIDs []string) (string, error)
}

// MediaFetcher downloads photo bytes for upload. media.Workspace implements it.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Publisher delivers admitted posts exactly once: media first, then the
// status, then the ledger write that seals the delivery.
type Publisher struct {
	target Target
	fetch  MediaFetcher
	led    *ledger.Ledger

	// Backoff before the single retry of a transiently failed submission.
	// A field so tests do not sleep 15 seconds.
	Backoff time.Duration
}

func New(target Target, fetch MediaFetcher, led *ledger.Ledger) *Publisher {
	return &Publisher{target: target, fetch: fetch, led: led, Backoff: 15 * time.Second}
}

// Publish uploads the post's media, submits the status and records the
// delivery. Submission failure leaves no ledger row; a ledger conflict after
// a confirmed submission is an ordering bug and fatal for this post only.
func (p *Publisher) Publish(ctx context.Context, post model.Post, key ledger.Key) (string, error) {
	mediaIDs := p.uploadMedia(ctx, post)

	id, err := p.target.SubmitStatus(ctx, post.Text, mediaIDs)
	if errors.Is(err, masto.ErrTransient) {
		logging.Info("submit_retry", map[string]any{"account": post.SourceAccount, "post": post.ID, "backoff": p.Backoff.String()})
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.Backoff):
		}
		id, err = p.target.SubmitStatus(ctx, post.Text, mediaIDs)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if err := p.led.Record(ctx, key, id); err != nil {
		// delivered but not recordable: surface loudly, never overwrite
		return id, fmt.Errorf("record delivery %s: %w", id, err)
	}
	return id, nil
}

// uploadMedia returns the media ids to attach. A primary video that fails to
// upload abandons all media for the post: photos are not a fallback once a
// video was intended. Photo failures are individually skipped.
func (p *Publisher) uploadMedia(ctx context.Context, post model.Post) []string {
	if post.Video != nil {
		data, mime, name, err := p.videoBytes(ctx, post.Video)
		if err == nil {
			var id string
			if id, err = p.target.UploadMedia(ctx, data, mime, name); err == nil {
				metrics.MediaUploads.WithLabelValues("ok").Inc()
				return []string{id}
			}
		}
		metrics.MediaUploads.WithLabelValues("rejected").Inc()
		logging.Warn("video_upload_failed", map[string]any{"account": post.SourceAccount, "post": post.ID, "error": err.Error()})
		return nil
	}

	var ids []string
	for _, ph := range post.Photos {
		data, mime, err := p.fetch.Fetch(ctx, ph.SourceURL)
		if err != nil {
			logging.Warn("photo_fetch_failed", map[string]any{"post": post.ID, "url": ph.SourceURL, "error": err.Error()})
			continue
		}
		id, err := p.target.UploadMedia(ctx, data, mime, path.Base(ph.SourceURL))
		if err != nil {
			metrics.MediaUploads.WithLabelValues("rejected").Inc()
			logging.Warn("photo_upload_failed", map[string]any{"post": post.ID, "url": ph.SourceURL, "error": err.Error()})
			continue
		}
		metrics.MediaUploads.WithLabelValues("ok").Inc()
		ids = append(ids, id)
	}
	return ids
}

func (p *Publisher) videoBytes(ctx context.Context, ref *model.MediaRef) ([]byte, string, string, error) {
	if ref.LocalPath != "" {
		data, err := os.ReadFile(ref.LocalPath)
		return data, "video/mp4", filepath.Base(ref.LocalPath), err
	}
	data, mime, err := p.fetch.Fetch(ctx, ref.SourceURL)
	return data, mime, path.Base(ref.SourceURL), err
}
