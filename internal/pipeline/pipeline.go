// Package pipeline drives one full mirror run for one source account:
// fetch, classify, reconstruct, extract, assemble, filter, dedup-check,
// publish, ledger write, prune. Single-threaded by design; the operator
// serializes invocations.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"mirrorbird/internal/config"
	"mirrorbird/internal/ingest"
	"mirrorbird/internal/ledger"
	"mirrorbird/internal/logging"
	"mirrorbird/internal/media"
	"mirrorbird/internal/metrics"
	"mirrorbird/internal/mirror"
	"mirrorbird/internal/model"
	"mirrorbird/internal/publish"
	"mirrorbird/internal/urlclean"
)

// Run executes one pipeline run. Run-level failures (timeline fetch, page
// shape) abort with an error; a single post's failure only skips that post.
// The per-run media workspace is removed on every exit path.
func Run(ctx context.Context, cfg config.Config, src *mirror.Client, target publish.Target, led *ledger.Ledger) error {
	start := time.Now()
	metrics.RunsTotal.Inc()

	tl, err := src.FetchTimeline(ctx, cfg.Source.Account)
	if err != nil {
		metrics.RunErrors.Inc()
		return fmt.Errorf("timeline for %s: %w", cfg.Source.Account, err)
	}
	account := tl.Account
	logging.Info("run_start", map[string]any{"account": account, "items": len(tl.Items)})

	ws := media.NewWorkspace(cfg.Media.Dir)
	defer func() {
		if err := ws.Cleanup(account); err != nil {
			logging.Warn("media_cleanup_failed", map[string]any{"account": account, "error": err.Error()})
		}
	}()

	cleaner := urlclean.New(cfg.Links.TrackerParams, cfg.Links.Substitutions)
	extractor := ingest.NewExtractor(ws, ingest.Policy{
		CaptureVideo: cfg.Media.CaptureVideo,
		RequireVideo: cfg.Media.RequireVideo,
	}, src.BaseURL())
	pub := publish.New(target, ws, led)
	now := time.Now().UTC()

	// oldest first, so the target timeline keeps the source order
	for i := len(tl.Items) - 1; i >= 0; i-- {
		item := tl.Items[i]
		metrics.PostsSeen.Inc()
		if err := processItem(ctx, cfg, item, account, now, src.BaseURL(), cleaner, extractor, pub, led); err != nil {
			metrics.PostsFailed.Inc()
			logging.Error("post_failed", map[string]any{"account": account, "post": item.PostID, "error": err.Error()})
		}
	}

	removed, err := led.PruneToMostRecent(ctx, account, cfg.Ledger.Retention)
	if err != nil {
		logging.Error("prune_failed", map[string]any{"account": account, "error": err.Error()})
	} else if removed > 0 {
		metrics.LedgerPruned.Add(float64(removed))
		logging.Info("ledger_pruned", map[string]any{"account": account, "removed": removed})
	}

	metrics.ObserveRunDuration(start)
	logging.Info("run_done", map[string]any{"account": account, "elapsed": time.Since(start).String()})
	return nil
}

func processItem(ctx context.Context, cfg config.Config, item mirror.Item, account string, now time.Time,
	base *url.URL, cleaner *urlclean.Cleaner, extractor *ingest.Extractor, pub *publish.Publisher, led *ledger.Ledger) error {

	meta, err := ingest.ParseMeta(item.PostID, item.StatusID, item.Sel)
	if err != nil {
		skip(item, "shape")
		return nil
	}
	if meta.IsReply && cfg.Posting.SkipReplies {
		skip(item, "reply")
		return nil
	}
	if cfg.Posting.SkipReposts && !strings.EqualFold(meta.AuthorHandle, account) {
		skip(item, "repost")
		return nil
	}

	// freshness comes before the ledger lookup and before any media fetch;
	// out-of-window posts must cost nothing
	if !publish.Fresh(model.Post{Timestamp: meta.Timestamp}, now, cfg.Freshness.MinDelayHours(), cfg.Freshness.MaxAgeHours()) {
		skip(item, "stale")
		return nil
	}

	key := ledger.Key{
		SourceAccount: account,
		TargetService: cfg.Target.Instance,
		TargetAccount: cfg.Target.Account,
		PostID:        item.PostID,
	}
	exists, err := led.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if exists {
		skip(item, "duplicate")
		return nil
	}

	body := item.Sel.Find(".tweet-content").First()
	if len(body.Nodes) == 0 {
		skip(item, "shape")
		return nil
	}
	frags := ingest.ClassifyChildren(body.Nodes[0], base)
	text := ingest.Reconstruct(ctx, frags, cleaner)

	att, err := extractor.Extract(ctx, item.Sel, account, item.StatusID)
	if err != nil {
		return fmt.Errorf("attachments: %w", err)
	}
	if len(att.Photos) == 0 && att.Video == nil {
		if ref := extractor.CardFallback(ctx, text); ref != nil {
			att.Photos = append(att.Photos, *ref)
		}
	}

	post := ingest.Assemble(meta, text, att, ingest.AssembleOptions{
		Account:    account,
		Footer:     cfg.Posting.Footer,
		BackLink:   cfg.Posting.BackLinkEnabled(),
		OriginBase: cfg.Posting.OriginBase,
	})

	id, err := pub.Publish(ctx, post, key)
	if err != nil {
		return err
	}
	metrics.PostsPublished.Inc()
	logging.Info("post_published", map[string]any{"account": account, "post": item.PostID, "delivered": id})
	return nil
}

func skip(item mirror.Item, reason string) {
	metrics.PostsSkipped.WithLabelValues(reason).Inc()
	logging.Debug("post_skipped", map[string]any{"post": item.PostID, "reason": reason})
}

// RunLoop runs Run on a ticker until ctx is cancelled. Runs never overlap:
// the next tick waits for the previous run to finish.
func RunLoop(ctx context.Context, cfg config.Config, src *mirror.Client, target publish.Target, led *ledger.Ledger, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	if err := Run(ctx, cfg, src, target, led); err != nil {
		logging.Error("run_error", map[string]any{"error": err.Error()})
	}
	for {
		select {
		case <-ctx.Done():
			logging.Info("run_loop_stop", nil)
			return ctx.Err()
		case <-t.C:
			if err := Run(ctx, cfg, src, target, led); err != nil {
				logging.Error("run_error", map[string]any{"error": err.Error()})
			}
		}
	}
}
