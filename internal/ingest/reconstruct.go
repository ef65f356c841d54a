package ingest

import (
	"context"
	"strings"

	"mirrorbird/internal/logging"
	"mirrorbird/internal/model"
	"mirrorbird/internal/util"
)

// LinkResolver normalizes an external link before it enters the body text.
// urlclean.Cleaner implements it; it must never fail, only pass through.
type LinkResolver interface {
	Resolve(ctx context.Context, raw string) string
}

// Reconstruct folds an ordered fragment sequence into the post body.
// External links go through the resolver; a single space is inserted before
// a link when the markup omitted it. Unsupported fragments contribute
// nothing but are logged so new markup shapes get noticed.
func Reconstruct(ctx context.Context, frags []model.Fragment, links LinkResolver) string {
	var b strings.Builder
	for _, f := range frags {
		switch f.Kind {
		case model.FragmentLink:
			resolved := f.URL
			if links != nil {
				resolved = links.Resolve(ctx, f.URL)
			}
			if !util.EndsWithWhitespace(b.String()) {
				b.WriteByte(' ')
			}
			b.WriteString(resolved)
		case model.FragmentUnsupported:
			logging.Warn("unsupported_fragment", map[string]any{"raw": truncate(f.Raw, 200)})
		default:
			b.WriteString(f.Text)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
