package ingest

import (
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mirrorbird/internal/model"
	"mirrorbird/internal/util"
)

// ErrItemShape means a timeline item is missing metadata every known markup
// version carries. The item is skipped; siblings keep processing.
var ErrItemShape = errors.New("ingest: post item missing required metadata")

// Meta is the per-post metadata parsed once from fixed document locations.
type Meta struct {
	PostID        string
	StatusID      string
	AuthorName    string
	AuthorHandle  string
	Timestamp     time.Time
	IsReply       bool
	ReplyToHandle string
}

// Known timestamp layouts across mirror markup versions.
var dateLayouts = []string{
	"Jan 2, 2006 · 3:04 PM UTC",
	"3:04 PM - 2 Jan 2006",
}

// ParseMeta reads author, timestamp and reply information from one timeline
// item subtree.
func ParseMeta(postID, statusID string, sel *goquery.Selection) (Meta, error) {
	m := Meta{PostID: postID, StatusID: statusID}

	m.AuthorName = util.NormalizeWhitespace(sel.Find(".fullname").First().Text())
	m.AuthorHandle = strings.TrimPrefix(util.NormalizeWhitespace(sel.Find(".username").First().Text()), "@")
	if m.AuthorName == "" || m.AuthorHandle == "" {
		return m, ErrItemShape
	}

	title, ok := sel.Find(".tweet-date a").First().Attr("title")
	if !ok {
		return m, ErrItemShape
	}
	var err error
	for _, layout := range dateLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, title); err == nil {
			m.Timestamp = ts.UTC()
			break
		}
	}
	if m.Timestamp.IsZero() {
		return m, ErrItemShape
	}

	if replying := sel.Find(".replying-to").First(); replying.Length() > 0 {
		m.IsReply = true
		m.ReplyToHandle = strings.TrimPrefix(util.NormalizeWhitespace(replying.Find("a").First().Text()), "@")
	}
	return m, nil
}

// AssembleOptions carries the operator-facing text policy.
type AssembleOptions struct {
	// Account is the mirrored handle, canonical capitalization. A differing
	// author marks the post as a repost.
	Account    string
	Footer     string
	BackLink   bool
	OriginBase string
}

// Assemble merges metadata, reconstructed text and attachments into the
// canonical post. Reply and repost prefixes may combine; the reply prefix
// comes first. Footer and back-link are appended last.
func Assemble(meta Meta, text string, att Attachments, opts AssembleOptions) model.Post {
	body := text + att.Placeholder

	var prefix strings.Builder
	if meta.IsReply && meta.ReplyToHandle != "" {
		prefix.WriteString("Replying to @" + meta.ReplyToHandle + "\n\n")
	}
	isRepost := !strings.EqualFold(meta.AuthorHandle, opts.Account)
	if isRepost {
		prefix.WriteString("Repost from " + meta.AuthorName + " (@" + meta.AuthorHandle + ")\n\n")
	}
	full := prefix.String() + body
	if opts.Footer != "" {
		full += "\n\n" + opts.Footer
	}
	if opts.BackLink {
		full += "\n\nOriginal post: " + opts.OriginBase + meta.PostID
	}

	return model.Post{
		SourceAccount: opts.Account,
		ID:            meta.PostID,
		StatusID:      meta.StatusID,
		AuthorName:    meta.AuthorName,
		AuthorHandle:  meta.AuthorHandle,
		Timestamp:     meta.Timestamp,
		Text:          full,
		Photos:        att.Photos,
		Video:         att.Video,
		IsReply:       meta.IsReply,
		ReplyToHandle: meta.ReplyToHandle,
		IsRepost:      isRepost,
	}
}
