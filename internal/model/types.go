package model

import "time"

// FragmentKind enumerates the semantic shapes a post body node can take.
type FragmentKind int

const (
	FragmentText FragmentKind = iota
	FragmentMention
	FragmentHashtag
	FragmentLink
	FragmentEmoji
	FragmentUnsupported
)

// Fragment is one classified piece of a post body. Exactly one fragment is
// produced per body node; nodes that match no known shape become
// FragmentUnsupported and carry their raw markup in Raw.
type Fragment struct {
	Kind FragmentKind
	Text string // visible text: plain text, @mention, #hashtag, emoji glyphs
	URL  string // target of an external link
	Raw  string // raw markup of an unsupported node
}

// MediaKind distinguishes attachment types.
type MediaKind int

const (
	MediaPhoto MediaKind = iota
	MediaVideo
	MediaGif
)

// MediaRef points at one attachment, before or after local download.
type MediaRef struct {
	Kind      MediaKind
	SourceURL string
	LocalPath string // set once downloaded to the per-post directory
}

// Post is the canonical unit handed to the publisher. Immutable after
// assembly; lives in memory for one pipeline run only.
type Post struct {
	SourceAccount string
	ID            string // permalink path, unique per source (e.g. /user/status/123)
	StatusID      string // trailing numeric id, used for media directory naming
	AuthorName    string
	AuthorHandle  string
	Timestamp     time.Time // UTC
	Text          string    // fully reconstructed, tracker-free, prefixes and footer applied
	Photos        []MediaRef
	Video         *MediaRef // at most one primary video (native or re-encoded gif)
	IsReply       bool
	ReplyToHandle string
	IsRepost      bool
}
