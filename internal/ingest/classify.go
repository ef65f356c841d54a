// Package ingest turns one mirror page subtree into a canonical post: body
// nodes are classified into fragments, fragments are folded into clean text,
// attachments are extracted and the pieces are assembled with the post
// metadata.
package ingest

import (
	"errors"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"mirrorbird/internal/model"

	"golang.org/x/net/html"
)

// ClassifyChildren classifies every direct child of the body container, in
// document order. Exactly one fragment per node.
func ClassifyChildren(n *html.Node, base *url.URL) []model.Fragment {
	var out []model.Fragment
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, ClassifyNode(c, base))
	}
	return out
}

// ClassifyNode maps one DOM node to its semantic fragment. Pure function of
// the node; first matching rule wins, anything unmatched is Unsupported so
// the pipeline can continue past markup we have never seen.
func ClassifyNode(n *html.Node, base *url.URL) model.Fragment {
	switch {
	case n.Type == html.TextNode:
		// verbatim, internal whitespace included
		return model.Fragment{Kind: model.FragmentText, Text: n.Data}

	case n.Type == html.ElementNode && n.Data == "a":
		text := nodeText(n)
		switch {
		case strings.HasPrefix(text, "@"):
			return model.Fragment{Kind: model.FragmentMention, Text: text}
		case strings.HasPrefix(text, "#"):
			return model.Fragment{Kind: model.FragmentHashtag, Text: text}
		default:
			return model.Fragment{Kind: model.FragmentLink, Text: text, URL: anchorTarget(n, base)}
		}

	case n.Type == html.ElementNode && n.Data == "img" && hasClass(n, "emoji"):
		glyphs, err := decodeEmojiFilename(attr(n, "src"))
		if err != nil {
			return model.Fragment{Kind: model.FragmentUnsupported, Raw: renderNode(n)}
		}
		return model.Fragment{Kind: model.FragmentEmoji, Text: glyphs}

	default:
		return model.Fragment{Kind: model.FragmentUnsupported, Raw: renderNode(n)}
	}
}

// anchorTarget prefers the expanded absolute href the markup sometimes
// provides; otherwise the href is resolved against the document base.
func anchorTarget(n *html.Node, base *url.URL) string {
	if expanded := attr(n, "data-expanded-url"); expanded != "" {
		return expanded
	}
	href := attr(n, "href")
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// decodeEmojiFilename turns an emoji glyph image source like
// ".../1F600-1F601.png" into the character sequence it encodes: the file
// name is a hyphen-separated list of hexadecimal code points.
func decodeEmojiFilename(src string) (string, error) {
	name := path.Base(src)
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" {
		return "", errors.New("empty emoji filename")
	}
	var b strings.Builder
	for _, part := range strings.Split(name, "-") {
		cp, err := strconv.ParseUint(part, 16, 32)
		if err != nil {
			return "", err
		}
		if !utf8.ValidRune(rune(cp)) {
			return "", errors.New("code point out of range: " + part)
		}
		b.WriteRune(rune(cp))
	}
	return b.String(), nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, name string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

func renderNode(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}
