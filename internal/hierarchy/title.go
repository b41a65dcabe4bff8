package hierarchy

import (
	"strings"

	"golang.org/x/net/html"
)

// maxTitle caps a display title (in bytes)
const maxTitle = 256

// PlainTitle turns a title that may carry markup or entities into plain
// display text with collapsed whitespace
func PlainTitle(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return truncate(strings.Join(strings.Fields(raw), " "))
	}

	nodes, err := html.ParseFragment(strings.NewReader(raw), nil)
	if err != nil {
		return truncate(strings.Join(strings.Fields(raw), " "))
	}

	// Tags to skip (non-content)
	skipTags := map[string]bool{
		"script": true, "style": true, "noscript": true, "iframe": true,
	}

	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	for _, n := range nodes {
		extract(n)
	}

	return truncate(strings.Join(strings.Fields(sb.String()), " "))
}

func truncate(s string) string {
	if len(s) <= maxTitle {
		return s
	}
	cut := maxTitle - 3
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
