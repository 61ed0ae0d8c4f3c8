package scrape

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// skipElements are subtrees dropped wholesale during extraction: executable
// content, embeds, and page chrome.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"object":   true,
	"embed":    true,
	"svg":      true,
	"form":     true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
}

// blockElements terminate a text run with a newline so sentences from
// adjacent blocks do not glue together.
var blockElements = map[string]bool{
	"p":          true,
	"div":        true,
	"li":         true,
	"tr":         true,
	"br":         true,
	"h1":         true,
	"h2":         true,
	"h3":         true,
	"h4":         true,
	"h5":         true,
	"h6":         true,
	"blockquote": true,
	"pre":        true,
	"section":    true,
	"article":    true,
}

// Extraction is the readable view of one HTML document.
type Extraction struct {
	Title    string
	Text     string
	LinkText string
	HTMLLen  int

	// Meta maps lowercased meta name/property attributes to content values
	// (first occurrence wins).
	Meta map[string]string

	// JSONLD holds the bodies of ld+json script blocks.
	JSONLD []string
}

// ExtractContent parses HTML and pulls the readable text, dropping script,
// style, and chrome subtrees. Anchor text is additionally collected on its
// own for the link-density heuristic, and meta tags plus JSON-LD blocks are
// kept for freshness scoring.
func ExtractContent(rawHTML string) (*Extraction, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	ex := &Extraction{
		HTMLLen: len(rawHTML),
		Meta:    map[string]string{},
	}

	var text, links strings.Builder

	var walk func(n *html.Node, inLink bool)
	walk = func(n *html.Node, inLink bool) {
		switch n.Type {
		case html.ElementNode:
			switch {
			case n.Data == "script":
				if strings.EqualFold(getAttr(n, "type"), "application/ld+json") {
					ex.JSONLD = append(ex.JSONLD, textOf(n))
				}

				return
			case skipElements[n.Data]:
				return
			case n.Data == "title":
				if ex.Title == "" {
					ex.Title = strings.TrimSpace(textOf(n))
				}

				return
			case n.Data == "meta":
				key := getAttr(n, "name")
				if key == "" {
					key = getAttr(n, "property")
				}

				key = strings.ToLower(key)
				if key != "" {
					if _, ok := ex.Meta[key]; !ok {
						ex.Meta[key] = getAttr(n, "content")
					}
				}

				return
			case n.Data == "a":
				inLink = true
			}
		case html.TextNode:
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				text.WriteString(trimmed)
				text.WriteByte(' ')

				if inLink {
					links.WriteString(trimmed)
					links.WriteByte(' ')
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}

		if n.Type == html.ElementNode && blockElements[n.Data] {
			text.WriteByte('\n')
		}
	}

	walk(doc, false)

	if ex.Title == "" {
		ex.Title = strings.TrimSpace(ex.Meta["og:title"])
	}

	ex.Text = strings.TrimSpace(text.String())
	ex.LinkText = strings.TrimSpace(links.String())

	return ex, nil
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}

	return ""
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}

	var sb strings.Builder

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textOf(c))
	}

	return sb.String()
}
