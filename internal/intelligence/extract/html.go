package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/defectwise/defectwise/pkg/errors"
)

// HTML extracts the visible text of an HTML document. Script, style,
// noscript and iframe subtrees are invisible to readers and are skipped;
// block-ish boundaries become newlines so headings and list items do not
// glue onto the following sentence.
type HTML struct{}

var _ Extractor = HTML{}

// blockTags close a line of visible text.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "section": true, "article": true,
}

// Extract implements Extractor.
func (HTML) Extract(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExtractFailed, "extract: parse html")
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			buf.WriteString("\n")
		}
	}
	walk(doc)
	return buf.String(), nil
}
