// internal/netimport/page.go
package netimport

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// pageImage returns the first <img src> of an HTML page, resolved against
// the page URL
func pageImage(body []byte, base *url.URL) (*url.URL, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("netimport: parse page: %w", err)
	}

	stack := []*html.Node{doc}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.Type == html.ElementNode && n.Data == "img" {
			if src := attr(n, "src"); src != "" {
				u, err := base.Parse(src)
				if err != nil {
					return nil, fmt.Errorf("%w: %q", ErrInvalidURL, src)
				}
				return u, nil
			}
		}
		// push children last-first so the walk stays in document order
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return nil, ErrNoPageImage
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
