package fetch

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Page is what Parse extracts from an HTML document.
type Page struct {
	// Title is the page title from <title> tag.
	Title string `json:"title,omitempty"`

	// Links contains all resolved href targets, in document order.
	Links []string `json:"links,omitempty"`

	// OnionLinks are the links whose host is a .onion address other than
	// the page's own host.
	OnionLinks []string `json:"onion_links,omitempty"`
}

// Parse parses HTML content fetched from baseURL. Relative links are
// resolved against baseURL and duplicates are dropped.
func Parse(content io.Reader, baseURL *url.URL) (*Page, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if page.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					page.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a":
				if link := resolveURL(baseURL, getAttr(n, "href")); link != "" && !seen[link] {
					seen[link] = true
					page.Links = append(page.Links, link)
					if isForeignOnion(baseURL, link) {
						page.OnionLinks = append(page.OnionLinks, link)
					}
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return page, nil
}

// resolveURL resolves href against base. Non-navigable references such as
// javascript: or mailto: resolve to the empty string.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return ""
	}
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(strings.ToLower(href), prefix) {
			return ""
		}
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

func isForeignOnion(base *url.URL, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, ".onion") {
		return false
	}
	return base == nil || !strings.EqualFold(host, base.Hostname())
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
