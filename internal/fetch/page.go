package fetch

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/nao1215/webcrawler/internal/urlutil"
)

// Page is a fetched web page.
//
// Links are not parsed at download time. ExtractLinks parses the body on
// first use, so the work happens on whichever goroutine asks for the links.
type Page struct {
	// URL is the URL that was requested.
	URL string

	// FinalURL is the URL after redirects. Relative links resolve against it.
	FinalURL string

	// StatusCode is the HTTP status of the final response.
	StatusCode int

	// ContentType is the Content-Type header of the final response.
	ContentType string

	// Charset is the name of the encoding the body was decoded from.
	Charset string

	// Body is the response body decoded to UTF-8, truncated to the
	// downloader's body size limit.
	Body []byte

	// Digest is the hex SHA3-256 of the raw, undecoded body.
	Digest string

	ignorePatterns []string
	followPatterns []string

	once  sync.Once
	links []string
	err   error
}

// IsHTML reports whether the page holds an HTML document.
func (p *Page) IsHTML() bool {
	ct := p.ContentType
	if ct == "" {
		ct = http.DetectContentType(p.Body)
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// ExtractLinks returns the absolute http(s) URLs of the page's <a href>
// elements in document order, without fragments or duplicates. Links
// excluded by the host's ignore or follow patterns are dropped. Pages that
// are not HTML have no links.
func (p *Page) ExtractLinks() ([]string, error) {
	p.once.Do(func() {
		p.links, p.err = p.parseLinks()
	})
	return p.links, p.err
}

func (p *Page) parseLinks() ([]string, error) {
	if !p.IsHTML() {
		return nil, nil
	}

	base, err := url.Parse(p.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	doc, err := html.Parse(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	seen := make(map[string]struct{})
	links := make([]string, 0)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if link := resolveLink(base, getAttr(n, "href")); link != "" {
				if _, dup := seen[link]; !dup && shouldFollow(link, p.ignorePatterns, p.followPatterns) {
					seen[link] = struct{}{}
					links = append(links, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links, nil
}

// resolveLink resolves href against base. It returns "" for links that
// cannot be crawled: script and mail pseudo-URLs, fragment-only references
// and anything that is not http or https after resolution.
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref).String()
	if !urlutil.IsHTTP(resolved) {
		return ""
	}
	return urlutil.Normalize(resolved)
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
