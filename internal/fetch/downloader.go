package fetch

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/crypto/sha3"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/nao1215/webcrawler/internal/config"
	"github.com/nao1215/webcrawler/internal/crawler"
	"github.com/nao1215/webcrawler/internal/urlutil"
)

// Fetch errors.
var (
	// ErrHTTPStatus is returned for responses with a 4xx or 5xx status.
	ErrHTTPStatus = errors.New("unexpected HTTP status")

	// ErrParse is returned when a page body cannot be parsed as HTML.
	ErrParse = errors.New("failed to parse page")
)

// HostConfigFunc returns the crawl settings for a host.
type HostConfigFunc func(host string) config.HostConfig

// Downloader fetches pages over HTTP. It implements crawler.Downloader and
// is safe for concurrent use.
type Downloader struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	hostConfig  HostConfigFunc
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// WithMaxBodySize limits how many bytes of a response body are read.
// Longer bodies are truncated. Non-positive values keep the default.
func WithMaxBodySize(size int64) Option {
	return func(d *Downloader) {
		if size > 0 {
			d.maxBodySize = size
		}
	}
}

// WithHostConfigs sets the source of per-host headers, cookies and link
// patterns.
func WithHostConfigs(fn HostConfigFunc) Option {
	return func(d *Downloader) {
		d.hostConfig = fn
	}
}

// NewDownloader creates a Downloader that sends requests with client.
// The client decides the transport, so a Tor or SOCKS5 client from the
// transport package works the same as http.DefaultClient.
func NewDownloader(client *http.Client, opts ...Option) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Downloader{
		client:      client,
		userAgent:   config.DefaultUserAgent,
		maxBodySize: config.DefaultMaxBodySize,
		hostConfig:  func(string) config.HostConfig { return config.HostConfig{} },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download implements crawler.Downloader.
func (d *Downloader) Download(ctx context.Context, rawURL string) (crawler.Document, error) {
	page, err := d.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Fetch downloads rawURL and returns the page. Responses with a status of
// 400 or above are reported as ErrHTTPStatus.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	host, err := urlutil.Host(rawURL)
	if err != nil {
		return nil, err
	}
	hc := d.hostConfig(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for k, v := range hc.Headers {
		req.Header.Set(k, v)
	}
	if hc.Cookie != "" {
		req.Header.Set("Cookie", hc.Cookie)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	body, charsetName, err := decodeBody(raw, contentType)
	if err != nil {
		return nil, err
	}

	digest := sha3.Sum256(raw)
	return &Page{
		URL:            rawURL,
		FinalURL:       resp.Request.URL.String(),
		StatusCode:     resp.StatusCode,
		ContentType:    contentType,
		Charset:        charsetName,
		Body:           body,
		Digest:         hex.EncodeToString(digest[:]),
		ignorePatterns: hc.IgnorePatterns,
		followPatterns: hc.FollowPatterns,
	}, nil
}

// decodeBody converts raw to UTF-8 using the charset from the Content-Type
// header, a <meta> declaration or content sniffing, in that order.
func decodeBody(raw []byte, contentType string) ([]byte, string, error) {
	enc, name, _ := charset.DetermineEncoding(raw, contentType)
	if name == "utf-8" {
		return raw, name, nil
	}

	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), enc.NewDecoder()))
	if err != nil {
		return nil, name, fmt.Errorf("failed to decode %s body: %w", name, err)
	}
	return decoded, name, nil
}
