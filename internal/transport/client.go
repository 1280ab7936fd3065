package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// checkProxyTimeout bounds the SOCKS5 handshake probe in CheckConnection.
const checkProxyTimeout = 2 * time.Second

// maxRedirects is the number of redirects an HTTP client follows before
// returning the last response.
const maxRedirects = 10

// Client creates connections for the crawler, either directly or through a
// SOCKS5 proxy such as a Tor daemon.
type Client struct {
	// proxyAddress is the SOCKS5 proxy in "host:port" form. Empty means
	// direct connections.
	proxyAddress string

	dialer proxy.ContextDialer

	// timeout is the overall request timeout of HTTP clients made by
	// NewHTTPClient.
	timeout time.Duration

	insecureSkipVerify bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithInsecureSkipVerify disables TLS certificate verification. Onion
// services usually serve self-signed certificates, so the CLI turns this on
// when crawling through Tor.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		c.insecureSkipVerify = skip
	}
}

// NewClient creates a Client. An empty proxyAddress gives direct
// connections; anything else must be a "host:port" SOCKS5 proxy address.
//
// NewClient does not contact the proxy. Call CheckConnection for that.
func NewClient(proxyAddress string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	c := &Client{
		proxyAddress: proxyAddress,
		timeout:      timeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if proxyAddress == "" {
		c.dialer = &net.Dialer{Timeout: timeout}
		return c, nil
	}

	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}

	// Tor's SOCKS port does not require authentication.
	d, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", proxyAddress)
	}
	c.dialer = cd
	return c, nil
}

// isValidProxyAddress reports whether address is "host:port" with a
// non-empty host and a port between 1 and 65535.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" || port == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// IsDirect reports whether the client connects without a proxy.
func (c *Client) IsDirect() bool {
	return c.proxyAddress == ""
}

// ProxyAddress returns the SOCKS5 proxy address, or "" for direct clients.
func (c *Client) ProxyAddress() string {
	return c.proxyAddress
}

// DialContext connects to address through the client's dialer.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, network, address)
}

// NewHTTPClient returns an HTTP client that dials through c. The client
// keeps cookies in a jar, follows at most ten redirects and times out
// requests after the client's timeout.
func (c *Client) NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: c.dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.insecureSkipVerify, //nolint:gosec // opt-in for onion services
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if !c.IsDirect() {
		// Each proxied connection holds a circuit; keep the pool small and
		// avoid size side channels over Tor.
		transport.MaxIdleConns = 10
		transport.MaxIdleConnsPerHost = 2
		transport.DisableCompression = true
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // only fails with invalid options

	return &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// SOCKS5 protocol constants.
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03

	// socks5ProbeHost is sent in the probe CONNECT request. Whether the
	// proxy reaches it does not matter, only that it answers.
	socks5ProbeHost = "example.invalid"
)

// CheckConnection probes the proxy with a SOCKS5 handshake and a CONNECT
// request. Direct clients always report ProxyStatusDirect.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	if c.IsDirect() {
		return ProxyStatusDirect
	}

	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.proxyAddress)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	// Greeting: version, one method, no authentication.
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		return readFailure(err)
	}
	if authResp[0] != socks5Version || authResp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}

	req := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AddrTypeDomID, byte(len(socks5ProbeHost))}
	req = append(req, socks5ProbeHost...)
	req = append(req, 0x00, 0x50) // port 80
	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}

	// Any reply code means the proxy processed the request.
	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		return readFailure(err)
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

func readFailure(err error) ProxyStatus {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ProxyStatusTimeout
	}
	return ProxyStatusWrongType
}
