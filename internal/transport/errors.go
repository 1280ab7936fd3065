package transport

import "errors"

// Proxy errors.
var (
	// ErrProxyWrongType is returned when the proxy answers but does not
	// speak unauthenticated SOCKS5.
	ErrProxyWrongType = errors.New("proxy is not an unauthenticated SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// can be made.
	ErrProxyCannotConnect = errors.New("cannot connect to proxy")

	// ErrProxyTimeout is returned when the proxy does not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to proxy")

	// ErrInvalidProxyAddress is returned for proxy addresses that are not
	// "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrTorNotRunning is returned when a client is requested from an
	// embedded Tor daemon that has not been started.
	ErrTorNotRunning = errors.New("embedded Tor daemon is not running")
)

// ProxyStatus is the result of Client.CheckConnection.
type ProxyStatus int

const (
	// ProxyStatusOK means the proxy completed a SOCKS5 handshake.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType means the proxy answered with something other
	// than an unauthenticated SOCKS5 handshake.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect means the proxy refused the connection.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout means the proxy did not answer in time.
	ProxyStatusTimeout

	// ProxyStatusDirect means the client uses no proxy.
	ProxyStatusDirect
)

// String returns a human-readable description of the status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not SOCKS5)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	case ProxyStatusDirect:
		return "direct (no proxy)"
	default:
		return "unknown"
	}
}

// Err returns the error for s, or nil when the client can be used.
func (s ProxyStatus) Err() error {
	switch s {
	case ProxyStatusOK, ProxyStatusDirect:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyWrongType
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
