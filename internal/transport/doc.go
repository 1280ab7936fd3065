// Package transport builds the network clients the crawler downloads with.
//
// A Client either dials directly or through a SOCKS5 proxy such as a Tor
// daemon (golang.org/x/net/proxy). NewHTTPClient turns it into an
// *http.Client with a cookie jar and a bounded redirect policy, which the
// fetch package then uses for every download.
//
// EmbeddedTor starts a private Tor daemon with github.com/nao1215/tornago
// for users who want to crawl onion services without running Tor
// themselves:
//
//	tor := transport.NewEmbeddedTor()
//	if err := tor.Start(ctx); err != nil {
//		return err
//	}
//	defer tor.Stop()
//	client, err := tor.NewClient(30 * time.Second)
package transport
