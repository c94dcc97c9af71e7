// Package transport builds the HTTP clients used to fetch pages and assets.
//
// A client either dials directly or through a SOCKS5 proxy. The proxy may be
// an external one given on the command line or an embedded Tor daemon
// started through tornago. Every request carries the configured user agent,
// cookie and extra headers, including requests made while following
// redirects.
//
// # Usage
//
//	client, err := transport.New(transport.Options{
//	    ProxyAddr: "127.0.0.1:9050",
//	    Timeout:   30 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	httpClient := client.HTTPClient()
package transport
