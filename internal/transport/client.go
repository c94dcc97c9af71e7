package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultUserAgent is sent when Options.UserAgent is empty. It matches a
// desktop Chrome so that sites serve the same markup the renderer sees.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxRedirects bounds redirect chains.
const maxRedirects = 10

// checkProxyTimeout bounds the SOCKS5 greeting in CheckProxy.
const checkProxyTimeout = 2 * time.Second

// Options configures a Client.
type Options struct {
	// ProxyAddr is a SOCKS5 proxy in host:port form. Empty dials directly.
	ProxyAddr string

	// Timeout is the per-request timeout of HTTP clients.
	Timeout time.Duration

	// UserAgent overrides DefaultUserAgent.
	UserAgent string

	// Cookie is a raw Cookie header value added to every request.
	Cookie string

	// Headers are added to every request.
	Headers map[string]string
}

// Client creates HTTP clients that share one dialer.
type Client struct {
	opts   Options
	dialer proxy.ContextDialer
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	if opts.ProxyAddr == "" {
		return &Client{
			opts:   opts,
			dialer: &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second},
		}, nil
	}

	if !isValidProxyAddress(opts.ProxyAddr) {
		return nil, ErrInvalidProxyAddress
	}
	d, err := proxy.SOCKS5("tcp", opts.ProxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", opts.ProxyAddr)
	}
	return &Client{opts: opts, dialer: cd}, nil
}

// isValidProxyAddress reports whether address is host:port with a port in 1-65535.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// ProxyAddr returns the configured proxy address, empty for direct dialing.
func (c *Client) ProxyAddr() string {
	return c.opts.ProxyAddr
}

// ProxyURL returns the proxy as a socks5:// URL, or "" when dialing directly.
func (c *Client) ProxyURL() string {
	if c.opts.ProxyAddr == "" {
		return ""
	}
	return "socks5://" + c.opts.ProxyAddr
}

// UserAgent returns the user agent sent with every request.
func (c *Client) UserAgent() string {
	return c.opts.UserAgent
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.opts.Timeout
}

// HTTPClient returns a new *http.Client using the shared dialer and
// injecting the configured headers.
func (c *Client) HTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext:         c.dialer.DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	return &http.Client{
		Transport: &headerInjectingTransport{
			base:      transport,
			userAgent: c.opts.UserAgent,
			cookie:    c.opts.Cookie,
			headers:   c.opts.Headers,
		},
		Timeout: c.opts.Timeout,
		Jar:     jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// CheckProxy performs a SOCKS5 greeting against the configured proxy.
// It returns nil when dialing directly.
func (c *Client) CheckProxy(ctx context.Context) error {
	if c.opts.ProxyAddr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.opts.ProxyAddr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProxyCannotConnect, err)
	}
	defer conn.Close() //nolint:errcheck // probe connection

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrProxyCannotConnect, err)
	}

	// version 5, one method, no authentication
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return fmt.Errorf("%w: %w", ErrProxyCannotConnect, err)
	}
	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return ErrProxyNotSOCKS5
	}
	if resp[0] != 0x05 || resp[1] != 0x00 {
		return ErrProxyNotSOCKS5
	}
	return nil
}

// headerInjectingTransport adds the user agent, cookie and extra headers to
// every request, redirects included.
type headerInjectingTransport struct {
	base      http.RoundTripper
	userAgent string
	cookie    string
	headers   map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if t.userAgent != "" && clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}
	if t.cookie != "" {
		if existing := clone.Header.Get("Cookie"); existing != "" {
			clone.Header.Set("Cookie", existing+"; "+t.cookie)
		} else {
			clone.Header.Set("Cookie", t.cookie)
		}
	}
	for key, value := range t.headers {
		clone.Header.Set(key, value)
	}

	return t.base.RoundTrip(clone)
}
