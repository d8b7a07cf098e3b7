// Package httpclient builds the short-lived HTTP clients used to query
// external time sources, with optional proxy support.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MacJediWizard/trialguard/internal/config"
	"golang.org/x/net/proxy"
)

// DefaultTimeout is the default per-request timeout for time source queries.
const DefaultTimeout = time.Second

// Options configures the HTTP client.
type Options struct {
	// Timeout for the whole request including dial (default: 1s)
	Timeout time.Duration
	// Proxy contains outbound proxy settings
	Proxy *config.ProxyConfig
}

// New creates an HTTP client with optional proxy support.
func New(opts Options) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		DisableKeepAlives:     true,
	}

	if opts.Proxy.HasProxy() {
		if err := configureProxy(transport, opts.Proxy); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}, nil
}

// NewWithConfig creates a client from the trial configuration.
func NewWithConfig(cfg *config.TrialConfig) (*http.Client, error) {
	if cfg == nil {
		return New(Options{})
	}
	return New(Options{
		Timeout: cfg.TimeSourceTimeout,
		Proxy:   &cfg.Proxy,
	})
}

func configureProxy(transport *http.Transport, cfg *config.ProxyConfig) error {
	// SOCKS5 wins over HTTP(S) proxies
	if cfg.SOCKS5Proxy != "" {
		return configureSocks5Proxy(transport, cfg.SOCKS5Proxy)
	}

	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFor(req, cfg)
	}
	return nil
}

func configureSocks5Proxy(transport *http.Transport, socks5URL string) error {
	proxyURL, err := url.Parse(socks5URL)
	if err != nil {
		return fmt.Errorf("parse SOCKS5 proxy URL: %w", err)
	}

	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{
			User:     proxyURL.User.Username(),
			Password: password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return fmt.Errorf("create SOCKS5 dialer: %w", err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
		return nil
	}
	transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
	return nil
}

func proxyFor(req *http.Request, cfg *config.ProxyConfig) (*url.URL, error) {
	if shouldBypassProxy(req.URL.Host, cfg.NoProxy) {
		return nil, nil
	}

	raw := cfg.HTTPProxy
	if req.URL.Scheme == "https" && cfg.HTTPSProxy != "" {
		raw = cfg.HTTPSProxy
	}
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}

// shouldBypassProxy matches host against a comma-separated no_proxy list.
// Entries may be "*", an exact host, ".suffix" or a parent domain.
func shouldBypassProxy(host string, noProxy string) bool {
	if noProxy == "" {
		return false
	}

	hostOnly, _, err := net.SplitHostPort(host)
	if err != nil {
		hostOnly = host
	}
	hostOnly = strings.ToLower(hostOnly)

	for _, pattern := range strings.Split(noProxy, ",") {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
			continue
		case pattern == "*", hostOnly == pattern:
			return true
		case strings.HasPrefix(pattern, "."):
			if strings.HasSuffix(hostOnly, pattern) {
				return true
			}
		case strings.HasSuffix(hostOnly, "."+pattern):
			return true
		}
	}

	return false
}

// ProxyInfo describes the configured proxy with credentials masked.
func ProxyInfo(cfg *config.ProxyConfig) string {
	if !cfg.HasProxy() {
		return "none"
	}

	var parts []string
	if cfg.SOCKS5Proxy != "" {
		parts = append(parts, "SOCKS5: "+maskProxyURL(cfg.SOCKS5Proxy))
	}
	if cfg.HTTPProxy != "" {
		parts = append(parts, "HTTP: "+maskProxyURL(cfg.HTTPProxy))
	}
	if cfg.HTTPSProxy != "" {
		parts = append(parts, "HTTPS: "+maskProxyURL(cfg.HTTPSProxy))
	}
	if cfg.NoProxy != "" {
		parts = append(parts, "NoProxy: "+cfg.NoProxy)
	}
	return strings.Join(parts, ", ")
}

func maskProxyURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	return u.String()
}
