// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package networking builds the HTTP clients used to talk to upstream
// identity providers.
package networking

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"
)

// HTTPTimeout is the default timeout for outgoing HTTP requests.
const HTTPTimeout = 30 * time.Second

// ErrPrivateAddress is returned when a connection to a private, loopback or
// link-local address is refused.
var ErrPrivateAddress = errors.New("connection to private address is not allowed")

// IsLoopbackHost reports whether host is localhost (any case) or a
// loopback IP. host must not carry a port.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isPrivateIP covers RFC 1918, RFC 4193, loopback, link-local and
// unspecified addresses.
func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// protectedDialerControl runs after DNS resolution, so address is always
// an IP literal.
func protectedDialerControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid dial address %q: %w", address, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("invalid dial address %q", address)
	}
	if isPrivateIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
	}
	return nil
}

// ValidatingTransport rejects plain-HTTP requests to anything but loopback
// hosts.
type ValidatingTransport struct {
	Transport http.RoundTripper
}

// RoundTrip validates the request URL before forwarding it.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, errors.New("request has no URL")
	}
	if req.URL.Scheme != "https" && !(req.URL.Scheme == "http" && IsLoopbackHost(req.URL.Hostname())) {
		return nil, fmt.Errorf("the URL %s is not HTTPS", req.URL.Redacted())
	}
	return t.Transport.RoundTrip(req)
}

// HTTPClientBuilder builds an *http.Client for upstream IdP calls.
type HTTPClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	blockPrivate          bool
}

// NewHTTPClientBuilder returns a builder with default timeouts. Private
// addresses are allowed, since identity providers frequently run on the
// same network as the broker.
func NewHTTPClientBuilder() *HTTPClientBuilder {
	return &HTTPClientBuilder{
		clientTimeout:         HTTPTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithCABundle trusts only the PEM certificates at path instead of the
// system pool.
func (b *HTTPClientBuilder) WithCABundle(path string) *HTTPClientBuilder {
	b.caCertPath = path
	return b
}

// WithTimeout sets the overall request timeout. Non-positive values keep
// the default.
func (b *HTTPClientBuilder) WithTimeout(timeout time.Duration) *HTTPClientBuilder {
	if timeout > 0 {
		b.clientTimeout = timeout
	}
	return b
}

// WithPrivateIPs controls whether connections to private addresses are
// permitted.
func (b *HTTPClientBuilder) WithPrivateIPs(allow bool) *HTTPClientBuilder {
	b.blockPrivate = !allow
	return b
}

// Build creates the configured client.
func (b *HTTPClientBuilder) Build() (*http.Client, error) {
	dialer := &net.Dialer{Timeout: b.tlsHandshakeTimeout}
	if b.blockPrivate {
		dialer.Control = protectedDialerControl
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath) // #nosec G304 - path is provided by the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate bundle")
		}
		transport.TLSClientConfig.RootCAs = pool
	}

	return &http.Client{
		Transport: &ValidatingTransport{Transport: transport},
		Timeout:   b.clientTimeout,
	}, nil
}
