package validator

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL    = errors.New("invalid URL format")
	ErrHTTPSRequired = errors.New("HTTPS is required")
	ErrPrivateIP     = errors.New("private IP addresses are not allowed")
)

// Validator provides URL validation functionality.
type Validator struct {
	allowPrivateIPs bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithAllowPrivateIPs allows URLs that resolve to private IP addresses.
// This is useful for Docker internal networking and self-hosted servers.
func WithAllowPrivateIPs() Option {
	return func(v *Validator) {
		v.allowPrivateIPs = true
	}
}

// New creates a new Validator with the given options.
func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateURL checks that the given string is a well-formed HTTP(S) URL.
// When requireHTTPS is true, plain HTTP is rejected except for localhost.
func (v *Validator) ValidateURL(rawURL string, requireHTTPS bool) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}

	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if requireHTTPS && u.Scheme != "https" && !isLocalhost(u.Hostname()) {
		return ErrHTTPSRequired
	}

	if !v.allowPrivateIPs {
		if ip := net.ParseIP(u.Hostname()); ip != nil && isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}

	return nil
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
