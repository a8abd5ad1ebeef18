// Package validation provides centralized input validation for podwatch.
package validation

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"

	"github.com/xtxerr/podwatch/internal/errors"
)

// =============================================================================
// Host Validation
// =============================================================================

// HostRules defines the validation rules for vantage point hosts.
type HostRules struct {
	MinLength int
	MaxLength int
}

// DefaultHostRules returns the default rules for hostnames.
func DefaultHostRules() HostRules {
	return HostRules{
		MinLength: 1,
		MaxLength: 253,
	}
}

// ValidateHost validates an IP literal or DNS hostname.
func ValidateHost(host string, rules HostRules) error {
	if len(host) < rules.MinLength {
		return fmt.Errorf("host too short: minimum %d characters required: %w", rules.MinLength, errors.ErrInvalidAddress)
	}
	if len(host) > rules.MaxLength {
		return fmt.Errorf("host too long: maximum %d characters allowed: %w", rules.MaxLength, errors.ErrInvalidAddress)
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	for i, label := range strings.Split(host, ".") {
		if label == "" {
			return fmt.Errorf("empty label at position %d: %w", i, errors.ErrInvalidAddress)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("label %q cannot start or end with '-': %w", label, errors.ErrInvalidAddress)
		}
		for j, r := range label {
			if !isAllowedHostChar(r) {
				return fmt.Errorf("invalid character '%c' at position %d of label %q: %w", r, j, label, errors.ErrInvalidAddress)
			}
		}
	}

	return nil
}

func isAllowedHostChar(r rune) bool {
	if r > unicode.MaxASCII {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-'
}

// =============================================================================
// Port Validation
// =============================================================================

// ValidatePort parses and validates a TCP port.
func ValidatePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number: %w", s, errors.ErrInvalidAddress)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535: %w", port, errors.ErrInvalidAddress)
	}
	return port, nil
}

// =============================================================================
// Address Parsing
// =============================================================================

// HostPort is a parsed vantage point address.
type HostPort struct {
	Host string
	Port int
}

// String returns host:port, bracketing IPv6 literals.
func (hp HostPort) String() string {
	return net.JoinHostPort(hp.Host, strconv.Itoa(hp.Port))
}

// ParseHostPort parses "host" or "host:port". A missing port yields defaultPort.
func ParseHostPort(addr string, defaultPort int) (HostPort, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return HostPort{}, fmt.Errorf("empty address: %w", errors.ErrInvalidAddress)
	}

	host, portStr := addr, ""
	if h, p, err := net.SplitHostPort(addr); err == nil {
		if p == "" {
			return HostPort{}, fmt.Errorf("address %q: empty port: %w", addr, errors.ErrInvalidAddress)
		}
		host, portStr = h, p
	} else if strings.Count(addr, ":") == 1 {
		return HostPort{}, fmt.Errorf("address %q: %v: %w", addr, err, errors.ErrInvalidAddress)
	}

	if err := ValidateHost(host, DefaultHostRules()); err != nil {
		return HostPort{}, fmt.Errorf("address %q: %w", addr, err)
	}

	port := defaultPort
	if portStr != "" {
		p, err := ValidatePort(portStr)
		if err != nil {
			return HostPort{}, fmt.Errorf("address %q: %w", addr, err)
		}
		port = p
	}

	return HostPort{Host: host, Port: port}, nil
}
