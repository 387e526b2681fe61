package configtypes

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseListenAddress splits a listen address into host and port.
// Accepts ":8080", "8080", "127.0.0.1:8080" and "[::1]:8080"; an empty host
// means all interfaces.
func ParseListenAddress(listen string) (host string, port int, err error) {
	if listen == "" {
		return "", 0, fmt.Errorf("listen address is empty")
	}

	if !strings.Contains(listen, ":") {
		p, err := strconv.Atoi(listen)
		if err != nil {
			return "", 0, fmt.Errorf("invalid listen address format: %s", listen)
		}
		return "", p, nil
	}

	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address format: %s: %w", listen, err)
	}

	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in listen address: %s", portStr)
	}

	return host, port, nil
}

// ValidateListenAddress checks the format and that the port is in 1..65535.
func ValidateListenAddress(listen string) error {
	_, port, err := ParseListenAddress(listen)
	if err != nil {
		return err
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	return nil
}

// NormalizeListen returns the address in host:port form, e.g. "8080" -> ":8080".
func NormalizeListen(listen string) (string, error) {
	host, port, err := ParseListenAddress(listen)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// SamePort reports whether two listen addresses bind the same port.
func SamePort(a, b string) bool {
	_, pa, errA := ParseListenAddress(a)
	_, pb, errB := ParseListenAddress(b)
	return errA == nil && errB == nil && pa == pb
}
