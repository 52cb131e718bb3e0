package models

import (
	"errors"
	"net"
	"strings"
)

var ErrInvalidMAC = errors.New("invalid MAC address")

// NormalizeMAC canonicalizes a hardware address to lower-case
// colon-separated form. The MAC is the device registry's only primary key,
// so every producer must agree on one representation.
func NormalizeMAC(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidMAC
	}

	hw, err := net.ParseMAC(s)
	if err != nil {
		return "", ErrInvalidMAC
	}

	return strings.ToLower(hw.String()), nil
}
