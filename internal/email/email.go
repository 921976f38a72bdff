// Package email holds address helpers shared by the intake and
// reputation paths.
package email

import (
	"net/mail"
	"strings"
)

// ExtractDomain returns the lowercased domain of an address, or "" when
// none can be found. Display-name forms ("Ann <ann@example.com>") are
// unwrapped first; raw strings fall back to splitting on the last '@'.
func ExtractDomain(addr string) string {
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// ExtractDomainOrDefault falls back to def when addr has no usable
// domain, so per-domain reputation windows always land in a bucket.
func ExtractDomainOrDefault(addr, def string) string {
	if d := ExtractDomain(addr); d != "" {
		return d
	}
	return def
}
