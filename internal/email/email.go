// Package email holds address helpers shared by delivery, signing and the API.
package email

import (
	"net/mail"
	"strings"
)

// Domain returns the lowercased domain of addr, which may carry a display
// name ("Ana <ana@example.com>"). It returns "" when addr has no domain.
func Domain(addr string) string {
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	} else if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(strings.TrimSpace(addr[i+1:]), ">")
	}

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// DomainOr returns Domain(addr), or fallback when addr has no domain
func DomainOr(addr, fallback string) string {
	if domain := Domain(addr); domain != "" {
		return domain
	}
	return fallback
}
