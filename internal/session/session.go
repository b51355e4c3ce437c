// Package session derives stable anonymous session identities from a
// client's network address and user agent.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// LocalDevIP is the sentinel address used when client addressing cannot be
// trusted (local development behind no proxy).
const LocalDevIP = "local-dev-ip"

// keyPrefixLen is the number of hex digits kept from the digest.
const keyPrefixLen = 16

// browserPattern extracts major browser-family tokens so a development
// session survives browser version churn.
var browserPattern = regexp.MustCompile(`(Chrome|Firefox|Safari|Edge)/[\d.]+`)

// Deriver maps (client IP, user agent) pairs to opaque session keys.
// Derivation is pure: identical inputs always yield identical keys.
type Deriver struct {
	production bool
}

// NewDeriver creates a Deriver. In production the raw address and full
// agent string are hashed; otherwise a fixed sentinel address and a
// normalized agent are used instead.
func NewDeriver(production bool) *Deriver {
	return &Deriver{production: production}
}

// ClientIP extracts a normalized client address from the request.
// Outside production it always returns the local sentinel.
func (d *Deriver) ClientIP(r *http.Request) string {
	if !d.production {
		return LocalDevIP
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "::1" || addr == "::ffff:127.0.0.1" {
		return "127.0.0.1"
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

// SessionID derives the session key for an (address, agent) pair.
func (d *Deriver) SessionID(ip, userAgent string) string {
	if !d.production || ip == LocalDevIP {
		var tokens []string
		for _, m := range browserPattern.FindAllStringSubmatch(userAgent, -1) {
			tokens = append(tokens, m[1])
		}
		if len(tokens) == 0 {
			tokens = []string{"unknown"}
		}
		stableAgent := strings.Join(tokens, "-")
		return "local_" + digestPrefix("local-" + stableAgent)
	}
	return "ip_" + digestPrefix(ip + userAgent)
}

func digestPrefix(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:keyPrefixLen]
}
