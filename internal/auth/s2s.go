package auth

import (
	"crypto/subtle"
	"strings"
)

// S2SKeyHeader carries the shared service-to-service key. The key is rotated
// independently of voter sessions and never appears in client-reachable code.
const S2SKeyHeader = "X-S2S-Key"

// ValidS2SKey compares a presented key against the configured one in constant
// time. An empty configured key never matches: a service deployed without a
// key fails closed.
func ValidS2SKey(configured, presented string) bool {
	configured = strings.TrimSpace(configured)
	presented = strings.TrimSpace(presented)
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
