package storage

import (
	"fmt"
	"time"
)

// Journal key schema for Pebble storage
//
//   sess:<session>                      → Session header (params, opened at)
//   acct:<session>                      → Latest account snapshot
//   ord:<session>:<orderID>             → Latest order snapshot
//   fill:<session>:<unixnano>:<fillID>  → Fill
//
// Timestamps are zero-padded (20 digits) so fills sort chronologically.

// Key prefixes
const (
	prefixSession = "sess:"
	prefixAccount = "acct:"
	prefixOrder   = "ord:"
	prefixFill    = "fill:"
)

func sessionKey(sessionID string) []byte {
	return []byte(prefixSession + sessionID)
}

func sessionPrefix() []byte {
	return []byte(prefixSession)
}

// accountKey returns the key for a session's account snapshot
// Format: "acct:{session}"
func accountKey(sessionID string) []byte {
	return []byte(prefixAccount + sessionID)
}

// orderKey returns the key for an order
// Format: "ord:{session}:{orderID}"
func orderKey(sessionID, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, sessionID, orderID))
}

// orderPrefix returns the prefix for all orders of a session
// Format: "ord:{session}:"
func orderPrefix(sessionID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, sessionID))
}

// fillKey returns the key for a fill
// Format: "fill:{session}:{timestamp}:{fillID}"
func fillKey(sessionID string, at time.Time, fillID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixFill, sessionID, at.UnixNano(), fillID))
}

// fillPrefix returns the prefix for all fills of a session
// Format: "fill:{session}:"
func fillPrefix(sessionID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFill, sessionID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ord:s1:" -> upper bound "ord:s1;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
