// Package util provides shared logging, identification and reporting helpers.
package util

import (
	"hash/fnv"
	"strconv"
	"time"
)

// SessionID computes a 4-byte identifier from the given parts (for example
// the role, the signaling peer address and the start time). It is used only
// to tag log lines and stored statistics and does not need to be reversible.
func SessionID(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum32()
}

// NewSessionID derives a SessionID from parts plus the current time, so two
// sessions with the same peer get different identifiers.
func NewSessionID(parts ...string) uint32 {
	return SessionID(append(parts, strconv.FormatInt(time.Now().UnixNano(), 10))...)
}
