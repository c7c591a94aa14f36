// Package util holds small helpers shared by the server and the client.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a fresh random identifier, optionally tagged with a prefix
// like "job" or "pin". Identifiers are minted by whichever side creates the
// row, so an offline client can assign them without coordinating with the
// server; 128 bits of randomness keeps independent mints from colliding.
func NewID(prefix string) string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	id := hex.EncodeToString(raw)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
