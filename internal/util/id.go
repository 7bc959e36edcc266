// Package util holds tiny helpers with no better home.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID mints a random identifier with 128 bits of entropy, hex
// encoded. Entities carry a type prefix ("usr_", "post_", "cmt_") so
// an id is self-describing in logs; an empty prefix yields a bare
// token suitable for secrets.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
