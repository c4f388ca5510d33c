// Package idgen provides pluggable ID generation.
//
// Stored comments need an id unique within their application. The portal
// rarely exposes one, so the harvester numbers comments per application
// (Sequential) and the store falls back to a compact random id (Compact)
// when a caller hands it a comment with no id at all.
package idgen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// Compact returns a Generator of random 128-bit ids (UUID v4) encoded as
// unpadded URL-safe base64, 22 characters long.
func Compact() Generator {
	return func() string {
		u := uuid.New()
		return base64.RawURLEncoding.EncodeToString(u[:])
	}
}

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Short and URL-safe; used for request ids in the HTTP and MCP surfaces.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		b := make([]byte, length)
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range b {
			b[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(b)
	}
}

// Sequential returns a Generator producing "<prefix>_1", "<prefix>_2", ...
// Safe for concurrent use.
func Sequential(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + "_" + strconv.FormatInt(n.Add(1), 10)
	}
}

// Default is the store's fallback strategy for comments without an id.
var Default Generator = Compact()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// RequestID is the generator of HTTP and MCP request ids.
var RequestID Generator = NanoID(12)

// ParseCompact decodes a Compact id back into its UUID.
func ParseCompact(s string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("idgen: decode compact id: %w", err)
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("idgen: compact id: %w", err)
	}
	return u, nil
}
