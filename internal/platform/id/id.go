// Package id generates compact, URL-safe identifiers.
//
// Identifiers are UUIDv4 bytes encoded as lowercase unpadded base32,
// always 26 characters long. The encoding keeps ids copy-paste friendly
// while preserving the 122 bits of randomness of the underlying UUID.
package id

import (
	"fmt"
	"strings"

	"encoding/base32"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a new random identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}
