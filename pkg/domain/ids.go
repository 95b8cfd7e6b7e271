package domain

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// PUID prefixes by entity kind.
const (
	PUIDPrefixGroup   = "SC_GRP"
	PUIDPrefixProject = "SC_PRJ"
	PUIDPrefixSample  = "SC_SAM"
)

var puidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random entity identifier.
func NewID() string {
	return uuid.NewString()
}

// NewPUID returns a persistent public identifier such as SC_SAM_MFRGGZDFMZTWQ.
// Public identifiers survive transfers and are never reused.
func NewPUID(prefix string) string {
	id := uuid.New()
	encoded := puidEncoding.EncodeToString(id[:])
	return prefix + "_" + strings.ToUpper(encoded[:13])
}
