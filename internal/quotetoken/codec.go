// Package quotetoken mints and verifies the opaque tokens that let an
// unauthenticated browser session reference a specific (organization,
// contact) pair across quote pages. Tokens are tamper-evident, not secret:
// the threat model is a curious shopper editing a link, not a resourced
// attacker.
package quotetoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
)

const (
	idWidth  = 8  // big-endian uint64 per id
	tagWidth = 10 // truncated HMAC-SHA256
	rawLen   = 2*idWidth + tagWidth

	minSecretLen = 16
)

// encodedLen is fixed for the configured widths; length mismatches are
// rejected before any tag work.
var encodedLen = base64.RawURLEncoding.EncodedLen(rawLen)

var (
	ErrInvalidToken = errors.New("quotetoken: invalid token")
	ErrShortSecret  = errors.New("quotetoken: secret too short")
)

// Codec packs (organizationID, contactID) with a keyed integrity tag into a
// URL-safe string. Rotating the secret invalidates all outstanding tokens.
type Codec struct {
	secret []byte
}

// New builds a Codec from the process-wide secret.
func New(secret []byte) (*Codec, error) {
	if len(secret) < minSecretLen {
		return nil, ErrShortSecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key}, nil
}

// Encode is deterministic for a given key. Zero ids are valid and round-trip.
func (c *Codec) Encode(orgID, contactID uint64) string {
	var raw [rawLen]byte
	binary.BigEndian.PutUint64(raw[0:idWidth], orgID)
	binary.BigEndian.PutUint64(raw[idWidth:2*idWidth], contactID)
	copy(raw[2*idWidth:], c.tag(raw[:2*idWidth]))
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// Decode recovers the ids and verifies the tag in constant time. Malformed
// length, non-alphabet characters, non-canonical trailing bits and tag
// mismatches all yield ErrInvalidToken.
func (c *Codec) Decode(token string) (orgID, contactID uint64, err error) {
	if len(token) != encodedLen {
		return 0, 0, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) != rawLen {
		return 0, 0, ErrInvalidToken
	}
	if !hmac.Equal(raw[2*idWidth:], c.tag(raw[:2*idWidth])) {
		return 0, 0, ErrInvalidToken
	}
	orgID = binary.BigEndian.Uint64(raw[0:idWidth])
	contactID = binary.BigEndian.Uint64(raw[idWidth : 2*idWidth])
	return orgID, contactID, nil
}

func (c *Codec) tag(packed []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(packed)
	return mac.Sum(nil)[:tagWidth]
}
