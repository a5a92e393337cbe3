// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokencodec encodes and verifies the compact binary session token:
// a fixed layout authenticated with HMAC-SHA256 under a process-level
// signing key. It never stores or logs a token.
//
// Layout (all integers big-endian):
//
//	version     u8
//	session_id  u128 (16 bytes)
//	user_id_len u16
//	user_id     []byte (user_id_len bytes)
//	expires     i64 (unix millis)
//	mac         [32]byte  HMAC-SHA256 over every preceding byte
package tokencodec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	version    = 1
	macLen     = sha256.Size
	fixedLen   = 1 + 16 + 2 + 8 // version + session_id + user_id_len + expires
	minTokenLen = fixedLen + macLen
	maxUserIDLen = 1 << 16 - 1
)

// ErrInvalidToken is returned for any decode or verification failure. The
// caller must treat every failure mode identically — malformed bytes, a bad
// MAC, and a too-large user id are not distinguishable to callers, per the
// "no oracles" requirement of the error taxonomy.
var ErrInvalidToken = errors.New("tokencodec: invalid token")

// ErrUserIDTooLong is returned by Encode when the user id cannot fit in the
// fixed u16 length prefix.
var ErrUserIDTooLong = errors.New("tokencodec: user id exceeds 65535 bytes")

// Claims is the decoded, verified content of a session token.
type Claims struct {
	SessionID uuid.UUID
	UserID    string
	Expires   time.Time
}

// Codec signs and verifies tokens with a fixed 256-bit key. The zero value
// is not usable; construct with New.
type Codec struct {
	key []byte
}

// New builds a Codec from a 32-byte signing key. It returns an error if the
// key is not exactly 32 bytes, since HMAC-SHA256 keys shorter than the
// 32-byte hash output are accepted by the stdlib but weaken the
// construction.
func New(key []byte) (*Codec, error) {
	if len(key) != 32 {
		return nil, errors.New("tokencodec: signing key must be 32 bytes")
	}
	cp := make([]byte, 32)
	copy(cp, key)
	return &Codec{key: cp}, nil
}

// Encode produces the base64url-encoded wire form of a token asserting
// sessionID/userID/expires.
func (c *Codec) Encode(sessionID uuid.UUID, userID string, expires time.Time) (string, error) {
	if len(userID) > maxUserIDLen {
		return "", ErrUserIDTooLong
	}
	buf := make([]byte, fixedLen+len(userID)+macLen)
	buf[0] = version
	copy(buf[1:17], sessionID[:])
	binary.BigEndian.PutUint16(buf[17:19], uint16(len(userID)))
	copy(buf[19:19+len(userID)], userID)
	binary.BigEndian.PutUint64(buf[19+len(userID):19+len(userID)+8], uint64(expires.UnixMilli()))

	mac := hmac.New(sha256.New, c.key)
	mac.Write(buf[:fixedLen+len(userID)])
	sum := mac.Sum(nil)
	copy(buf[fixedLen+len(userID):], sum)

	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}

// Decode verifies the MAC and layout of a wire-form token and returns its
// claims. Every failure mode — bad base64, short buffer, version mismatch,
// or MAC mismatch — returns ErrInvalidToken uniformly.
func (c *Codec) Decode(token string) (Claims, error) {
	buf, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(token)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	return c.DecodeBytes(buf)
}

// DecodeBytes verifies the MAC and layout of raw wire-form token bytes.
func (c *Codec) DecodeBytes(buf []byte) (Claims, error) {
	if len(buf) < minTokenLen {
		return Claims{}, ErrInvalidToken
	}
	if buf[0] != version {
		return Claims{}, ErrInvalidToken
	}
	userIDLen := int(binary.BigEndian.Uint16(buf[17:19]))
	want := fixedLen + userIDLen + macLen
	if len(buf) != want {
		return Claims{}, ErrInvalidToken
	}

	signed := buf[:fixedLen+userIDLen]
	gotMAC := buf[fixedLen+userIDLen:]

	mac := hmac.New(sha256.New, c.key)
	mac.Write(signed)
	wantMAC := mac.Sum(nil)
	if !hmac.Equal(gotMAC, wantMAC) {
		return Claims{}, ErrInvalidToken
	}

	var sessionID uuid.UUID
	copy(sessionID[:], buf[1:17])
	userID := string(buf[19 : 19+userIDLen])
	expiresMillis := int64(binary.BigEndian.Uint64(buf[19+userIDLen : 19+userIDLen+8]))

	return Claims{
		SessionID: sessionID,
		UserID:    userID,
		Expires:   time.UnixMilli(expiresMillis).UTC(),
	}, nil
}

// HashBytes returns sha256(rawToken) for persistence; the token itself is
// never stored.
func HashBytes(rawToken []byte) [32]byte {
	return sha256.Sum256(rawToken)
}
