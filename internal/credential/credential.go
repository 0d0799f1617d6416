// Package credential implements the 33-byte credential record used
// throughout the gate controller: key-type tagging, permission bits,
// identity comparison, and challenge-response signature verification.
package credential

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"errors"
	"math/big"
)

// Record is a 33-byte credential: byte 0 is type-and-permission, bytes
// 1..33 carry the public-key material.
type Record [33]byte

// Key type tags, the low two bits of Record[0].
const (
	TypeReserved0 = 0
	TypeEdwards   = 1
	TypeWeierstrassEven = 2
	TypeWeierstrassOdd  = 3
)

// Permission bits, the high six bits of Record[0].
const (
	PermAdmin         = 0x80
	PermAdminOfAdmins = 0x40
	PermSetParamAdmin = 0x20
	permTypeMask      = 0x03
)

// Type returns the low two bits of byte 0.
func (r Record) Type() byte { return r[0] & permTypeMask }

// Perm returns the high six bits of byte 0.
func (r Record) Perm() byte { return r[0] &^ permTypeMask }

// Valid reports whether the type tag is one of the recognized values.
func (r Record) Valid() bool {
	switch r.Type() {
	case TypeEdwards, TypeWeierstrassEven, TypeWeierstrassOdd:
		return true
	default:
		return false
	}
}

// SameIdentity reports whether r and other identify the same
// credential: equal type tag and equal key bytes. Permission bits are
// metadata, not identity.
func (r Record) SameIdentity(other Record) bool {
	return r.Type() == other.Type() && bytes.Equal(r[1:], other[1:])
}

// FromPayload builds a Record from an ASH client_pubkey write payload
// (§4.5): a 32-byte payload is promoted to an Edwards record by
// prefixing the type tag; a 33-byte payload is taken verbatim; any
// other length yields the zero record (byte 0 = 0, which Valid()
// reports false for).
func FromPayload(payload []byte) Record {
	var r Record
	switch len(payload) {
	case 32:
		r[0] = TypeEdwards
		copy(r[1:], payload)
	case 33:
		copy(r[:], payload)
	}
	return r
}

var errBadSignature = errors.New("credential: signature verification failed")

// Verify checks a 64-byte signature over digest using the primitive
// selected by the record's type tag. The short-Weierstrass case is a
// prehashed ECDSA verification: digest is the "message" as-is, never
// rehashed.
func (r Record) Verify(digest, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	switch r.Type() {
	case TypeEdwards:
		pub := ed25519.PublicKey(r[1:])
		return ed25519.Verify(pub, digest, sig)
	case TypeWeierstrassEven, TypeWeierstrassOdd:
		// The SEC1 compressed-form prefix (0x02/0x03) is exactly the
		// low two bits of byte 0; the permission bits above it must
		// be masked off before parsing. The curve is NIST P-256, not
		// secp256k1: short-Weierstrass credentials verify against the
		// same curve the original firmware's p256 crate uses.
		var compressed [33]byte
		compressed[0] = r.Type()
		copy(compressed[1:], r[1:])
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), compressed[:])
		if x == nil {
			return false
		}
		pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		rs := new(big.Int).SetBytes(sig[:32])
		ss := new(big.Int).SetBytes(sig[32:])
		return ecdsa.Verify(pub, digest, rs, ss)
	default:
		return false
	}
}

// Err is a sentinel for "not a valid signature", distinct from a
// transport error. Verify does not return it; it reports false.
var Err = errBadSignature
