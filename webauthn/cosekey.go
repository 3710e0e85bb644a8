// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package webauthn

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// COSE_Key constants for the one key shape accepted at registration.
const (
	coseKtyEC2   = 2
	coseAlgES256 = -7
	coseCrvP256  = 1
)

// coseKey is the subset of a COSE_Key map relevant to an EC2 credential.
//
//	COSE_Key = {
//	    1 => 2,              ;; kty: EC2
//	    ? 3 => -7,           ;; alg: ES256
//	    -1 => 1,             ;; crv: P-256
//	    -2 => bstr,          ;; x coordinate
//	    -3 => bstr / bool,   ;; y coordinate or compression sign bit
//	}
type coseKey struct {
	Kty int64           `cbor:"1,keyasint"`
	Alg int64           `cbor:"3,keyasint,omitempty"`
	Crv int64           `cbor:"-1,keyasint"`
	X   []byte          `cbor:"-2,keyasint"`
	Y   cbor.RawMessage `cbor:"-3,keyasint"`
}

// ParseCOSEKey decodes a CBOR-encoded COSE_Key into a raw 64-byte public
// key. Only EC2 keys on P-256 are accepted. The y coordinate may be a byte
// string or, for point-compressed keys, the boolean sign bit defined by RFC
// 9053 section 2.1.
func ParseCOSEKey(data []byte) (PublicKey, error) {
	var key PublicKey

	var ck coseKey
	if err := cbor.Unmarshal(data, &ck); err != nil {
		return key, fmt.Errorf("%w: error decoding COSE key: %v", ErrInvalidPublicKey, err)
	}
	if ck.Kty != coseKtyEC2 {
		return key, fmt.Errorf("%w: COSE key type %d is not EC2", ErrInvalidPublicKey, ck.Kty)
	}
	if ck.Alg != 0 && ck.Alg != coseAlgES256 {
		return key, fmt.Errorf("%w: COSE algorithm %d is not ES256", ErrInvalidPublicKey, ck.Alg)
	}
	if ck.Crv != coseCrvP256 {
		return key, fmt.Errorf("%w: COSE curve %d is not P-256", ErrInvalidPublicKey, ck.Crv)
	}
	if len(ck.X) != 32 {
		return key, fmt.Errorf("%w: COSE x coordinate must be 32 bytes, got %d", ErrInvalidPublicKey, len(ck.X))
	}

	var y []byte
	if err := cbor.Unmarshal(ck.Y, &y); err == nil {
		if len(y) != 32 {
			return key, fmt.Errorf("%w: COSE y coordinate must be 32 bytes, got %d", ErrInvalidPublicKey, len(y))
		}
		raw := make([]byte, 0, PublicKeySize)
		raw = append(raw, ck.X...)
		raw = append(raw, y...)
		return ParsePublicKey(raw)
	}

	// RFC 9053 2.1 alternative encoding: y is the sign bit of a compressed
	// point.
	var sign bool
	if err := cbor.Unmarshal(ck.Y, &sign); err != nil {
		return key, fmt.Errorf("%w: COSE y coordinate is neither bytes nor bool", ErrInvalidPublicKey)
	}
	compressed := make([]byte, 0, CompressedKeySize)
	if sign {
		compressed = append(compressed, 0x03)
	} else {
		compressed = append(compressed, 0x02)
	}
	compressed = append(compressed, ck.X...)
	return DecompressPublicKey(compressed)
}

// MarshalCOSEKey encodes a raw public key as an EC2 COSE_Key with the ES256
// algorithm.
func MarshalCOSEKey(key PublicKey) ([]byte, error) {
	return cbor.Marshal(map[int64]any{
		1:  coseKtyEC2,
		3:  coseAlgES256,
		-1: coseCrvP256,
		-2: key[:32],
		-3: key[32:],
	})
}
