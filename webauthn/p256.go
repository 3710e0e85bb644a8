// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package webauthn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"math/big"
)

// PublicKeySize is the length of an uncompressed P-256 public key as the
// concatenation of the X and Y coordinates, each 32 bytes big-endian, with no
// format prefix.
const PublicKeySize = 64

// CompressedKeySize is the length of a SEC1 compressed P-256 point: a parity
// prefix byte (0x02 or 0x03) followed by the 32-byte X coordinate.
const CompressedKeySize = 33

// Signature sizes accepted by Verify. The 65-byte form carries a trailing
// recovery byte which is ignored during verification.
const (
	SignatureSize         = 64
	SignatureWithRecovery = 65
)

// PublicKey is a raw P-256 public key in X||Y coordinate form.
type PublicKey [PublicKeySize]byte

// ParsePublicKey validates a raw public key and returns it as a PublicKey.
// The input must be exactly 64 bytes and the decoded point must lie on the
// P-256 curve.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var key PublicKey
	if len(b) != PublicKeySize {
		return key, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(b))
	}
	x := new(big.Int).SetBytes(b[:32])
	y := new(big.Int).SetBytes(b[32:])
	if !elliptic.P256().IsOnCurve(x, y) {
		return key, fmt.Errorf("%w: point not on curve", ErrInvalidPublicKey)
	}
	copy(key[:], b)
	return key, nil
}

// ECDSA returns the key as a standard library ECDSA public key.
func (key PublicKey) ECDSA() *ecdsa.PublicKey {
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(key[:32]),
		Y:     new(big.Int).SetBytes(key[32:]),
	}
}

// PublicKeyFromECDSA converts a standard library key to raw X||Y form. Only
// P-256 keys are supported.
func PublicKeyFromECDSA(pub *ecdsa.PublicKey) (PublicKey, error) {
	var key PublicKey
	if pub.Curve != elliptic.P256() {
		return key, fmt.Errorf("%w: unsupported curve %s", ErrInvalidPublicKey, pub.Params().Name)
	}
	pub.X.FillBytes(key[:32])
	pub.Y.FillBytes(key[32:])
	return key, nil
}

// DecompressPublicKey expands a 33-byte SEC1 compressed point to raw X||Y
// form. The prefix byte must be 0x02 or 0x03 and the X coordinate must
// resolve to a point on the P-256 curve.
func DecompressPublicKey(compressed []byte) (PublicKey, error) {
	var key PublicKey
	if len(compressed) != CompressedKeySize {
		return key, fmt.Errorf("%w: expected %d compressed bytes, got %d",
			ErrInvalidPublicKey, CompressedKeySize, len(compressed))
	}
	if compressed[0] != 0x02 && compressed[0] != 0x03 {
		return key, fmt.Errorf("%w: invalid compression prefix %#02x", ErrInvalidPublicKey, compressed[0])
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), compressed)
	if x == nil {
		return key, fmt.Errorf("%w: point not on curve", ErrInvalidPublicKey)
	}
	x.FillBytes(key[:32])
	y.FillBytes(key[32:])
	return key, nil
}

// Verify checks a P-256 ECDSA signature over the SHA-256 digest of message.
//
// The public key must be in raw 64-byte X||Y form. The signature must be the
// 64-byte r||s encoding or the 65-byte r||s||v encoding, where the trailing
// recovery byte is ignored. Verification never succeeds for malformed inputs.
func Verify(pubKey, message, signature []byte) error {
	key, err := ParsePublicKey(pubKey)
	if err != nil {
		return err
	}
	return key.Verify(message, signature)
}

// Verify checks a P-256 ECDSA signature over the SHA-256 digest of message.
// See the package-level [Verify] for accepted signature encodings.
func (key PublicKey) Verify(message, signature []byte) error {
	switch len(signature) {
	case SignatureSize:
	case SignatureWithRecovery:
		signature = signature[:SignatureSize]
	default:
		return fmt.Errorf("%w: expected %d or %d bytes, got %d",
			ErrInvalidSignatureFormat, SignatureSize, SignatureWithRecovery, len(signature))
	}

	pub := key.ECDSA()
	digest := sha256.Sum256(message)

	// Decode signature following RFC 8152 8.1.
	n := (pub.Params().N.BitLen() + 7) / 8
	r := new(big.Int).SetBytes(signature[:n])
	s := new(big.Int).SetBytes(signature[n:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrVerificationFailed
	}
	return nil
}
