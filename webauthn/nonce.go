// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package webauthn

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// DerivedNonceSize is the length of a nonce produced by DeriveNonce.
const DerivedNonceSize = sha256.Size

// DeriveNonce produces a deterministic 32-byte nonce binding a message to a
// point in time and a caller identity. The digest input is the message, the
// timestamp as 8 little-endian bytes, and the identity, in that order.
func DeriveNonce(message []byte, timestamp int64, identity []byte) [DerivedNonceSize]byte {
	h := sha256.New()
	h.Write(message)
	h.Write(binary.LittleEndian.AppendUint64(nil, uint64(timestamp)))
	h.Write(identity)

	var nonce [DerivedNonceSize]byte
	copy(nonce[:], h.Sum(nil))
	return nonce
}

// ValidateDerivedNonce checks that a derived nonce has the expected length.
func ValidateDerivedNonce(nonce []byte) error {
	if len(nonce) != DerivedNonceSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidNonce, DerivedNonceSize, len(nonce))
	}
	return nil
}
