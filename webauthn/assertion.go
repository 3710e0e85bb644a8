// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

// Package webauthn implements verification of WebAuthn-style passkey
// assertions bound to a P-256 credential.
//
// The package deliberately verifies the reduced assertion model used by the
// Attesta authorization protocol rather than the full W3C ceremony: the
// challenge is matched by containment in the raw client data document and
// authenticator data is only checked for its fixed-length header. Relying
// parties that need origin and RP ID validation must layer it on top.
package webauthn

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// AuthenticatorDataMinSize is the fixed header length of authenticator data:
// a 32-byte RP ID hash, 1 flag byte, and a 4-byte big-endian signature
// counter.
const AuthenticatorDataMinSize = 37

// Assertion is a passkey authentication assertion.
//
// Its binary form is the four fields in declaration order, each prefixed
// with a 32-bit little-endian length:
//
//	Assertion = [
//	    len(AuthenticatorData): uint32,  ;; little-endian
//	    AuthenticatorData:      bstr,
//	    len(ClientData):        uint32,
//	    ClientData:             bstr,    ;; client data JSON document
//	    len(Signature):         uint32,
//	    Signature:              bstr,    ;; 64-byte r||s or 65-byte r||s||v
//	    len(CredentialID):      uint32,
//	    CredentialID:           bstr,
//	]
type Assertion struct {
	AuthenticatorData []byte
	ClientData        []byte
	Signature         []byte
	CredentialID      []byte
}

// Verify checks the assertion against a raw 64-byte public key and an
// expected challenge.
//
// The signed message is the authenticator data concatenated with the SHA-256
// digest of the client data. The challenge is matched by byte containment in
// the client data document; an empty challenge never matches.
func (a *Assertion) Verify(pubKey, challenge []byte) error {
	if len(a.AuthenticatorData) < AuthenticatorDataMinSize {
		return fmt.Errorf("%w: %d bytes, minimum %d",
			ErrInvalidAuthenticatorData, len(a.AuthenticatorData), AuthenticatorDataMinSize)
	}
	if len(challenge) == 0 || !bytes.Contains(a.ClientData, challenge) {
		return ErrChallengeMismatch
	}

	clientDataHash := sha256.Sum256(a.ClientData)
	message := make([]byte, 0, len(a.AuthenticatorData)+sha256.Size)
	message = append(message, a.AuthenticatorData...)
	message = append(message, clientDataHash[:]...)

	return Verify(pubKey, message, a.Signature)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a *Assertion) MarshalBinary() ([]byte, error) {
	size := 0
	for _, field := range [][]byte{a.AuthenticatorData, a.ClientData, a.Signature, a.CredentialID} {
		size += 4 + len(field)
	}
	data := make([]byte, 0, size)
	for _, field := range [][]byte{a.AuthenticatorData, a.ClientData, a.Signature, a.CredentialID} {
		data = binary.LittleEndian.AppendUint32(data, uint32(len(field)))
		data = append(data, field...)
	}
	return data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Truncated input and
// trailing bytes are both rejected.
func (a *Assertion) UnmarshalBinary(data []byte) error {
	var decoded Assertion
	rest := data
	for _, field := range []*[]byte{
		&decoded.AuthenticatorData, &decoded.ClientData, &decoded.Signature, &decoded.CredentialID,
	} {
		if len(rest) < 4 {
			return fmt.Errorf("%w: truncated assertion field length", ErrInvalidSignatureFormat)
		}
		n := binary.LittleEndian.Uint32(rest)
		rest = rest[4:]
		if uint64(n) > uint64(len(rest)) {
			return fmt.Errorf("%w: assertion field exceeds input", ErrInvalidSignatureFormat)
		}
		*field = bytes.Clone(rest[:n])
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidSignatureFormat, len(rest))
	}
	*a = decoded
	return nil
}

// Sign creates an assertion over a challenge using a P-256 private key. It
// produces a synthetic client data document embedding the raw challenge and
// a minimal authenticator data header for rpID.
//
// This is the authenticator side of [Assertion.Verify] and is primarily
// useful for clients, tests, and tooling. Hardware authenticators produce
// the same structure natively.
func Sign(key *ecdsa.PrivateKey, credentialID, challenge []byte, rpID string) (*Assertion, error) {
	if key.Curve.Params().Name != "P-256" {
		return nil, fmt.Errorf("%w: unsupported curve %s", ErrInvalidPublicKey, key.Curve.Params().Name)
	}

	rpIDHash := sha256.Sum256([]byte(rpID))
	authData := make([]byte, AuthenticatorDataMinSize)
	copy(authData, rpIDHash[:])
	authData[32] = 0x01 // user present

	clientData := make([]byte, 0, len(challenge)+64)
	clientData = append(clientData, `{"type":"webauthn.get","challenge":"`...)
	clientData = append(clientData, challenge...)
	clientData = append(clientData, `"}`...)

	clientDataHash := sha256.Sum256(clientData)
	message := append(bytes.Clone(authData), clientDataHash[:]...)
	digest := sha256.Sum256(message)

	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("error signing assertion: %w", err)
	}

	// Encode signature following RFC 8152 8.1.
	n := (key.Params().N.BitLen() + 7) / 8
	sig := make([]byte, n*2)
	r.FillBytes(sig[:n])
	s.FillBytes(sig[n:])

	return &Assertion{
		AuthenticatorData: authData,
		ClientData:        clientData,
		Signature:         sig,
		CredentialID:      bytes.Clone(credentialID),
	}, nil
}
