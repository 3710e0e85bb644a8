// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/attesta-dev/go-attesta/webauthn"
)

// AuthorizationProof is a passkey assertion claiming one account nonce.
//
// The claimed nonce doubles as the assertion challenge: the authenticator
// signs over a client data document containing the nonce's 8-byte
// little-endian encoding, and acceptance consumes the nonce. MessageHash
// binds the proof to the action payload for the layers above; the engine
// carries it but does not interpret it.
type AuthorizationProof struct {
	Assertion   webauthn.Assertion
	Nonce       uint64
	MessageHash [32]byte
}

// NonceChallenge returns the challenge bytes for a claimed nonce: its
// 8-byte little-endian encoding.
func NonceChallenge(nonce uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, nonce)
}

// VerifyProof checks an authorization proof against the account, in order:
// the claimed nonce must strictly exceed the account nonce, the assertion
// must name the account's active credential, and the assertion must verify
// against the account's passkey with the nonce challenge.
//
// VerifyProof mutates nothing; consuming the nonce on acceptance is the
// caller's responsibility (see [Authorize]).
func (a *Account) VerifyProof(proof *AuthorizationProof) error {
	if err := a.ValidateNonce(proof.Nonce); err != nil {
		return err
	}
	if !bytes.Equal(proof.Assertion.CredentialID, a.CredentialID) {
		return fmt.Errorf("%w: assertion does not name the active credential", webauthn.ErrInvalidCredentialID)
	}
	if err := proof.Assertion.Verify(a.Passkey[:], NonceChallenge(proof.Nonce)); err != nil {
		return err
	}
	return nil
}
