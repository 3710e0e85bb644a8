// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package webauthn

import "errors"

// Verification errors. All failure paths return one of these sentinels,
// possibly wrapped with detail, so callers can classify failures with
// [errors.Is] without parsing messages.
var (
	// ErrInvalidPublicKey is used when a public key is not a valid P-256
	// point in the expected encoding.
	ErrInvalidPublicKey = errors.New("invalid P-256 public key")

	// ErrInvalidSignatureFormat is used when a signature is not in 64-byte
	// r||s or 65-byte r||s||v form, or when an assertion envelope cannot be
	// decoded.
	ErrInvalidSignatureFormat = errors.New("invalid signature format")

	// ErrVerificationFailed is used when a well-formed signature does not
	// verify against the given key and message.
	ErrVerificationFailed = errors.New("signature verification failed")

	// ErrChallengeMismatch is used when the expected challenge is absent
	// from the client data document.
	ErrChallengeMismatch = errors.New("challenge mismatch")

	// ErrInvalidAuthenticatorData is used when authenticator data is shorter
	// than the fixed header length.
	ErrInvalidAuthenticatorData = errors.New("invalid authenticator data")

	// ErrInvalidCredentialID is used when a credential ID is empty or does
	// not name the expected credential.
	ErrInvalidCredentialID = errors.New("invalid credential ID")

	// ErrInvalidNonce is used when a derived nonce is not exactly 32 bytes.
	ErrInvalidNonce = errors.New("invalid nonce")
)
