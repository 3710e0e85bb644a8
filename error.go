// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta

import (
	"errors"
	"fmt"
	"time"

	"github.com/attesta-dev/go-attesta/webauthn"
)

// Error codes reported in [AuthError] responses. Codes identify the failure
// class without exposing sensitive detail; the engine fails closed, so any
// unclassified error maps to [InternalErrCode].
const (
	// Public key is not a valid P-256 point in the expected encoding.
	//
	// Operations: Initialize, AddCredential
	InvalidPublicKeyCode uint16 = 1

	// A well-formed signature did not verify against the credential key.
	//
	// Operations: Execute, UpdatePolicy, AddCredential, RemoveCredential
	VerificationFailedCode uint16 = 2

	// Signature or assertion envelope was not structurally valid.
	//
	// Operations: Execute, UpdatePolicy, AddCredential, RemoveCredential
	InvalidSignatureFormatCode uint16 = 3

	// Proof nonce did not strictly exceed the account nonce.
	//
	// Operations: Execute, UpdatePolicy, AddCredential, RemoveCredential
	ReplayAttackCode uint16 = 4

	// Derived nonce was not the expected length.
	InvalidNonceCode uint16 = 5

	// Expected challenge was absent from the client data document.
	//
	// Operations: Execute, UpdatePolicy, AddCredential, RemoveCredential
	ChallengeMismatchCode uint16 = 6

	// Assertion carried no credential ID.
	InvalidCredentialIDCode uint16 = 7

	// Authenticator data was shorter than its fixed header.
	InvalidAuthenticatorDataCode uint16 = 8

	// Policy evaluation denied the action.
	//
	// Operations: Execute
	PolicyDeniedCode uint16 = 9

	// Credential registry is at capacity.
	//
	// Operations: AddCredential
	MaxCredentialsCode uint16 = 10

	// Credential ID already registered.
	//
	// Operations: AddCredential
	DuplicateCredentialCode uint16 = 11

	// The primary credential cannot be removed.
	//
	// Operations: RemoveCredential
	CannotRemovePrimaryCode uint16 = 12

	// Account or credential does not exist.
	NotFoundCode uint16 = 13

	// Account already exists for the owner identity.
	//
	// Operations: Initialize
	AccountExistsCode uint16 = 14

	// Stored record or request document failed its magic or structural
	// checks.
	BadRecordCode uint16 = 15

	// Backup blob failed authentication.
	BackupAuthCode uint16 = 16

	// Policy configuration bytes do not match the policy kind.
	//
	// Operations: Initialize, UpdatePolicy
	InvalidPolicyConfigCode uint16 = 17

	// Something went wrong which couldn't be classified otherwise. (This was
	// chosen to match the HTTP 500 error code.)
	InternalErrCode uint16 = 500
)

// Engine errors. These complement the verification sentinels in the
// [github.com/attesta-dev/go-attesta/webauthn] package; together they form
// the full failure taxonomy surfaced by account operations.
var (
	// ErrReplayAttack is used when a proof nonce does not strictly exceed
	// the stored account nonce.
	ErrReplayAttack = fmt.Errorf("replay attack: nonce must strictly increase")

	// ErrPolicyDenied is used when policy evaluation denies an action.
	ErrPolicyDenied = fmt.Errorf("denied by policy")

	// ErrMaxCredentials is used when the registry is at capacity.
	ErrMaxCredentials = fmt.Errorf("max credentials reached")

	// ErrDuplicateCredential is used when a credential ID is already
	// registered.
	ErrDuplicateCredential = fmt.Errorf("duplicate credential")

	// ErrCannotRemovePrimary is used when removal targets the primary
	// credential.
	ErrCannotRemovePrimary = fmt.Errorf("cannot remove primary credential")

	// ErrBadRecord is used when a serialized record or request document
	// fails its magic or structural checks.
	ErrBadRecord = fmt.Errorf("bad record")

	// ErrBackupAuth is used when a backup blob cannot be authenticated with
	// the given passphrase.
	ErrBackupAuth = fmt.Errorf("backup authentication failed")

	// ErrInvalidPolicyConfig is used when policy configuration bytes do not
	// match the declared policy kind.
	ErrInvalidPolicyConfig = fmt.Errorf("invalid policy configuration")
)

// ErrorCode classifies an error chain into its taxonomy code.
func ErrorCode(err error) uint16 {
	switch {
	case errors.Is(err, webauthn.ErrInvalidPublicKey):
		return InvalidPublicKeyCode
	case errors.Is(err, webauthn.ErrVerificationFailed):
		return VerificationFailedCode
	case errors.Is(err, webauthn.ErrInvalidSignatureFormat):
		return InvalidSignatureFormatCode
	case errors.Is(err, webauthn.ErrInvalidNonce):
		return InvalidNonceCode
	case errors.Is(err, webauthn.ErrChallengeMismatch):
		return ChallengeMismatchCode
	case errors.Is(err, webauthn.ErrInvalidCredentialID):
		return InvalidCredentialIDCode
	case errors.Is(err, webauthn.ErrInvalidAuthenticatorData):
		return InvalidAuthenticatorDataCode
	case errors.Is(err, ErrReplayAttack):
		return ReplayAttackCode
	case errors.Is(err, ErrPolicyDenied):
		return PolicyDeniedCode
	case errors.Is(err, ErrMaxCredentials):
		return MaxCredentialsCode
	case errors.Is(err, ErrDuplicateCredential):
		return DuplicateCredentialCode
	case errors.Is(err, ErrCannotRemovePrimary):
		return CannotRemovePrimaryCode
	case errors.Is(err, ErrNotFound):
		return NotFoundCode
	case errors.Is(err, ErrAccountExists):
		return AccountExistsCode
	case errors.Is(err, ErrBadRecord):
		return BadRecordCode
	case errors.Is(err, ErrBackupAuth):
		return BackupAuthCode
	case errors.Is(err, ErrInvalidPolicyConfig):
		return InvalidPolicyConfigCode
	default:
		return InternalErrCode
	}
}

// AuthError is the wire form of a failed operation. The error string must
// not include security details that are inappropriate for logging, such as
// key material or the specific byte position of a verification failure.
type AuthError struct {
	Code      uint16
	Op        string
	ErrString string
	Timestamp int64
}

// NewAuthError builds the wire form of an error produced by the named
// operation.
func NewAuthError(op string, err error) AuthError {
	return AuthError{
		Code:      ErrorCode(err),
		Op:        op,
		ErrString: err.Error(),
		Timestamp: time.Now().Unix(),
	}
}

// String implements Stringer.
func (e AuthError) String() string {
	return fmt.Sprintf("%s [code=%d,op=%s] %s",
		time.Unix(e.Timestamp, 0), e.Code, e.Op, e.ErrString,
	)
}

// Error implements the standard error interface.
func (e AuthError) Error() string { return e.String() }
