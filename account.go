// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/attesta-dev/go-attesta/webauthn"
)

// Identity is a 32-byte stable owner identifier. It names the controlling
// principal of an account and is an opaque value to the engine; callers may
// use a key hash, a user ID digest, or any other 32-byte identifier.
type Identity [32]byte

// AccountID identifies an account record. IDs are derived deterministically
// from the owner identity, so an owner maps to exactly one account.
type AccountID [32]byte

// accountIDSeed is the domain separator for account ID derivation.
const accountIDSeed = "attesta/account/v1"

// DeriveAccountID derives the account ID for an owner identity.
func DeriveAccountID(owner Identity) AccountID {
	h := sha256.New()
	h.Write([]byte(accountIDSeed))
	h.Write(owner[:])

	var id AccountID
	copy(id[:], h.Sum(nil))
	return id
}

// String implements Stringer, returning the hex encoding.
func (id AccountID) String() string { return hex.EncodeToString(id[:]) }

// ParseAccountID decodes a hex-encoded account ID.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid account ID: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid account ID: expected %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// accountMagic is the 8-byte discriminator prefixing every serialized
// account record.
var accountMagic = [8]byte{'A', 'T', 'T', 'E', 'S', 'T', 'A', 0x00}

// Account is the authorization state for one passkey-controlled account.
//
// Account is a plain value type: nothing mutates it behind the caller's
// back, and the only mutating methods are [Account.AdvanceNonce] and
// [Account.Touch], called by the authorization flow after a proof has been
// accepted. Concurrent use of one account must be serialized by the caller;
// [Server] does this per account ID.
//
// Its binary form is the discriminator followed by the fields in
// declaration order:
//
//	AccountRecord = [
//	    Magic:             "ATTESTA\x00",
//	    Owner:             bstr .size 32,
//	    Passkey:           bstr .size 64,   ;; raw X||Y P-256 point
//	    len(CredentialID): uint32,          ;; little-endian
//	    CredentialID:      bstr,
//	    Nonce:             uint64,          ;; little-endian
//	    PolicyKind:        uint8,
//	    len(Config):       uint32,          ;; little-endian
//	    Config:            bstr,
//	    CreatedAt:         int64,           ;; little-endian unix seconds
//	    UpdatedAt:         int64,
//	]
type Account struct {
	// Owner is the controlling principal.
	Owner Identity

	// Passkey is the public key of the account's active credential.
	Passkey webauthn.PublicKey

	// CredentialID is the authenticator-assigned ID of the active
	// credential. Proofs must present exactly this ID.
	CredentialID []byte

	// Nonce is the last accepted proof nonce. Proofs must carry a strictly
	// greater value.
	Nonce uint64

	// Policy governs what actions the account may authorize.
	Policy Policy

	// CreatedAt and UpdatedAt are unix timestamps. UpdatedAt changes only
	// when a proof is accepted or the policy is replaced.
	CreatedAt int64
	UpdatedAt int64
}

// NewAccount initializes an account with a zero nonce.
func NewAccount(owner Identity, passkey webauthn.PublicKey, credentialID []byte, policy Policy, now int64) *Account {
	return &Account{
		Owner:        owner,
		Passkey:      passkey,
		CredentialID: bytes.Clone(credentialID),
		Policy:       policy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ID returns the derived account ID.
func (a *Account) ID() AccountID { return DeriveAccountID(a.Owner) }

// ValidateNonce checks that a candidate nonce strictly exceeds the stored
// nonce. Equal or lower values indicate a replayed or reordered proof.
func (a *Account) ValidateNonce(candidate uint64) error {
	if candidate <= a.Nonce {
		return fmt.Errorf("%w: candidate %d, current %d", ErrReplayAttack, candidate, a.Nonce)
	}
	return nil
}

// AdvanceNonce increments the stored nonce, saturating at the maximum
// instead of wrapping to zero.
func (a *Account) AdvanceNonce() {
	if a.Nonce == math.MaxUint64 {
		return
	}
	a.Nonce++
}

// Touch refreshes the update timestamp.
func (a *Account) Touch(now int64) { a.UpdatedAt = now }

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	dup := *a
	dup.CredentialID = bytes.Clone(a.CredentialID)
	dup.Policy.Config = bytes.Clone(a.Policy.Config)
	return &dup
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a *Account) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 137+len(a.CredentialID)+len(a.Policy.Config))
	data = append(data, accountMagic[:]...)
	data = append(data, a.Owner[:]...)
	data = append(data, a.Passkey[:]...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(a.CredentialID)))
	data = append(data, a.CredentialID...)
	data = binary.LittleEndian.AppendUint64(data, a.Nonce)
	data = append(data, byte(a.Policy.Kind))
	data = binary.LittleEndian.AppendUint32(data, uint32(len(a.Policy.Config)))
	data = append(data, a.Policy.Config...)
	data = binary.LittleEndian.AppendUint64(data, uint64(a.CreatedAt))
	data = binary.LittleEndian.AppendUint64(data, uint64(a.UpdatedAt))
	return data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Records with a
// wrong discriminator, truncated fields, or trailing bytes are rejected.
func (a *Account) UnmarshalBinary(data []byte) error {
	if len(data) < len(accountMagic) || !bytes.Equal(data[:len(accountMagic)], accountMagic[:]) {
		return fmt.Errorf("%w: missing account discriminator", ErrBadRecord)
	}
	rest := data[len(accountMagic):]

	var decoded Account
	if len(rest) < len(decoded.Owner) {
		return fmt.Errorf("%w: truncated owner", ErrBadRecord)
	}
	rest = rest[copy(decoded.Owner[:], rest):]
	if len(rest) < len(decoded.Passkey) {
		return fmt.Errorf("%w: truncated passkey", ErrBadRecord)
	}
	rest = rest[copy(decoded.Passkey[:], rest):]

	if len(rest) < 4 {
		return fmt.Errorf("%w: truncated credential ID length", ErrBadRecord)
	}
	credIDLen := binary.LittleEndian.Uint32(rest)
	rest = rest[4:]
	if uint64(credIDLen) > uint64(len(rest)) {
		return fmt.Errorf("%w: credential ID exceeds record", ErrBadRecord)
	}
	decoded.CredentialID = bytes.Clone(rest[:credIDLen])
	rest = rest[credIDLen:]

	if len(rest) < 8 {
		return fmt.Errorf("%w: truncated nonce", ErrBadRecord)
	}
	decoded.Nonce = binary.LittleEndian.Uint64(rest)
	rest = rest[8:]

	if len(rest) < 1 {
		return fmt.Errorf("%w: truncated policy kind", ErrBadRecord)
	}
	decoded.Policy.Kind = PolicyKind(rest[0])
	rest = rest[1:]
	if !decoded.Policy.Kind.valid() {
		return fmt.Errorf("%w: unknown policy kind %d", ErrBadRecord, decoded.Policy.Kind)
	}

	if len(rest) < 4 {
		return fmt.Errorf("%w: truncated policy config length", ErrBadRecord)
	}
	configLen := binary.LittleEndian.Uint32(rest)
	rest = rest[4:]
	if uint64(configLen) > uint64(len(rest)) {
		return fmt.Errorf("%w: policy config exceeds record", ErrBadRecord)
	}
	decoded.Policy.Config = bytes.Clone(rest[:configLen])
	rest = rest[configLen:]

	if len(rest) < 16 {
		return fmt.Errorf("%w: truncated timestamps", ErrBadRecord)
	}
	decoded.CreatedAt = int64(binary.LittleEndian.Uint64(rest))
	decoded.UpdatedAt = int64(binary.LittleEndian.Uint64(rest[8:]))
	rest = rest[16:]

	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadRecord, len(rest))
	}
	*a = decoded
	return nil
}
