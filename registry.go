// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/attesta-dev/go-attesta/webauthn"
)

// PasskeyCredential is one registered credential in an account's registry.
type PasskeyCredential struct {
	// ID is the authenticator-assigned credential ID.
	ID []byte

	// PublicKey is the credential's raw P-256 public key.
	PublicKey webauthn.PublicKey

	// AddedAt is the unix timestamp of registration.
	AddedAt int64

	// Enabled credentials count toward recovery; disabling a credential
	// keeps its slot without trusting it.
	Enabled bool

	// Label is a caller-chosen display name.
	Label string
}

// Clone returns a deep copy.
func (c PasskeyCredential) Clone() PasskeyCredential {
	c.ID = bytes.Clone(c.ID)
	return c
}

// registryVersion is the serialization version of registry records.
const registryVersion uint8 = 1

// CredentialRegistry tracks the credentials that may act for an account:
// one fixed primary credential plus up to MaxCredentials-1 additional
// entries.
type CredentialRegistry struct {
	// Primary is the credential registered at account initialization. It
	// cannot be removed.
	Primary PasskeyCredential

	// Additional holds the remaining registered credentials.
	Additional []PasskeyCredential

	// MaxCredentials bounds the total number of credentials, primary
	// included. At least 1.
	MaxCredentials uint8

	// RecoveryThreshold is the number of enabled credentials required for
	// account recovery. Clamped to [1, MaxCredentials].
	RecoveryThreshold uint8
}

// NewCredentialRegistry builds a registry around a primary credential.
// MaxCredentials is raised to at least 1 and the recovery threshold is
// clamped into [1, MaxCredentials].
func NewCredentialRegistry(primary PasskeyCredential, maxCredentials, recoveryThreshold uint8) *CredentialRegistry {
	maxCredentials = max(maxCredentials, 1)
	recoveryThreshold = min(max(recoveryThreshold, 1), maxCredentials)
	return &CredentialRegistry{
		Primary:           primary,
		MaxCredentials:    maxCredentials,
		RecoveryThreshold: recoveryThreshold,
	}
}

// Count returns the total number of registered credentials, primary
// included.
func (r *CredentialRegistry) Count() int { return len(r.Additional) + 1 }

// Find returns the credential with the given ID.
func (r *CredentialRegistry) Find(id []byte) (*PasskeyCredential, bool) {
	if bytes.Equal(r.Primary.ID, id) {
		return &r.Primary, true
	}
	for i := range r.Additional {
		if bytes.Equal(r.Additional[i].ID, id) {
			return &r.Additional[i], true
		}
	}
	return nil, false
}

// Add registers an additional credential. It fails when the registry is at
// capacity or the credential ID is already registered.
func (r *CredentialRegistry) Add(cred PasskeyCredential) error {
	if len(r.Additional)+1 >= int(r.MaxCredentials) {
		return fmt.Errorf("%w: %d of %d slots used", ErrMaxCredentials, r.Count(), r.MaxCredentials)
	}
	if _, ok := r.Find(cred.ID); ok {
		return fmt.Errorf("%w: %x", ErrDuplicateCredential, cred.ID)
	}
	r.Additional = append(r.Additional, cred.Clone())
	return nil
}

// Remove unregisters an additional credential. The primary credential
// cannot be removed.
func (r *CredentialRegistry) Remove(id []byte) error {
	if bytes.Equal(r.Primary.ID, id) {
		return ErrCannotRemovePrimary
	}
	for i := range r.Additional {
		if bytes.Equal(r.Additional[i].ID, id) {
			r.Additional = slices.Delete(r.Additional, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("%w: credential %x", ErrNotFound, id)
}

// SetEnabled flips the enabled flag of a registered credential.
func (r *CredentialRegistry) SetEnabled(id []byte, enabled bool) error {
	cred, ok := r.Find(id)
	if !ok {
		return fmt.Errorf("%w: credential %x", ErrNotFound, id)
	}
	cred.Enabled = enabled
	return nil
}

// Enabled returns the enabled credentials, primary first.
func (r *CredentialRegistry) Enabled() []PasskeyCredential {
	var enabled []PasskeyCredential
	if r.Primary.Enabled {
		enabled = append(enabled, r.Primary.Clone())
	}
	for _, cred := range r.Additional {
		if cred.Enabled {
			enabled = append(enabled, cred.Clone())
		}
	}
	return enabled
}

// CanRecover reports whether enough credentials are enabled to meet the
// recovery threshold.
func (r *CredentialRegistry) CanRecover() bool {
	return len(r.Enabled()) >= int(r.RecoveryThreshold)
}

// Clone returns a deep copy.
func (r *CredentialRegistry) Clone() *CredentialRegistry {
	dup := *r
	dup.Primary = r.Primary.Clone()
	dup.Additional = make([]PasskeyCredential, len(r.Additional))
	for i, cred := range r.Additional {
		dup.Additional[i] = cred.Clone()
	}
	return &dup
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *CredentialRegistry) MarshalBinary() ([]byte, error) {
	data := []byte{registryVersion}
	data = appendCredential(data, r.Primary)
	data = append(data, r.MaxCredentials, r.RecoveryThreshold)
	data = append(data, uint8(len(r.Additional)))
	for _, cred := range r.Additional {
		data = appendCredential(data, cred)
	}
	return data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *CredentialRegistry) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("%w: empty registry record", ErrBadRecord)
	}
	if data[0] != registryVersion {
		return fmt.Errorf("%w: unsupported registry version %d", ErrBadRecord, data[0])
	}
	rest := data[1:]

	var decoded CredentialRegistry
	var err error
	if decoded.Primary, rest, err = consumeCredential(rest); err != nil {
		return err
	}
	if len(rest) < 3 {
		return fmt.Errorf("%w: truncated registry header", ErrBadRecord)
	}
	decoded.MaxCredentials = rest[0]
	decoded.RecoveryThreshold = rest[1]
	count := int(rest[2])
	rest = rest[3:]

	decoded.Additional = make([]PasskeyCredential, 0, count)
	for i := 0; i < count; i++ {
		var cred PasskeyCredential
		if cred, rest, err = consumeCredential(rest); err != nil {
			return err
		}
		decoded.Additional = append(decoded.Additional, cred)
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadRecord, len(rest))
	}
	*r = decoded
	return nil
}

func appendCredential(data []byte, cred PasskeyCredential) []byte {
	data = binary.LittleEndian.AppendUint32(data, uint32(len(cred.ID)))
	data = append(data, cred.ID...)
	data = append(data, cred.PublicKey[:]...)
	data = binary.LittleEndian.AppendUint64(data, uint64(cred.AddedAt))
	if cred.Enabled {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}
	data = binary.LittleEndian.AppendUint32(data, uint32(len(cred.Label)))
	data = append(data, cred.Label...)
	return data
}

func consumeCredential(data []byte) (PasskeyCredential, []byte, error) {
	var cred PasskeyCredential
	if len(data) < 4 {
		return cred, nil, fmt.Errorf("%w: truncated credential ID length", ErrBadRecord)
	}
	idLen := binary.LittleEndian.Uint32(data)
	data = data[4:]
	if uint64(idLen) > uint64(len(data)) {
		return cred, nil, fmt.Errorf("%w: credential ID exceeds record", ErrBadRecord)
	}
	cred.ID = bytes.Clone(data[:idLen])
	data = data[idLen:]

	if len(data) < len(cred.PublicKey)+9 {
		return cred, nil, fmt.Errorf("%w: truncated credential", ErrBadRecord)
	}
	data = data[copy(cred.PublicKey[:], data):]
	cred.AddedAt = int64(binary.LittleEndian.Uint64(data))
	switch data[8] {
	case 0:
		cred.Enabled = false
	case 1:
		cred.Enabled = true
	default:
		return cred, nil, fmt.Errorf("%w: invalid enabled flag %d", ErrBadRecord, data[8])
	}
	data = data[9:]

	if len(data) < 4 {
		return cred, nil, fmt.Errorf("%w: truncated label length", ErrBadRecord)
	}
	labelLen := binary.LittleEndian.Uint32(data)
	data = data[4:]
	if uint64(labelLen) > uint64(len(data)) {
		return cred, nil, fmt.Errorf("%w: label exceeds record", ErrBadRecord)
	}
	cred.Label = string(data[:labelLen])
	return cred, data[labelLen:], nil
}
