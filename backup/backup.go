// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

// Package backup seals account records into passphrase-encrypted blobs so
// that an owner who loses every registered device can restore from offline
// storage.
//
// Blobs are encrypted with AES-256-GCM under a key derived from the
// passphrase with PBKDF2. The format version and creation timestamp are
// bound as additional data, so any header tampering fails decryption.
package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/attesta-dev/go-attesta"
)

// Version is the current backup format version.
const Version uint8 = 1

const (
	saltSize   = 16
	nonceSize  = 12
	keySize    = 32
	iterations = 10_000
)

// Backup is a sealed snapshot of account state. The plaintext is opaque to
// this package; callers usually seal the serialized account and credential
// registry records together.
type Backup struct {
	// KeyHash is the SHA-256 of the derived key. It tells a wrong
	// passphrase apart from a corrupt blob without running the cipher.
	KeyHash [32]byte

	// Salt randomizes key derivation per backup.
	Salt [saltSize]byte

	// Nonce is the GCM nonce, random per backup.
	Nonce [nonceSize]byte

	// Data is the AES-256-GCM ciphertext.
	Data []byte

	// CreatedAt is the unix timestamp of sealing.
	CreatedAt int64

	// Version is the format version the blob was sealed with.
	Version uint8
}

// DeriveKey derives the sealing key from a passphrase using PBKDF2 with
// SHA512 and 10k iterations.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha512.New)
}

// Seal encrypts data under a key derived from passphrase.
func Seal(data []byte, passphrase string, now int64) (*Backup, error) {
	b := &Backup{CreatedAt: now, Version: Version}
	if _, err := rand.Read(b.Salt[:]); err != nil {
		return nil, fmt.Errorf("error generating salt: %w", err)
	}
	if _, err := rand.Read(b.Nonce[:]); err != nil {
		return nil, fmt.Errorf("error generating nonce: %w", err)
	}

	key := DeriveKey(passphrase, b.Salt[:])
	b.KeyHash = sha256.Sum256(key)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	b.Data = aead.Seal(nil, b.Nonce[:], data, b.additionalData())
	return b, nil
}

// VerifyKey reports whether the passphrase derives the key this backup was
// sealed under.
func (b *Backup) VerifyKey(passphrase string) bool {
	return sha256.Sum256(DeriveKey(passphrase, b.Salt[:])) == b.KeyHash
}

// Open authenticates and decrypts the backup. A wrong passphrase or a
// tampered blob fails with [attesta.ErrBackupAuth].
func (b *Backup) Open(passphrase string) ([]byte, error) {
	key := DeriveKey(passphrase, b.Salt[:])
	if sha256.Sum256(key) != b.KeyHash {
		return nil, fmt.Errorf("%w: wrong passphrase", attesta.ErrBackupAuth)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	data, err := aead.Open(nil, b.Nonce[:], b.Data, b.additionalData())
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext rejected", attesta.ErrBackupAuth)
	}
	return data, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("error initializing cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// additionalData binds the header fields that are not cipher inputs.
func (b *Backup) additionalData() []byte {
	aad := make([]byte, 0, 9)
	aad = append(aad, b.Version)
	aad = binary.LittleEndian.AppendUint64(aad, uint64(b.CreatedAt))
	return aad
}

/*
	Backup blob layout:

	version      uint8
	key hash     [32]byte
	salt         [16]byte
	nonce        [12]byte
	created at   int64 (little-endian)
	data length  uint32 (little-endian)
	data         []byte
*/

// MarshalBinary implements encoding.BinaryMarshaler.
func (b *Backup) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 73+len(b.Data))
	data = append(data, b.Version)
	data = append(data, b.KeyHash[:]...)
	data = append(data, b.Salt[:]...)
	data = append(data, b.Nonce[:]...)
	data = binary.LittleEndian.AppendUint64(data, uint64(b.CreatedAt))
	data = binary.LittleEndian.AppendUint32(data, uint32(len(b.Data)))
	data = append(data, b.Data...)
	return data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Blobs with an
// unknown version, truncated fields, or trailing bytes are rejected.
func (b *Backup) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("%w: empty backup blob", attesta.ErrBadRecord)
	}
	if data[0] != Version {
		return fmt.Errorf("%w: unsupported backup version %d", attesta.ErrBadRecord, data[0])
	}
	rest := data[1:]

	var decoded Backup
	decoded.Version = data[0]
	if len(rest) < len(decoded.KeyHash) {
		return fmt.Errorf("%w: truncated key hash", attesta.ErrBadRecord)
	}
	rest = rest[copy(decoded.KeyHash[:], rest):]
	if len(rest) < len(decoded.Salt) {
		return fmt.Errorf("%w: truncated salt", attesta.ErrBadRecord)
	}
	rest = rest[copy(decoded.Salt[:], rest):]
	if len(rest) < len(decoded.Nonce) {
		return fmt.Errorf("%w: truncated nonce", attesta.ErrBadRecord)
	}
	rest = rest[copy(decoded.Nonce[:], rest):]

	if len(rest) < 8 {
		return fmt.Errorf("%w: truncated timestamp", attesta.ErrBadRecord)
	}
	decoded.CreatedAt = int64(binary.LittleEndian.Uint64(rest))
	rest = rest[8:]

	if len(rest) < 4 {
		return fmt.Errorf("%w: truncated data length", attesta.ErrBadRecord)
	}
	dataLen := binary.LittleEndian.Uint32(rest)
	rest = rest[4:]
	if uint64(dataLen) != uint64(len(rest)) {
		return fmt.Errorf("%w: data length %d does not match %d remaining bytes", attesta.ErrBadRecord, dataLen, len(rest))
	}
	decoded.Data = bytes.Clone(rest)

	*b = decoded
	return nil
}
