// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package backup_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/attesta-dev/go-attesta"
	"github.com/attesta-dev/go-attesta/backup"
	"github.com/attesta-dev/go-attesta/webauthn"
)

const testPassphrase = "correct horse battery staple"

func testRecord(t *testing.T) []byte {
	t.Helper()
	var passkey webauthn.PublicKey
	passkey[0], passkey[63] = 0xaa, 0xbb
	account := attesta.NewAccount(
		attesta.Identity{0: 0x01, 31: 0x02},
		passkey,
		[]byte("backup-cred"),
		attesta.SpendingLimitPolicy(5000),
		1700000000,
	)
	record, err := account.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal account: %v", err)
	}
	return record
}

func TestSealOpen(t *testing.T) {
	record := testRecord(t)

	sealed, err := backup.Seal(record, testPassphrase, 1700000000)
	if err != nil {
		t.Fatalf("failed to seal backup: %v", err)
	}
	if sealed.Version != backup.Version {
		t.Errorf("expected version %d, got %d", backup.Version, sealed.Version)
	}
	if sealed.CreatedAt != 1700000000 {
		t.Errorf("expected creation timestamp 1700000000, got %d", sealed.CreatedAt)
	}
	if bytes.Contains(sealed.Data, []byte("backup-cred")) {
		t.Error("plaintext credential ID visible in sealed data")
	}

	if !sealed.VerifyKey(testPassphrase) {
		t.Error("expected VerifyKey to accept the sealing passphrase")
	}
	if sealed.VerifyKey("guess") {
		t.Error("expected VerifyKey to reject a different passphrase")
	}

	opened, err := sealed.Open(testPassphrase)
	if err != nil {
		t.Fatalf("failed to open backup: %v", err)
	}
	if !bytes.Equal(opened, record) {
		t.Error("opened data does not match sealed record")
	}

	// The sealed record is a usable account snapshot.
	restored := new(attesta.Account)
	if err := restored.UnmarshalBinary(opened); err != nil {
		t.Fatalf("failed to parse restored record: %v", err)
	}
	if restored.Owner != (attesta.Identity{0: 0x01, 31: 0x02}) {
		t.Errorf("restored wrong owner %x", restored.Owner)
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	sealed, err := backup.Seal(testRecord(t), testPassphrase, 1700000000)
	if err != nil {
		t.Fatalf("failed to seal backup: %v", err)
	}
	if _, err := sealed.Open("not the passphrase"); !errors.Is(err, attesta.ErrBackupAuth) {
		t.Errorf("expected ErrBackupAuth, got %v", err)
	}
}

func TestOpenTampered(t *testing.T) {
	sealed, err := backup.Seal(testRecord(t), testPassphrase, 1700000000)
	if err != nil {
		t.Fatalf("failed to seal backup: %v", err)
	}

	t.Run("ciphertext bit flip", func(t *testing.T) {
		tampered := *sealed
		tampered.Data = bytes.Clone(sealed.Data)
		tampered.Data[0] ^= 0x01
		if _, err := tampered.Open(testPassphrase); !errors.Is(err, attesta.ErrBackupAuth) {
			t.Errorf("expected ErrBackupAuth, got %v", err)
		}
	})

	t.Run("timestamp rewrite", func(t *testing.T) {
		tampered := *sealed
		tampered.CreatedAt++
		if _, err := tampered.Open(testPassphrase); !errors.Is(err, attesta.ErrBackupAuth) {
			t.Errorf("expected ErrBackupAuth, got %v", err)
		}
	})
}

func TestBackupBinary(t *testing.T) {
	record := testRecord(t)
	sealed, err := backup.Seal(record, testPassphrase, 1700000000)
	if err != nil {
		t.Fatalf("failed to seal backup: %v", err)
	}
	blob, err := sealed.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal backup: %v", err)
	}

	decoded := new(backup.Backup)
	if err := decoded.UnmarshalBinary(blob); err != nil {
		t.Fatalf("failed to unmarshal backup: %v", err)
	}
	opened, err := decoded.Open(testPassphrase)
	if err != nil {
		t.Fatalf("failed to open decoded backup: %v", err)
	}
	if !bytes.Equal(opened, record) {
		t.Error("decoded backup does not round trip")
	}
}

func TestBackupBinaryMalformed(t *testing.T) {
	sealed, err := backup.Seal(testRecord(t), testPassphrase, 1700000000)
	if err != nil {
		t.Fatalf("failed to seal backup: %v", err)
	}
	blob, err := sealed.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal backup: %v", err)
	}

	badVersion := bytes.Clone(blob)
	badVersion[0] = 99
	shortHeader := bytes.Clone(blob[:40])
	truncatedData := bytes.Clone(blob[:len(blob)-1])
	trailing := append(bytes.Clone(blob), 0x00)

	for name, data := range map[string][]byte{
		"empty":          {},
		"bad version":    badVersion,
		"short header":   shortHeader,
		"truncated data": truncatedData,
		"trailing bytes": trailing,
	} {
		t.Run(name, func(t *testing.T) {
			if err := new(backup.Backup).UnmarshalBinary(data); !errors.Is(err, attesta.ErrBadRecord) {
				t.Errorf("expected ErrBadRecord, got %v", err)
			}
		})
	}
}
