// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/attesta-dev/go-attesta"
)

func testCredential(t *testing.T, id string) attesta.PasskeyCredential {
	t.Helper()
	_, passkey := newTestPasskey(t)
	return attesta.PasskeyCredential{
		ID:        []byte(id),
		PublicKey: passkey,
		AddedAt:   1700000000,
		Enabled:   true,
		Label:     id,
	}
}

func TestNewCredentialRegistry(t *testing.T) {
	primary := testCredential(t, "primary")

	registry := attesta.NewCredentialRegistry(primary, 5, 2)
	if registry.Count() != 1 {
		t.Errorf("expected count 1, got %d", registry.Count())
	}
	if registry.MaxCredentials != 5 || registry.RecoveryThreshold != 2 {
		t.Errorf("expected max 5 threshold 2, got %d and %d",
			registry.MaxCredentials, registry.RecoveryThreshold)
	}

	// Degenerate parameters are clamped rather than rejected.
	registry = attesta.NewCredentialRegistry(primary, 0, 0)
	if registry.MaxCredentials != 1 || registry.RecoveryThreshold != 1 {
		t.Errorf("expected clamped max 1 threshold 1, got %d and %d",
			registry.MaxCredentials, registry.RecoveryThreshold)
	}

	registry = attesta.NewCredentialRegistry(primary, 3, 10)
	if registry.RecoveryThreshold != 3 {
		t.Errorf("expected threshold clamped to max 3, got %d", registry.RecoveryThreshold)
	}
}

func TestRegistryAdd(t *testing.T) {
	registry := attesta.NewCredentialRegistry(testCredential(t, "primary"), 3, 2)

	if err := registry.Add(testCredential(t, "backup")); err != nil {
		t.Fatalf("failed to add credential: %v", err)
	}
	if registry.Count() != 2 {
		t.Errorf("expected count 2, got %d", registry.Count())
	}

	if err := registry.Add(testCredential(t, "backup")); !errors.Is(err, attesta.ErrDuplicateCredential) {
		t.Errorf("expected duplicate credential error, got %v", err)
	}
	if err := registry.Add(testCredential(t, "primary")); !errors.Is(err, attesta.ErrDuplicateCredential) {
		t.Errorf("expected duplicate error re-adding the primary ID, got %v", err)
	}

	if err := registry.Add(testCredential(t, "phone")); err != nil {
		t.Fatalf("failed to add credential at capacity boundary: %v", err)
	}
	if err := registry.Add(testCredential(t, "overflow")); !errors.Is(err, attesta.ErrMaxCredentials) {
		t.Errorf("expected max credentials error, got %v", err)
	}
	if registry.Count() != 3 {
		t.Errorf("expected count to stay 3, got %d", registry.Count())
	}
}

func TestRegistryRemove(t *testing.T) {
	registry := attesta.NewCredentialRegistry(testCredential(t, "primary"), 4, 2)
	if err := registry.Add(testCredential(t, "backup")); err != nil {
		t.Fatalf("failed to add credential: %v", err)
	}

	if err := registry.Remove([]byte("primary")); !errors.Is(err, attesta.ErrCannotRemovePrimary) {
		t.Errorf("expected cannot-remove-primary error, got %v", err)
	}
	if err := registry.Remove([]byte("missing")); !errors.Is(err, attesta.ErrNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}

	if err := registry.Remove([]byte("backup")); err != nil {
		t.Fatalf("failed to remove credential: %v", err)
	}
	if registry.Count() != 1 {
		t.Errorf("expected count 1 after removal, got %d", registry.Count())
	}
	if _, ok := registry.Find([]byte("backup")); ok {
		t.Error("removed credential still found")
	}
}

func TestRegistryEnabled(t *testing.T) {
	registry := attesta.NewCredentialRegistry(testCredential(t, "primary"), 4, 2)
	for _, id := range []string{"backup", "phone"} {
		if err := registry.Add(testCredential(t, id)); err != nil {
			t.Fatalf("failed to add credential %q: %v", id, err)
		}
	}

	if err := registry.SetEnabled([]byte("backup"), false); err != nil {
		t.Fatalf("failed to disable credential: %v", err)
	}
	if err := registry.SetEnabled([]byte("missing"), false); !errors.Is(err, attesta.ErrNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}

	enabled := registry.Enabled()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled credentials, got %d", len(enabled))
	}
	if !bytes.Equal(enabled[0].ID, []byte("primary")) {
		t.Errorf("expected primary credential first, got %q", enabled[0].ID)
	}

	if !registry.CanRecover() {
		t.Error("expected recovery possible with threshold met")
	}
	if err := registry.SetEnabled([]byte("phone"), false); err != nil {
		t.Fatalf("failed to disable credential: %v", err)
	}
	if registry.CanRecover() {
		t.Error("expected recovery impossible below threshold")
	}
}

func TestRegistryClone(t *testing.T) {
	registry := attesta.NewCredentialRegistry(testCredential(t, "primary"), 4, 2)
	if err := registry.Add(testCredential(t, "backup")); err != nil {
		t.Fatalf("failed to add credential: %v", err)
	}

	clone := registry.Clone()
	clone.Primary.ID[0] = 'X'
	clone.Additional[0].ID[0] = 'X'
	if registry.Primary.ID[0] == 'X' || registry.Additional[0].ID[0] == 'X' {
		t.Error("clone shares credential ID bytes with original")
	}
}

func TestRegistryBinary(t *testing.T) {
	registry := attesta.NewCredentialRegistry(testCredential(t, "primary"), 5, 2)
	backup := testCredential(t, "backup")
	backup.Enabled = false
	backup.Label = "yubikey in the drawer"
	if err := registry.Add(backup); err != nil {
		t.Fatalf("failed to add credential: %v", err)
	}

	data, err := registry.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal registry: %v", err)
	}

	var decoded attesta.CredentialRegistry
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("failed to unmarshal registry: %v", err)
	}
	if decoded.MaxCredentials != 5 || decoded.RecoveryThreshold != 2 {
		t.Errorf("expected max 5 threshold 2, got %d and %d",
			decoded.MaxCredentials, decoded.RecoveryThreshold)
	}
	if decoded.Count() != 2 {
		t.Fatalf("expected 2 credentials, got %d", decoded.Count())
	}
	for _, want := range []attesta.PasskeyCredential{registry.Primary, registry.Additional[0]} {
		got, ok := decoded.Find(want.ID)
		if !ok {
			t.Fatalf("credential %q missing after round trip", want.ID)
		}
		if got.PublicKey != want.PublicKey || got.AddedAt != want.AddedAt ||
			got.Enabled != want.Enabled || got.Label != want.Label {
			t.Errorf("credential %q changed in round trip: %+v != %+v", want.ID, *got, want)
		}
	}
}

func TestRegistryBinaryMalformed(t *testing.T) {
	registry := attesta.NewCredentialRegistry(testCredential(t, "primary"), 5, 2)
	if err := registry.Add(testCredential(t, "backup")); err != nil {
		t.Fatalf("failed to add credential: %v", err)
	}
	valid, err := registry.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal registry: %v", err)
	}

	cases := map[string][]byte{
		"empty":           nil,
		"unknown version": append([]byte{99}, valid[1:]...),
		"trailing bytes":  append(bytes.Clone(valid), 0),
	}
	for i, n := range []int{1, 4, 30, len(valid) / 2, len(valid) - 1} {
		cases[fmt.Sprintf("truncated %d", i)] = valid[:n]
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			var decoded attesta.CredentialRegistry
			err := decoded.UnmarshalBinary(data)
			if !errors.Is(err, attesta.ErrBadRecord) {
				t.Errorf("expected bad record error, got %v", err)
			}
		})
	}
}
