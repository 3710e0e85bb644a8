// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

// Package attestatest provides shared test suites and helpers for account
// state implementations.
package attestatest

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/attesta-dev/go-attesta"
	"github.com/attesta-dev/go-attesta/internal/memory"
	"github.com/attesta-dev/go-attesta/webauthn"
)

// RunStateSuite is used to test different implementations of the account
// state methods. If state is nil, the in-memory implementation is used.
func RunStateSuite(t *testing.T, state attesta.AccountState) {
	if state == nil {
		state = memory.NewState()
	}

	t.Run("AccountPersistentState", func(t *testing.T) {
		account := suiteAccount(t, 0x01)
		id := account.ID()

		// Shadow state to limit testable functions
		var state attesta.AccountPersistentState = state

		// Check for not found
		if _, err := state.Account(context.Background(), id); !errors.Is(err, attesta.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := state.ReplaceAccount(context.Background(), id, account); !errors.Is(err, attesta.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if err := state.NewAccount(context.Background(), account); err != nil {
			t.Fatalf("error storing new account: %v", err)
		}
		if err := state.NewAccount(context.Background(), account); !errors.Is(err, attesta.ErrAccountExists) {
			t.Fatalf("expected ErrAccountExists, got %v", err)
		}

		got, err := state.Account(context.Background(), id)
		if err != nil {
			t.Fatalf("error retrieving account: %v", err)
		}
		if got.Owner != account.Owner {
			t.Errorf("expected owner %x, got %x", account.Owner, got.Owner)
		}
		if got.Passkey != account.Passkey {
			t.Errorf("expected passkey %x, got %x", account.Passkey, got.Passkey)
		}
		if !bytes.Equal(got.CredentialID, account.CredentialID) {
			t.Errorf("expected credential ID %x, got %x", account.CredentialID, got.CredentialID)
		}
		if got.Nonce != account.Nonce {
			t.Errorf("expected nonce %d, got %d", account.Nonce, got.Nonce)
		}
		if got.Policy.Kind != account.Policy.Kind {
			t.Errorf("expected policy kind %s, got %s", account.Policy.Kind, got.Policy.Kind)
		}
		if got.CreatedAt != account.CreatedAt || got.UpdatedAt != account.UpdatedAt {
			t.Errorf("expected timestamps %d/%d, got %d/%d",
				account.CreatedAt, account.UpdatedAt, got.CreatedAt, got.UpdatedAt)
		}

		// Mutations round trip through ReplaceAccount
		got.AdvanceNonce()
		got.Touch(got.UpdatedAt + 60)
		if err := state.ReplaceAccount(context.Background(), id, got); err != nil {
			t.Fatalf("error replacing account: %v", err)
		}
		replaced, err := state.Account(context.Background(), id)
		if err != nil {
			t.Fatalf("error retrieving replaced account: %v", err)
		}
		if replaced.Nonce != account.Nonce+1 {
			t.Errorf("expected nonce %d, got %d", account.Nonce+1, replaced.Nonce)
		}
		if replaced.UpdatedAt != account.UpdatedAt+60 {
			t.Errorf("expected update timestamp %d, got %d", account.UpdatedAt+60, replaced.UpdatedAt)
		}

		// Mutating a retrieved account must not change the stored record
		// until it is written back.
		replaced.AdvanceNonce()
		fresh, err := state.Account(context.Background(), id)
		if err != nil {
			t.Fatalf("error retrieving account: %v", err)
		}
		if fresh.Nonce != account.Nonce+1 {
			t.Errorf("stored account changed without ReplaceAccount: nonce %d", fresh.Nonce)
		}
	})

	t.Run("RegistryPersistentState", func(t *testing.T) {
		// Registries reference their account, so store the account first.
		account := suiteAccount(t, 0x02)
		id := account.ID()
		if err := state.NewAccount(context.Background(), account); err != nil {
			t.Fatalf("error storing new account: %v", err)
		}

		registry := attesta.NewCredentialRegistry(attesta.PasskeyCredential{
			ID:        account.CredentialID,
			PublicKey: account.Passkey,
			AddedAt:   account.CreatedAt,
			Enabled:   true,
			Label:     "primary",
		}, 4, 2)

		// Shadow state to limit testable functions
		var state attesta.RegistryPersistentState = state

		// Check for not found
		if _, err := state.Registry(context.Background(), id); !errors.Is(err, attesta.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := state.ReplaceRegistry(context.Background(), id, registry); !errors.Is(err, attesta.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if err := state.NewRegistry(context.Background(), id, registry); err != nil {
			t.Fatalf("error storing new registry: %v", err)
		}
		if err := state.NewRegistry(context.Background(), id, registry); !errors.Is(err, attesta.ErrAccountExists) {
			t.Fatalf("expected ErrAccountExists, got %v", err)
		}

		got, err := state.Registry(context.Background(), id)
		if err != nil {
			t.Fatalf("error retrieving registry: %v", err)
		}
		if got.Count() != 1 {
			t.Errorf("expected 1 credential, got %d", got.Count())
		}
		if !bytes.Equal(got.Primary.ID, account.CredentialID) {
			t.Errorf("expected primary credential %x, got %x", account.CredentialID, got.Primary.ID)
		}
		if got.MaxCredentials != 4 || got.RecoveryThreshold != 2 {
			t.Errorf("expected limits 4/2, got %d/%d", got.MaxCredentials, got.RecoveryThreshold)
		}

		// Additions round trip through ReplaceRegistry
		if err := got.Add(suiteCredential(t, 0x03)); err != nil {
			t.Fatalf("error adding credential: %v", err)
		}
		if err := state.ReplaceRegistry(context.Background(), id, got); err != nil {
			t.Fatalf("error replacing registry: %v", err)
		}
		replaced, err := state.Registry(context.Background(), id)
		if err != nil {
			t.Fatalf("error retrieving replaced registry: %v", err)
		}
		if replaced.Count() != 2 {
			t.Errorf("expected 2 credentials, got %d", replaced.Count())
		}
		if _, ok := replaced.Find([]byte{0xc0, 0x03}); !ok {
			t.Error("expected to find added credential")
		}
	})
}

func suiteAccount(t *testing.T, seed byte) *attesta.Account {
	t.Helper()
	owner := attesta.Identity{0: seed, 31: 0xaa}
	cred := suiteCredential(t, seed)
	return attesta.NewAccount(owner, cred.PublicKey, cred.ID, attesta.SpendingLimitPolicy(1000), 1700000000)
}

func suiteCredential(t *testing.T, seed byte) attesta.PasskeyCredential {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate credential key: %v", err)
	}
	passkey, err := webauthn.PublicKeyFromECDSA(&key.PublicKey)
	if err != nil {
		t.Fatalf("failed to encode credential key: %v", err)
	}
	return attesta.PasskeyCredential{
		ID:        []byte{0xc0, seed},
		PublicKey: passkey,
		AddedAt:   1700000000,
		Enabled:   true,
		Label:     "suite",
	}
}
