// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package sqlite_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/attesta-dev/go-attesta"
	"github.com/attesta-dev/go-attesta/attestatest"
	"github.com/attesta-dev/go-attesta/sqlite"
	"github.com/attesta-dev/go-attesta/webauthn"
)

func TestAccountState(t *testing.T) {
	state, cleanup := newDB(t)
	defer func() { _ = cleanup() }()

	attestatest.RunStateSuite(t, state)
}

func TestReopen(t *testing.T) {
	cleanup := func() error { return os.Remove("db.reopen.test") }
	_ = cleanup()
	defer func() { _ = cleanup() }()

	state, err := sqlite.Open("db.reopen.test", "test_password")
	if err != nil {
		t.Fatal(err)
	}
	state.DebugLog = attestatest.TestingLog(t)

	owner := attesta.Identity{0: 0x11, 31: 0x22}
	var passkey webauthn.PublicKey
	passkey[0], passkey[63] = 0x33, 0x44
	account := attesta.NewAccount(owner, passkey, []byte("reopen-cred"), attesta.OpenPolicy(), 1700000000)
	account.AdvanceNonce()
	if err := state.NewAccount(context.Background(), account); err != nil {
		t.Fatalf("error storing account: %v", err)
	}
	if err := state.Close(); err != nil {
		t.Fatalf("error closing database: %v", err)
	}

	// Records must survive a close and reopen with the same password.
	state, err = sqlite.Open("db.reopen.test", "test_password")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = state.Close() }()
	state.DebugLog = attestatest.TestingLog(t)

	got, err := state.Account(context.Background(), account.ID())
	if err != nil {
		t.Fatalf("error retrieving account after reopen: %v", err)
	}
	if got.Owner != owner {
		t.Errorf("expected owner %x, got %x", owner, got.Owner)
	}
	if got.Nonce != 1 {
		t.Errorf("expected nonce 1, got %d", got.Nonce)
	}
	if _, err := state.Account(context.Background(), attesta.DeriveAccountID(attesta.Identity{0: 0xee})); !errors.Is(err, attesta.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown account, got %v", err)
	}
}

func TestWrongPassword(t *testing.T) {
	cleanup := func() error { return os.Remove("db.password.test") }
	_ = cleanup()
	defer func() { _ = cleanup() }()

	state, err := sqlite.Open("db.password.test", "correct_password")
	if err != nil {
		t.Fatal(err)
	}
	if err := state.Close(); err != nil {
		t.Fatalf("error closing database: %v", err)
	}

	if _, err := sqlite.Open("db.password.test", "wrong_password"); err == nil {
		t.Fatal("expected opening with the wrong password to fail")
	}
}

func newDB(t *testing.T) (_ *sqlite.DB, cleanup func() error) {
	cleanup = func() error { return os.Remove("db.test") }
	_ = cleanup()

	state, err := sqlite.Open("db.test", "test_password")
	if err != nil {
		t.Fatal(err)
	}
	state.DebugLog = attestatest.TestingLog(t)

	return state, cleanup
}
