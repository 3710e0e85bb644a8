// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta_test

import (
	"errors"
	"testing"

	"github.com/attesta-dev/go-attesta"
)

func TestAuthorize(t *testing.T) {
	const now = 1700000000

	t.Run("full flow", func(t *testing.T) {
		account, key := newTestAccount(t, attesta.SpendingLimitPolicy(1_000_000_000))

		// First action within the limit is allowed and consumes the nonce.
		decision, err := attesta.Authorize(account, signProof(t, key, 1), attesta.Action{Amount: 500_000_000, Now: now + 60})
		if err != nil {
			t.Fatalf("failed to authorize: %v", err)
		}
		if decision != attesta.Allowed {
			t.Fatalf("expected Allowed, got %s", decision)
		}
		if account.Nonce != 1 {
			t.Fatalf("expected nonce 1 after success, got %d", account.Nonce)
		}
		if account.UpdatedAt != now+60 {
			t.Errorf("expected update timestamp %d, got %d", now+60, account.UpdatedAt)
		}

		// Replaying the same nonce is rejected.
		decision, err = attesta.Authorize(account, signProof(t, key, 1), attesta.Action{Amount: 500_000_000, Now: now})
		if !errors.Is(err, attesta.ErrReplayAttack) {
			t.Fatalf("expected replay error, got %v", err)
		}
		if decision != attesta.Denied {
			t.Errorf("expected Denied on replay, got %s", decision)
		}

		// A fresh nonce over the limit is denied and does not consume.
		decision, err = attesta.Authorize(account, signProof(t, key, 2), attesta.Action{Amount: 2_000_000_000, Now: now})
		if !errors.Is(err, attesta.ErrPolicyDenied) {
			t.Fatalf("expected policy denial, got %v", err)
		}
		if decision != attesta.Denied {
			t.Errorf("expected Denied, got %s", decision)
		}
		if account.Nonce != 1 {
			t.Errorf("expected nonce to remain 1 after denial, got %d", account.Nonce)
		}
	})

	t.Run("requires approval leaves account untouched", func(t *testing.T) {
		account, key := newTestAccount(t, attesta.MultiSigPolicy(attesta.Identity{1}, attesta.Identity{2}))
		before := *account

		decision, err := attesta.Authorize(account, signProof(t, key, 1), attesta.Action{Amount: 10, Now: now})
		if err != nil {
			t.Fatalf("expected no error for pending approval, got %v", err)
		}
		if decision != attesta.RequiresApproval {
			t.Fatalf("expected RequiresApproval, got %s", decision)
		}
		if account.Nonce != before.Nonce || account.UpdatedAt != before.UpdatedAt {
			t.Error("pending approval mutated the account")
		}
	})

	t.Run("verification failure precedes policy", func(t *testing.T) {
		// Even an Open policy never sees an action with a bad proof.
		account, _ := newTestAccount(t, attesta.OpenPolicy())
		otherKey, _ := newTestPasskey(t)

		decision, err := attesta.Authorize(account, signProof(t, otherKey, 1), attesta.Action{Amount: 1, Now: now})
		if err == nil {
			t.Fatal("expected verification error")
		}
		if decision != attesta.Denied {
			t.Errorf("expected Denied, got %s", decision)
		}
		if account.Nonce != 0 {
			t.Errorf("expected nonce to remain 0, got %d", account.Nonce)
		}
	})

	t.Run("time locked", func(t *testing.T) {
		account, key := newTestAccount(t, attesta.TimeLockedPolicy(now))

		decision, err := attesta.Authorize(account, signProof(t, key, 1), attesta.Action{Amount: 1, Now: now - 1})
		if !errors.Is(err, attesta.ErrPolicyDenied) {
			t.Fatalf("expected policy denial before unlock, got %v", err)
		}
		if decision != attesta.Denied {
			t.Errorf("expected Denied before unlock, got %s", decision)
		}

		decision, err = attesta.Authorize(account, signProof(t, key, 1), attesta.Action{Amount: 1, Now: now})
		if err != nil {
			t.Fatalf("failed to authorize at unlock time: %v", err)
		}
		if decision != attesta.Allowed {
			t.Errorf("expected Allowed at unlock time, got %s", decision)
		}
	})
}
