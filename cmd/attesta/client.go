// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"

	"github.com/attesta-dev/go-attesta"
	transport "github.com/attesta-dev/go-attesta/http"
	"github.com/attesta-dev/go-attesta/webauthn"
)

var clientFlags = flag.NewFlagSet("client", flag.ContinueOnError)

var (
	serverAddr string
	limit      uint64
	credLabel  string
)

func init() {
	clientFlags.BoolVar(&debug, "debug", debug, "Print HTTP contents")
	clientFlags.StringVar(&serverAddr, "server", "http://localhost:8080", "HTTP base `URL` of the account service")
	clientFlags.Uint64Var(&limit, "limit", 1000, "Spending `limit` of the initial policy")
	clientFlags.StringVar(&credLabel, "label", "backup", "Label for the additional credential")
}

// client walks a fresh account through the full lifecycle against a running
// server: initialization, authorization, replay rejection, policy denial,
// policy update and credential registration.
func client() error {
	if debug {
		level.Set(slog.LevelDebug)
	}

	cli := &transport.Client{Base: serverAddr}
	ctx := context.Background()

	// Generate an owner identity and primary passkey
	var owner attesta.Identity
	if _, err := rand.Read(owner[:]); err != nil {
		return fmt.Errorf("error generating owner identity: %w", err)
	}
	key, credentialID, passkey, err := newCredential()
	if err != nil {
		return err
	}

	account, err := cli.Initialize(ctx, owner, passkey, credentialID, attesta.SpendingLimitPolicy(limit))
	if err != nil {
		return fmt.Errorf("error initializing account: %w", err)
	}
	slog.Info("Account initialized", "id", account.ID, "policy", attesta.PolicySpendingLimit, "limit", limit)
	id, err := attesta.ParseAccountID(account.ID)
	if err != nil {
		return err
	}
	nonce := account.Nonce

	// An action inside the limit is allowed and consumes the nonce
	nonce++
	decision, err := cli.Execute(ctx, id, mustSign(key, credentialID, nonce), limit/2)
	if err != nil {
		return fmt.Errorf("error executing action: %w", err)
	}
	slog.Info("Action authorized", "amount", limit/2, "decision", decision.Decision, "nonce", nonce)

	// Replaying the consumed nonce is rejected
	if _, err := cli.Execute(ctx, id, mustSign(key, credentialID, nonce), limit/2); err == nil {
		return errors.New("expected replay to be rejected")
	}
	slog.Info("Replay rejected", "nonce", nonce)

	// An action over the limit is denied without consuming a nonce
	if _, err := cli.Execute(ctx, id, mustSign(key, credentialID, nonce+1), limit+1); err == nil {
		return errors.New("expected policy denial")
	}
	slog.Info("Over-limit action denied", "amount", limit+1)

	// Raise the limit; the update consumes a nonce like any authorized
	// operation
	nonce++
	if _, err := cli.UpdatePolicy(ctx, id, mustSign(key, credentialID, nonce), attesta.SpendingLimitPolicy(2*limit)); err != nil {
		return fmt.Errorf("error updating policy: %w", err)
	}
	nonce++
	decision, err = cli.Execute(ctx, id, mustSign(key, credentialID, nonce), limit+1)
	if err != nil {
		return fmt.Errorf("error executing action under raised limit: %w", err)
	}
	slog.Info("Policy raised", "limit", 2*limit, "decision", decision.Decision)

	// Register an additional credential for recovery
	_, backupID, backupPasskey, err := newCredential()
	if err != nil {
		return err
	}
	nonce++
	registry, err := cli.AddCredential(ctx, id, mustSign(key, credentialID, nonce), attesta.PasskeyCredential{
		ID:        backupID,
		PublicKey: backupPasskey,
		Label:     credLabel,
	})
	if err != nil {
		return fmt.Errorf("error adding credential: %w", err)
	}
	slog.Info("Credential added", "label", credLabel, "credentials", len(registry.Credentials))

	recovery, err := cli.CanRecover(ctx, id)
	if err != nil {
		return fmt.Errorf("error checking recovery standing: %w", err)
	}
	slog.Info("Recovery standing", "can_recover", recovery.CanRecover,
		"enabled", recovery.Enabled, "threshold", recovery.Threshold)

	return nil
}

func newCredential() (*ecdsa.PrivateKey, []byte, webauthn.PublicKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, webauthn.PublicKey{}, fmt.Errorf("error generating passkey: %w", err)
	}
	passkey, err := webauthn.PublicKeyFromECDSA(&key.PublicKey)
	if err != nil {
		return nil, nil, webauthn.PublicKey{}, err
	}
	credentialID := make([]byte, 16)
	if _, err := rand.Read(credentialID); err != nil {
		return nil, nil, webauthn.PublicKey{}, fmt.Errorf("error generating credential ID: %w", err)
	}
	return key, credentialID, passkey, nil
}

func mustSign(key *ecdsa.PrivateKey, credentialID []byte, nonce uint64) *attesta.AuthorizationProof {
	assertion, err := webauthn.Sign(key, credentialID, attesta.NonceChallenge(nonce), "attesta.dev")
	if err != nil {
		panic(err.Error())
	}
	return &attesta.AuthorizationProof{Assertion: *assertion, Nonce: nonce}
}
