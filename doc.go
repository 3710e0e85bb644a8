// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

// Package attesta implements a passkey-based authorization engine.
//
// The signature, assertion, and COSE key primitives are located in the
// webauthn subpackage. This domain package includes the core account types
// and the decision logic built on top of them.
//
// An [Account] binds an owner identity to a P-256 passkey, a monotonic
// nonce, and a [Policy]. Every authorization attempt arrives as an
// [AuthorizationProof], which carries a WebAuthn assertion over a challenge
// derived from the proof nonce. [Account.VerifyProof] checks ordering and
// signature without mutating anything; [Authorize] layers the policy
// decision on top and is the only code path that advances the nonce.
//
// Additional passkeys for an account live in a [CredentialRegistry], which
// enforces a capacity bound, uniqueness, and a recovery threshold. The
// primary credential can never be removed.
//
// For long-running services, [Server] orchestrates the full lifecycle over
// persistence interfaces. There are two state management interfaces to
// allow for combining backends. As an example implementation, [sqlite.DB]
// runs SQLite inside a WASM runtime running as part of the same process;
// [memory.State] backs tests and short-lived tools.
//
// Account and registry records serialize to fixed-order binary formats
// suitable for shared byte-addressed stores, and the backup subpackage
// wraps them in a passphrase-encrypted envelope for offline escrow.
package attesta
