// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/attesta-dev/go-attesta/webauthn"
)

// Default registry construction parameters used by [Server.Initialize] when
// the corresponding Server fields are zero.
const (
	DefaultMaxCredentials    uint8 = 8
	DefaultRecoveryThreshold uint8 = 2
)

// Server orchestrates the account lifecycle over persistent state: it
// owns loading, verification, the single mutation point, and writing back.
//
// Operations on the same account are serialized internally, so a Server is
// safe for concurrent use. The engine types it drives ([Account],
// [CredentialRegistry], [Policy]) stay lock-free values.
type Server struct {
	Accounts   AccountPersistentState
	Registries RegistryPersistentState

	// MaxCredentials and RecoveryThreshold configure registries created by
	// Initialize. Zero values fall back to the package defaults.
	MaxCredentials    uint8
	RecoveryThreshold uint8

	// Now is the clock used for timestamps and policy evaluation. Defaults
	// to time.Now.
	Now func() time.Time

	lockMu sync.Mutex
	locks  map[AccountID]*sync.Mutex
}

func (s *Server) now() int64 {
	if s.Now != nil {
		return s.Now().Unix()
	}
	return time.Now().Unix()
}

// lock acquires the per-account mutex and returns its release function.
func (s *Server) lock(id AccountID) func() {
	s.lockMu.Lock()
	if s.locks == nil {
		s.locks = make(map[AccountID]*sync.Mutex)
	}
	mu, ok := s.locks[id]
	if !ok {
		mu = new(sync.Mutex)
		s.locks[id] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Initialize creates an account for an owner with its primary credential
// and initial policy. The credential ID is registered as the primary entry
// of a fresh credential registry.
func (s *Server) Initialize(ctx context.Context, owner Identity, passkey webauthn.PublicKey, credentialID []byte, policy Policy) (*Account, error) {
	if len(credentialID) == 0 {
		return nil, fmt.Errorf("%w: primary credential ID must not be empty", webauthn.ErrInvalidCredentialID)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	account := NewAccount(owner, passkey, credentialID, policy, now)
	id := account.ID()
	defer s.lock(id)()

	if err := s.Accounts.NewAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("error storing account: %w", err)
	}

	maxCredentials := s.MaxCredentials
	if maxCredentials == 0 {
		maxCredentials = DefaultMaxCredentials
	}
	recoveryThreshold := s.RecoveryThreshold
	if recoveryThreshold == 0 {
		recoveryThreshold = DefaultRecoveryThreshold
	}
	registry := NewCredentialRegistry(PasskeyCredential{
		ID:        credentialID,
		PublicKey: passkey,
		AddedAt:   now,
		Enabled:   true,
		Label:     "primary",
	}, maxCredentials, recoveryThreshold)
	if err := s.Registries.NewRegistry(ctx, id, registry); err != nil {
		return nil, fmt.Errorf("error storing credential registry: %w", err)
	}

	slog.Debug("account initialized", "account", id, "policy", policy.Kind)
	EmitAccountInitialized(ctx, id, owner, policy.Kind)
	return account, nil
}

// Account retrieves an account by ID.
func (s *Server) Account(ctx context.Context, id AccountID) (*Account, error) {
	return s.Accounts.Account(ctx, id)
}

// Execute authorizes one action against an account. The account nonce
// advances and the record is written back only when the decision is
// Allowed; Denied and RequiresApproval leave stored state untouched.
func (s *Server) Execute(ctx context.Context, id AccountID, proof *AuthorizationProof, amount uint64) (Decision, error) {
	defer s.lock(id)()

	account, err := s.Accounts.Account(ctx, id)
	if err != nil {
		return Denied, fmt.Errorf("error loading account: %w", err)
	}

	decision, err := Authorize(account, proof, Action{Amount: amount, Now: s.now()})
	if err != nil {
		if errors.Is(err, ErrReplayAttack) {
			EmitReplayRejected(ctx, id, proof.Nonce, account.Nonce)
		} else {
			EmitAuthorizationDenied(ctx, id, amount, err)
		}
		return decision, err
	}

	switch decision {
	case Allowed:
		if err := s.Accounts.ReplaceAccount(ctx, id, account); err != nil {
			return Denied, fmt.Errorf("error storing account: %w", err)
		}
		slog.Debug("action authorized", "account", id, "amount", amount, "nonce", account.Nonce)
		EmitAuthorizationAllowed(ctx, id, amount, account.Nonce)
	case RequiresApproval:
		EmitApprovalRequired(ctx, id, amount)
	}
	return decision, nil
}

// UpdatePolicy replaces an account's policy. The replacement is authorized
// by a fresh proof, which is consumed: the nonce advances even though no
// action is executed.
func (s *Server) UpdatePolicy(ctx context.Context, id AccountID, proof *AuthorizationProof, policy Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	defer s.lock(id)()

	account, err := s.Accounts.Account(ctx, id)
	if err != nil {
		return fmt.Errorf("error loading account: %w", err)
	}
	if err := account.VerifyProof(proof); err != nil {
		return fmt.Errorf("error verifying proof: %w", err)
	}

	previous := account.Policy.Kind
	account.Policy = policy
	account.AdvanceNonce()
	account.Touch(s.now())
	if err := s.Accounts.ReplaceAccount(ctx, id, account); err != nil {
		return fmt.Errorf("error storing account: %w", err)
	}

	slog.Debug("policy updated", "account", id, "previous", previous, "new", policy.Kind)
	EmitPolicyUpdated(ctx, id, previous, policy.Kind)
	return nil
}

// AddCredential registers an additional credential, authorized by a fresh
// proof from an existing credential.
func (s *Server) AddCredential(ctx context.Context, id AccountID, proof *AuthorizationProof, cred PasskeyCredential) error {
	if len(cred.ID) == 0 {
		return fmt.Errorf("%w: credential ID must not be empty", webauthn.ErrInvalidCredentialID)
	}
	defer s.lock(id)()

	account, registry, err := s.loadBoth(ctx, id)
	if err != nil {
		return err
	}
	if err := account.VerifyProof(proof); err != nil {
		return fmt.Errorf("error verifying proof: %w", err)
	}

	cred.AddedAt = s.now()
	cred.Enabled = true
	if err := registry.Add(cred); err != nil {
		return err
	}
	account.AdvanceNonce()
	account.Touch(s.now())

	if err := s.storeBoth(ctx, id, account, registry); err != nil {
		return err
	}
	slog.Debug("credential added", "account", id, "credentials", registry.Count())
	EmitCredentialAdded(ctx, id, cred.ID, cred.Label, registry.Count())
	return nil
}

// RemoveCredential unregisters an additional credential, authorized by a
// fresh proof. The primary credential cannot be removed.
func (s *Server) RemoveCredential(ctx context.Context, id AccountID, proof *AuthorizationProof, credentialID []byte) error {
	defer s.lock(id)()

	account, registry, err := s.loadBoth(ctx, id)
	if err != nil {
		return err
	}
	if err := account.VerifyProof(proof); err != nil {
		return fmt.Errorf("error verifying proof: %w", err)
	}

	if err := registry.Remove(credentialID); err != nil {
		return err
	}
	account.AdvanceNonce()
	account.Touch(s.now())

	if err := s.storeBoth(ctx, id, account, registry); err != nil {
		return err
	}
	slog.Debug("credential removed", "account", id, "credentials", registry.Count())
	EmitCredentialRemoved(ctx, id, credentialID, registry.Count())
	return nil
}

// SetCredentialEnabled flips the enabled flag of a registered credential,
// authorized by a fresh proof.
func (s *Server) SetCredentialEnabled(ctx context.Context, id AccountID, proof *AuthorizationProof, credentialID []byte, enabled bool) error {
	defer s.lock(id)()

	account, registry, err := s.loadBoth(ctx, id)
	if err != nil {
		return err
	}
	if err := account.VerifyProof(proof); err != nil {
		return fmt.Errorf("error verifying proof: %w", err)
	}

	if err := registry.SetEnabled(credentialID, enabled); err != nil {
		return err
	}
	account.AdvanceNonce()
	account.Touch(s.now())

	return s.storeBoth(ctx, id, account, registry)
}

// CanRecover reports whether the account's registry meets its recovery
// threshold.
func (s *Server) CanRecover(ctx context.Context, id AccountID) (bool, error) {
	registry, err := s.Registries.Registry(ctx, id)
	if err != nil {
		return false, fmt.Errorf("error loading credential registry: %w", err)
	}
	return registry.CanRecover(), nil
}

// Registry retrieves an account's credential registry.
func (s *Server) Registry(ctx context.Context, id AccountID) (*CredentialRegistry, error) {
	return s.Registries.Registry(ctx, id)
}

func (s *Server) loadBoth(ctx context.Context, id AccountID) (*Account, *CredentialRegistry, error) {
	account, err := s.Accounts.Account(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading account: %w", err)
	}
	registry, err := s.Registries.Registry(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading credential registry: %w", err)
	}
	return account, registry, nil
}

func (s *Server) storeBoth(ctx context.Context, id AccountID, account *Account, registry *CredentialRegistry) error {
	if err := s.Accounts.ReplaceAccount(ctx, id, account); err != nil {
		return fmt.Errorf("error storing account: %w", err)
	}
	if err := s.Registries.ReplaceRegistry(ctx, id, registry); err != nil {
		return fmt.Errorf("error storing credential registry: %w", err)
	}
	return nil
}
