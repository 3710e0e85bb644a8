// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

// Package memory implements account state using non-persistent memory. It
// backs tests and short-lived tools; long-running services should use the
// sqlite package instead.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/attesta-dev/go-attesta"
)

// State implements the account and registry state interfaces without
// persistence between process runs.
//
// Records are cloned on the way in and out, so callers can mutate what they
// hold without affecting the stored copy until they replace it.
type State struct {
	mu         sync.RWMutex
	accounts   map[attesta.AccountID]*attesta.Account
	registries map[attesta.AccountID]*attesta.CredentialRegistry
}

var _ attesta.AccountState = (*State)(nil)

// NewState initializes the in-memory state.
func NewState() *State {
	return &State{
		accounts:   make(map[attesta.AccountID]*attesta.Account),
		registries: make(map[attesta.AccountID]*attesta.CredentialRegistry),
	}
}

// NewAccount stores a new account record.
func (s *State) NewAccount(_ context.Context, account *attesta.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := account.ID()
	if _, ok := s.accounts[id]; ok {
		return fmt.Errorf("%w: %s", attesta.ErrAccountExists, id)
	}
	s.accounts[id] = account.Clone()
	return nil
}

// Account retrieves an account record by ID.
func (s *State) Account(_ context.Context, id attesta.AccountID) (*attesta.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", attesta.ErrNotFound, id)
	}
	return account.Clone(), nil
}

// ReplaceAccount overwrites a stored account record.
func (s *State) ReplaceAccount(_ context.Context, id attesta.AccountID, account *attesta.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return fmt.Errorf("%w: account %s", attesta.ErrNotFound, id)
	}
	s.accounts[id] = account.Clone()
	return nil
}

// NewRegistry stores a new credential registry for an account.
func (s *State) NewRegistry(_ context.Context, id attesta.AccountID, registry *attesta.CredentialRegistry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registries[id]; ok {
		return fmt.Errorf("%w: registry for account %s", attesta.ErrAccountExists, id)
	}
	s.registries[id] = registry.Clone()
	return nil
}

// Registry retrieves an account's credential registry.
func (s *State) Registry(_ context.Context, id attesta.AccountID) (*attesta.CredentialRegistry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	registry, ok := s.registries[id]
	if !ok {
		return nil, fmt.Errorf("%w: registry for account %s", attesta.ErrNotFound, id)
	}
	return registry.Clone(), nil
}

// ReplaceRegistry overwrites an account's credential registry.
func (s *State) ReplaceRegistry(_ context.Context, id attesta.AccountID, registry *attesta.CredentialRegistry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registries[id]; !ok {
		return fmt.Errorf("%w: registry for account %s", attesta.ErrNotFound, id)
	}
	s.registries[id] = registry.Clone()
	return nil
}
