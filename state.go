// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta

import (
	"context"
	"fmt"
)

/*
	The interfaces in this file are expected to be implemented by the same
	logical backend, since a registry row without its account row (or vice
	versa) is not a meaningful state. This is not a strict requirement: a
	deployment may back registries with a different store than accounts as
	long as both resolve the same AccountID keys.
*/

// ErrNotFound is used when the account or credential does not exist.
var ErrNotFound = fmt.Errorf("not found")

// ErrAccountExists is used when initialization targets an owner that
// already has an account.
var ErrAccountExists = fmt.Errorf("account already exists")

// AccountPersistentState maintains account records across sessions.
//
// Implementations must treat stored accounts as values: mutations made by a
// caller after a read must not become visible until the account is written
// back with ReplaceAccount.
type AccountPersistentState interface {
	// NewAccount stores a newly initialized account. It fails with
	// ErrAccountExists when the account ID is already present.
	NewAccount(context.Context, *Account) error

	// Account retrieves an account by ID.
	Account(context.Context, AccountID) (*Account, error)

	// ReplaceAccount stores a new version of an existing account.
	ReplaceAccount(context.Context, AccountID, *Account) error
}

// RegistryPersistentState maintains credential registries across sessions.
type RegistryPersistentState interface {
	// NewRegistry stores the registry of a newly initialized account.
	NewRegistry(context.Context, AccountID, *CredentialRegistry) error

	// Registry retrieves the registry of an account.
	Registry(context.Context, AccountID) (*CredentialRegistry, error)

	// ReplaceRegistry stores a new version of an existing registry.
	ReplaceRegistry(context.Context, AccountID, *CredentialRegistry) error
}

// AccountState combines the persistence interfaces a full backend
// implements.
type AccountState interface {
	AccountPersistentState
	RegistryPersistentState
}
