// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta

import "fmt"

// Action is the context an authorization decision is made against: the
// amount being moved (zero for non-monetary actions) and the evaluation
// time as a unix timestamp.
type Action struct {
	Amount uint64
	Now    int64
}

// Authorize runs the full authorization flow for one action: proof
// verification, then policy evaluation, then the single state transition.
//
// The account is mutated only when the decision is Allowed: the nonce
// advances and the update timestamp refreshes. Every other outcome,
// including RequiresApproval and all error paths, leaves the account
// exactly as it was, so a failed call can be retried with the same stored
// state.
//
// Callers must serialize Authorize per account; the function itself takes
// no locks.
func Authorize(account *Account, proof *AuthorizationProof, action Action) (Decision, error) {
	if err := account.VerifyProof(proof); err != nil {
		return Denied, fmt.Errorf("error verifying proof: %w", err)
	}

	switch decision := account.Policy.Evaluate(action.Amount, action.Now); decision {
	case Allowed:
		account.AdvanceNonce()
		account.Touch(action.Now)
		return Allowed, nil
	case RequiresApproval:
		return RequiresApproval, nil
	default:
		return Denied, fmt.Errorf("%w: %s policy rejected amount %d", ErrPolicyDenied, account.Policy.Kind, action.Amount)
	}
}
