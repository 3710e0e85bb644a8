// Copyright 2024 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta

import (
	"encoding/binary"
	"fmt"
)

// PolicyKind enumerates the supported authorization policies.
type PolicyKind uint8

const (
	// PolicyOpen permits every action. Its config is empty.
	PolicyOpen PolicyKind = iota

	// PolicySpendingLimit permits actions up to a per-transaction amount.
	// Config is the 8-byte little-endian maximum amount.
	PolicySpendingLimit

	// PolicyDailyLimit permits actions up to a per-transaction amount and
	// carries a daily reset timestamp. Config is the 8-byte little-endian
	// maximum followed by the 8-byte little-endian reset timestamp.
	//
	// Amounts are evaluated per transaction only: spending is not
	// aggregated across the day, so the limit bounds each action rather
	// than the daily total. The reset timestamp is carried for bookkeeping
	// but not consulted.
	PolicyDailyLimit

	// PolicyMultiSig requires approval by additional signers. Config is one
	// or more 32-byte signer identities. The policy records the signer set;
	// collecting and verifying approvals is the responsibility of the layer
	// above, so evaluation always reports RequiresApproval.
	PolicyMultiSig

	// PolicyTimeLocked denies every action before an unlock time. Config is
	// the 8-byte little-endian unix unlock timestamp.
	PolicyTimeLocked
)

func (k PolicyKind) valid() bool { return k <= PolicyTimeLocked }

// String implements Stringer.
func (k PolicyKind) String() string {
	switch k {
	case PolicyOpen:
		return "Open"
	case PolicySpendingLimit:
		return "SpendingLimit"
	case PolicyDailyLimit:
		return "DailyLimit"
	case PolicyMultiSig:
		return "MultiSig"
	case PolicyTimeLocked:
		return "TimeLocked"
	}
	return "Unknown"
}

// Decision is the outcome of a policy evaluation. The zero value is Denied
// so that an unset decision never authorizes anything.
type Decision uint8

const (
	// Denied means the action must not proceed.
	Denied Decision = iota

	// Allowed means the action may proceed and the account nonce is
	// consumed.
	Allowed

	// RequiresApproval means the action is structurally acceptable but
	// needs additional signer approvals before it can proceed. The account
	// is left untouched.
	RequiresApproval
)

// String implements Stringer.
func (d Decision) String() string {
	switch d {
	case Allowed:
		return "Allowed"
	case Denied:
		return "Denied"
	case RequiresApproval:
		return "RequiresApproval"
	}
	return "Unknown"
}

// Policy is an authorization policy: a kind and its raw configuration
// bytes. Configs are decoded at evaluation time; a config too short for its
// kind evaluates to Denied rather than failing open.
type Policy struct {
	Kind   PolicyKind
	Config []byte
}

// OpenPolicy returns a policy permitting every action.
func OpenPolicy() Policy { return Policy{Kind: PolicyOpen} }

// SpendingLimitPolicy returns a policy bounding each action's amount.
func SpendingLimitPolicy(maxAmount uint64) Policy {
	return Policy{
		Kind:   PolicySpendingLimit,
		Config: binary.LittleEndian.AppendUint64(nil, maxAmount),
	}
}

// DailyLimitPolicy returns a per-transaction amount policy carrying a daily
// reset timestamp.
func DailyLimitPolicy(maxPerDay uint64, resetAt int64) Policy {
	config := binary.LittleEndian.AppendUint64(nil, maxPerDay)
	config = binary.LittleEndian.AppendUint64(config, uint64(resetAt))
	return Policy{Kind: PolicyDailyLimit, Config: config}
}

// TimeLockedPolicy returns a policy denying every action before unlockAt.
func TimeLockedPolicy(unlockAt int64) Policy {
	return Policy{
		Kind:   PolicyTimeLocked,
		Config: binary.LittleEndian.AppendUint64(nil, uint64(unlockAt)),
	}
}

// MultiSigPolicy returns a policy recording a signer set.
func MultiSigPolicy(signers ...Identity) Policy {
	config := make([]byte, 0, len(signers)*32)
	for _, signer := range signers {
		config = append(config, signer[:]...)
	}
	return Policy{Kind: PolicyMultiSig, Config: config}
}

// Validate checks that the configuration bytes are structurally valid for
// the policy kind. It is called before a policy is attached to an account;
// evaluation of an invalid config independently fails closed.
func (p Policy) Validate() error {
	switch p.Kind {
	case PolicyOpen:
		if len(p.Config) != 0 {
			return fmt.Errorf("%w: Open config must be empty, got %d bytes", ErrInvalidPolicyConfig, len(p.Config))
		}
	case PolicySpendingLimit:
		if len(p.Config) != 8 {
			return fmt.Errorf("%w: SpendingLimit config must be 8 bytes, got %d", ErrInvalidPolicyConfig, len(p.Config))
		}
	case PolicyDailyLimit:
		if len(p.Config) != 16 {
			return fmt.Errorf("%w: DailyLimit config must be 16 bytes, got %d", ErrInvalidPolicyConfig, len(p.Config))
		}
	case PolicyMultiSig:
		if len(p.Config) == 0 || len(p.Config)%32 != 0 {
			return fmt.Errorf("%w: MultiSig config must be a non-empty multiple of 32 bytes, got %d",
				ErrInvalidPolicyConfig, len(p.Config))
		}
	case PolicyTimeLocked:
		if len(p.Config) != 8 {
			return fmt.Errorf("%w: TimeLocked config must be 8 bytes, got %d", ErrInvalidPolicyConfig, len(p.Config))
		}
	default:
		return fmt.Errorf("%w: unknown policy kind %d", ErrInvalidPolicyConfig, p.Kind)
	}
	return nil
}

// Evaluate decides whether an action with the given amount may proceed at
// the given time. Evaluation is pure: it reads no account state and mutates
// nothing.
//
// Malformed configurations evaluate to Denied. Unknown kinds evaluate to
// Denied.
func (p Policy) Evaluate(amount uint64, now int64) Decision {
	switch p.Kind {
	case PolicyOpen:
		return Allowed

	case PolicySpendingLimit:
		if len(p.Config) < 8 {
			return Denied
		}
		maxAmount := binary.LittleEndian.Uint64(p.Config)
		if amount <= maxAmount {
			return Allowed
		}
		return Denied

	case PolicyDailyLimit:
		if len(p.Config) < 16 {
			return Denied
		}
		maxPerDay := binary.LittleEndian.Uint64(p.Config)
		if amount <= maxPerDay {
			return Allowed
		}
		return Denied

	case PolicyMultiSig:
		if len(p.Config) == 0 || len(p.Config)%32 != 0 {
			return Denied
		}
		return RequiresApproval

	case PolicyTimeLocked:
		if len(p.Config) < 8 {
			return Denied
		}
		unlockAt := int64(binary.LittleEndian.Uint64(p.Config))
		if now >= unlockAt {
			return Allowed
		}
		return Denied
	}
	return Denied
}

// Signers decodes the signer identities of a MultiSig policy.
func (p Policy) Signers() ([]Identity, error) {
	if p.Kind != PolicyMultiSig {
		return nil, fmt.Errorf("%w: %s policy has no signers", ErrInvalidPolicyConfig, p.Kind)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	signers := make([]Identity, len(p.Config)/32)
	for i := range signers {
		copy(signers[i][:], p.Config[i*32:])
	}
	return signers, nil
}

// SpendingLimit decodes the maximum amount of a SpendingLimit or DailyLimit
// policy.
func (p Policy) SpendingLimit() (uint64, error) {
	switch p.Kind {
	case PolicySpendingLimit, PolicyDailyLimit:
	default:
		return 0, fmt.Errorf("%w: %s policy has no spending limit", ErrInvalidPolicyConfig, p.Kind)
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p.Config), nil
}

// UnlockTime decodes the unlock timestamp of a TimeLocked policy.
func (p Policy) UnlockTime() (int64, error) {
	if p.Kind != PolicyTimeLocked {
		return 0, fmt.Errorf("%w: %s policy has no unlock time", ErrInvalidPolicyConfig, p.Kind)
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(p.Config)), nil
}
