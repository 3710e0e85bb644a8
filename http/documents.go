// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package http

import (
	"fmt"

	"github.com/attesta-dev/go-attesta"
	"github.com/attesta-dev/go-attesta/webauthn"
)

// Byte slice fields marshal as base64 strings, per encoding/json.

// PolicyDocument is the wire form of a policy. Kind uses the same numeric
// tags as the policy record encoding.
type PolicyDocument struct {
	Kind   uint8  `json:"kind"`
	Config []byte `json:"config,omitempty"`
}

func (d PolicyDocument) policy() attesta.Policy {
	return attesta.Policy{Kind: attesta.PolicyKind(d.Kind), Config: d.Config}
}

func policyDocumentOf(p attesta.Policy) PolicyDocument {
	return PolicyDocument{Kind: uint8(p.Kind), Config: p.Config}
}

// ProofDocument is the wire form of an authorization proof.
type ProofDocument struct {
	Nonce             uint64 `json:"nonce"`
	CredentialID      []byte `json:"credential_id"`
	AuthenticatorData []byte `json:"authenticator_data"`
	ClientData        []byte `json:"client_data"`
	Signature         []byte `json:"signature"`
	MessageHash       []byte `json:"message_hash,omitempty"`
}

func (d ProofDocument) proof() (*attesta.AuthorizationProof, error) {
	proof := &attesta.AuthorizationProof{
		Assertion: webauthn.Assertion{
			AuthenticatorData: d.AuthenticatorData,
			ClientData:        d.ClientData,
			Signature:         d.Signature,
			CredentialID:      d.CredentialID,
		},
		Nonce: d.Nonce,
	}
	if len(d.MessageHash) > 0 {
		if len(d.MessageHash) != len(proof.MessageHash) {
			return nil, fmt.Errorf("%w: message hash must be %d bytes", attesta.ErrBadRecord, len(proof.MessageHash))
		}
		copy(proof.MessageHash[:], d.MessageHash)
	}
	return proof, nil
}

func proofDocumentOf(proof *attesta.AuthorizationProof) ProofDocument {
	d := ProofDocument{
		Nonce:             proof.Nonce,
		CredentialID:      proof.Assertion.CredentialID,
		AuthenticatorData: proof.Assertion.AuthenticatorData,
		ClientData:        proof.Assertion.ClientData,
		Signature:         proof.Assertion.Signature,
	}
	if proof.MessageHash != [32]byte{} {
		d.MessageHash = proof.MessageHash[:]
	}
	return d
}

// CredentialDocument is the wire form of a registered credential. Requests
// supply the public key either raw (Passkey) or COSE encoded (COSEKey);
// AddedAt and Enabled are server-assigned and only meaningful in responses.
type CredentialDocument struct {
	ID      []byte `json:"id"`
	Passkey []byte `json:"passkey,omitempty"`
	COSEKey []byte `json:"cose_key,omitempty"`
	Label   string `json:"label,omitempty"`
	AddedAt int64  `json:"added_at,omitempty"`
	Enabled bool   `json:"enabled"`
}

func (d CredentialDocument) credential() (attesta.PasskeyCredential, error) {
	key, err := parseKey(d.Passkey, d.COSEKey)
	if err != nil {
		return attesta.PasskeyCredential{}, err
	}
	return attesta.PasskeyCredential{ID: d.ID, PublicKey: key, Label: d.Label}, nil
}

func credentialDocumentOf(cred attesta.PasskeyCredential) CredentialDocument {
	return CredentialDocument{
		ID:      cred.ID,
		Passkey: cred.PublicKey[:],
		Label:   cred.Label,
		AddedAt: cred.AddedAt,
		Enabled: cred.Enabled,
	}
}

// InitializeRequest is the body of POST /accounts. Owner must be 32 bytes.
type InitializeRequest struct {
	Owner        []byte         `json:"owner"`
	Passkey      []byte         `json:"passkey,omitempty"`
	COSEKey      []byte         `json:"cose_key,omitempty"`
	CredentialID []byte         `json:"credential_id"`
	Policy       PolicyDocument `json:"policy"`
}

// ExecuteRequest is the body of POST /accounts/{id}/execute.
type ExecuteRequest struct {
	Amount uint64        `json:"amount"`
	Proof  ProofDocument `json:"proof"`
}

// UpdatePolicyRequest is the body of POST /accounts/{id}/policy.
type UpdatePolicyRequest struct {
	Policy PolicyDocument `json:"policy"`
	Proof  ProofDocument  `json:"proof"`
}

// AddCredentialRequest is the body of POST /accounts/{id}/credentials.
type AddCredentialRequest struct {
	Credential CredentialDocument `json:"credential"`
	Proof      ProofDocument      `json:"proof"`
}

// RemoveCredentialRequest is the body of POST /accounts/{id}/credentials/remove.
type RemoveCredentialRequest struct {
	CredentialID []byte        `json:"credential_id"`
	Proof        ProofDocument `json:"proof"`
}

// EnableCredentialRequest is the body of POST /accounts/{id}/credentials/enable.
type EnableCredentialRequest struct {
	CredentialID []byte        `json:"credential_id"`
	Enabled      bool          `json:"enabled"`
	Proof        ProofDocument `json:"proof"`
}

// AccountResponse is the wire form of an account record.
type AccountResponse struct {
	ID           string         `json:"id"`
	Owner        []byte         `json:"owner"`
	Passkey      []byte         `json:"passkey"`
	CredentialID []byte         `json:"credential_id"`
	Nonce        uint64         `json:"nonce"`
	Policy       PolicyDocument `json:"policy"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
}

func accountResponseOf(account *attesta.Account) AccountResponse {
	return AccountResponse{
		ID:           account.ID().String(),
		Owner:        account.Owner[:],
		Passkey:      account.Passkey[:],
		CredentialID: account.CredentialID,
		Nonce:        account.Nonce,
		Policy:       policyDocumentOf(account.Policy),
		CreatedAt:    account.CreatedAt,
		UpdatedAt:    account.UpdatedAt,
	}
}

// RegistryResponse is the wire form of a credential registry. Credentials
// lists the primary credential first.
type RegistryResponse struct {
	Credentials       []CredentialDocument `json:"credentials"`
	MaxCredentials    uint8                `json:"max_credentials"`
	RecoveryThreshold uint8                `json:"recovery_threshold"`
}

func registryResponseOf(registry *attesta.CredentialRegistry) RegistryResponse {
	creds := make([]CredentialDocument, 0, registry.Count())
	creds = append(creds, credentialDocumentOf(registry.Primary))
	for _, cred := range registry.Additional {
		creds = append(creds, credentialDocumentOf(cred))
	}
	return RegistryResponse{
		Credentials:       creds,
		MaxCredentials:    registry.MaxCredentials,
		RecoveryThreshold: registry.RecoveryThreshold,
	}
}

// RecoveryResponse is the body of GET /accounts/{id}/recovery.
type RecoveryResponse struct {
	CanRecover bool  `json:"can_recover"`
	Enabled    int   `json:"enabled"`
	Threshold  uint8 `json:"threshold"`
}

// DecisionResponse is the body of a successful POST /accounts/{id}/execute.
type DecisionResponse struct {
	Decision string `json:"decision"`
}

// ErrorResponse is the body of every error response. Code carries the
// authorization error code, which also selects the HTTP status.
type ErrorResponse struct {
	Code      uint16 `json:"code"`
	Op        string `json:"op,omitempty"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}
