// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/attesta-dev/go-attesta"
	"github.com/attesta-dev/go-attesta/webauthn"
)

// Client calls the account service endpoints served by [Handler]. Errors
// reported by the service are returned as [attesta.AuthError] values, so
// callers can switch on the authorization error code.
type Client struct {
	// Client to use for HTTP requests. Nil indicates that the default client
	// should be used.
	Client *http.Client

	// Base URL including scheme. e.g. https://example.com
	Base string

	// MaxContentLength defaults to 65535. Negative values disable content
	// length checking.
	MaxContentLength int64
}

// Initialize creates an account for an owner with its primary credential and
// initial policy.
func (c *Client) Initialize(ctx context.Context, owner attesta.Identity, passkey webauthn.PublicKey, credentialID []byte, policy attesta.Policy) (*AccountResponse, error) {
	req := InitializeRequest{
		Owner:        owner[:],
		Passkey:      passkey[:],
		CredentialID: credentialID,
		Policy:       policyDocumentOf(policy),
	}
	var account AccountResponse
	if err := c.post(ctx, "/accounts", req, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Account retrieves an account by ID.
func (c *Client) Account(ctx context.Context, id attesta.AccountID) (*AccountResponse, error) {
	var account AccountResponse
	if err := c.get(ctx, "/accounts/"+id.String(), &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Execute authorizes one action against an account.
func (c *Client) Execute(ctx context.Context, id attesta.AccountID, proof *attesta.AuthorizationProof, amount uint64) (*DecisionResponse, error) {
	req := ExecuteRequest{Amount: amount, Proof: proofDocumentOf(proof)}
	var decision DecisionResponse
	if err := c.post(ctx, "/accounts/"+id.String()+"/execute", req, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// UpdatePolicy replaces an account's policy and returns the updated account.
func (c *Client) UpdatePolicy(ctx context.Context, id attesta.AccountID, proof *attesta.AuthorizationProof, policy attesta.Policy) (*AccountResponse, error) {
	req := UpdatePolicyRequest{Policy: policyDocumentOf(policy), Proof: proofDocumentOf(proof)}
	var account AccountResponse
	if err := c.post(ctx, "/accounts/"+id.String()+"/policy", req, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// AddCredential registers an additional credential and returns the updated
// registry.
func (c *Client) AddCredential(ctx context.Context, id attesta.AccountID, proof *attesta.AuthorizationProof, cred attesta.PasskeyCredential) (*RegistryResponse, error) {
	req := AddCredentialRequest{
		Credential: CredentialDocument{ID: cred.ID, Passkey: cred.PublicKey[:], Label: cred.Label},
		Proof:      proofDocumentOf(proof),
	}
	var registry RegistryResponse
	if err := c.post(ctx, "/accounts/"+id.String()+"/credentials", req, &registry); err != nil {
		return nil, err
	}
	return &registry, nil
}

// RemoveCredential unregisters an additional credential and returns the
// updated registry.
func (c *Client) RemoveCredential(ctx context.Context, id attesta.AccountID, proof *attesta.AuthorizationProof, credentialID []byte) (*RegistryResponse, error) {
	req := RemoveCredentialRequest{CredentialID: credentialID, Proof: proofDocumentOf(proof)}
	var registry RegistryResponse
	if err := c.post(ctx, "/accounts/"+id.String()+"/credentials/remove", req, &registry); err != nil {
		return nil, err
	}
	return &registry, nil
}

// SetCredentialEnabled flips the enabled flag of a registered credential and
// returns the updated registry.
func (c *Client) SetCredentialEnabled(ctx context.Context, id attesta.AccountID, proof *attesta.AuthorizationProof, credentialID []byte, enabled bool) (*RegistryResponse, error) {
	req := EnableCredentialRequest{CredentialID: credentialID, Enabled: enabled, Proof: proofDocumentOf(proof)}
	var registry RegistryResponse
	if err := c.post(ctx, "/accounts/"+id.String()+"/credentials/enable", req, &registry); err != nil {
		return nil, err
	}
	return &registry, nil
}

// Registry retrieves an account's credential registry.
func (c *Client) Registry(ctx context.Context, id attesta.AccountID) (*RegistryResponse, error) {
	var registry RegistryResponse
	if err := c.get(ctx, "/accounts/"+id.String()+"/credentials", &registry); err != nil {
		return nil, err
	}
	return &registry, nil
}

// CanRecover reports the account's recovery standing.
func (c *Client) CanRecover(ctx context.Context, id attesta.AccountID) (*RecoveryResponse, error) {
	var recovery RecoveryResponse
	if err := c.get(ctx, "/accounts/"+id.String()+"/recovery", &recovery); err != nil {
		return nil, err
	}
	return &recovery, nil
}

func (c *Client) post(ctx context.Context, endpoint string, reqBody, into any) error {
	body := new(bytes.Buffer)
	if err := json.NewEncoder(body).Encode(reqBody); err != nil {
		return fmt.Errorf("error encoding request body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	debugRequestOut(req, body)
	return c.do(req, into)
}

func (c *Client) get(ctx context.Context, endpoint string, into any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	debugRequestOut(req, new(bytes.Buffer))
	return c.do(req, into)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	uri, err := url.JoinPath(c.Base, endpoint)
	if err != nil {
		return nil, fmt.Errorf("error parsing base URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, into any) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error making HTTP request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	debugResponse(resp)

	// Validate content length
	maxSize := c.MaxContentLength
	if maxSize == 0 {
		maxSize = 65535
	}
	if maxSize > 0 && resp.ContentLength > maxSize {
		return fmt.Errorf("content too large (%d bytes)", resp.ContentLength)
	}
	if maxSize > 0 && resp.ContentLength < 0 {
		return errors.New("content length must be specified in response headers")
	}

	// Allow reading up to expected content length
	body := io.Reader(resp.Body)
	if resp.ContentLength > 0 {
		body = io.LimitReader(resp.Body, resp.ContentLength)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp ErrorResponse
		if err := json.NewDecoder(body).Decode(&errResp); err != nil {
			return fmt.Errorf("unexpected HTTP response code: %s", resp.Status)
		}
		return attesta.AuthError{
			Code:      errResp.Code,
			Op:        errResp.Op,
			ErrString: errResp.Error,
			Timestamp: errResp.Timestamp,
		}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected HTTP response code: %s", resp.Status)
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(body).Decode(into); err != nil {
		return fmt.Errorf("error decoding response body: %w", err)
	}
	return nil
}
