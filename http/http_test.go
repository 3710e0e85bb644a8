// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package http_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/attesta-dev/go-attesta"
	attesta_http "github.com/attesta-dev/go-attesta/http"
	"github.com/attesta-dev/go-attesta/internal/memory"
	"github.com/attesta-dev/go-attesta/webauthn"
)

type transport struct {
	T       *testing.T
	Handler http.Handler
}

// Assume request is well-formed and ignore timeouts, retries, etc.
func (tr *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	rr := httptest.NewRecorder()
	tr.Handler.ServeHTTP(rr, req)
	resp := rr.Result()
	resp.Request = req
	return resp, nil
}

func signProof(t *testing.T, key *ecdsa.PrivateKey, credentialID []byte, nonce uint64) *attesta.AuthorizationProof {
	t.Helper()
	assertion, err := webauthn.Sign(key, credentialID, attesta.NonceChallenge(nonce), "attesta.test")
	if err != nil {
		t.Fatalf("error signing assertion: %v", err)
	}
	return &attesta.AuthorizationProof{Assertion: *assertion, Nonce: nonce}
}

func expectCode(t *testing.T, err error, code uint16) {
	t.Helper()
	var authErr attesta.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected an authorization error, got %v", err)
	}
	if authErr.Code != code {
		t.Errorf("expected error code %d, got %d (%s)", code, authErr.Code, authErr.ErrString)
	}
}

func TestAccountAPI(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	passkey, err := webauthn.PublicKeyFromECDSA(&key.PublicKey)
	if err != nil {
		t.Fatalf("error encoding public key: %v", err)
	}
	owner := attesta.Identity{0: 0x01, 31: 0xfe}
	credentialID := []byte("test-cred-1")

	state := memory.NewState()
	server := &attesta.Server{
		Accounts:          state,
		Registries:        state,
		MaxCredentials:    4,
		RecoveryThreshold: 2,
		Now:               func() time.Time { return time.Unix(1700000000, 0) },
	}
	tr := &transport{T: t, Handler: &attesta_http.Handler{Server: server}}
	client := &attesta_http.Client{
		Base:   "http://example.com",
		Client: &http.Client{Transport: tr},
	}
	ctx := context.Background()

	created, err := client.Initialize(ctx, owner, passkey, credentialID, attesta.SpendingLimitPolicy(1000))
	if err != nil {
		t.Fatalf("error initializing account: %v", err)
	}
	if created.Nonce != 0 {
		t.Errorf("expected nonce 0 on a fresh account, got %d", created.Nonce)
	}
	id, err := attesta.ParseAccountID(created.ID)
	if err != nil {
		t.Fatalf("error parsing account ID %q: %v", created.ID, err)
	}

	t.Run("duplicate initialize", func(t *testing.T) {
		_, err := client.Initialize(ctx, owner, passkey, credentialID, attesta.SpendingLimitPolicy(1000))
		expectCode(t, err, attesta.AccountExistsCode)
	})

	t.Run("account lookup", func(t *testing.T) {
		account, err := client.Account(ctx, id)
		if err != nil {
			t.Fatalf("error getting account: %v", err)
		}
		if !bytes.Equal(account.Owner, owner[:]) {
			t.Errorf("expected owner %x, got %x", owner[:], account.Owner)
		}
		if account.Policy.Kind != uint8(attesta.PolicySpendingLimit) {
			t.Errorf("expected policy kind %d, got %d", attesta.PolicySpendingLimit, account.Policy.Kind)
		}

		// Check for not found
		_, err = client.Account(ctx, attesta.AccountID{0: 0xff})
		expectCode(t, err, attesta.NotFoundCode)
	})

	t.Run("execute", func(t *testing.T) {
		proof := signProof(t, key, credentialID, 1)
		decision, err := client.Execute(ctx, id, proof, 500)
		if err != nil {
			t.Fatalf("error executing action: %v", err)
		}
		if decision.Decision != attesta.Allowed.String() {
			t.Errorf("expected Allowed, got %s", decision.Decision)
		}
		account, err := client.Account(ctx, id)
		if err != nil {
			t.Fatalf("error getting account: %v", err)
		}
		if account.Nonce != 1 {
			t.Errorf("expected nonce 1 after an allowed action, got %d", account.Nonce)
		}

		// Replaying the consumed proof must fail
		_, err = client.Execute(ctx, id, proof, 500)
		expectCode(t, err, attesta.ReplayAttackCode)
	})

	t.Run("execute denied", func(t *testing.T) {
		_, err := client.Execute(ctx, id, signProof(t, key, credentialID, 2), 2000)
		expectCode(t, err, attesta.PolicyDeniedCode)

		// A denied action does not consume its nonce
		account, err := client.Account(ctx, id)
		if err != nil {
			t.Fatalf("error getting account: %v", err)
		}
		if account.Nonce != 1 {
			t.Errorf("expected nonce 1 after a denied action, got %d", account.Nonce)
		}
	})

	t.Run("execute wrong credential", func(t *testing.T) {
		_, err := client.Execute(ctx, id, signProof(t, key, []byte("other-cred"), 2), 500)
		expectCode(t, err, attesta.InvalidCredentialIDCode)
	})

	t.Run("update policy", func(t *testing.T) {
		account, err := client.UpdatePolicy(ctx, id, signProof(t, key, credentialID, 2), attesta.SpendingLimitPolicy(5000))
		if err != nil {
			t.Fatalf("error updating policy: %v", err)
		}
		if account.Nonce != 2 {
			t.Errorf("expected nonce 2 after policy update, got %d", account.Nonce)
		}

		// The raised limit governs subsequent actions
		decision, err := client.Execute(ctx, id, signProof(t, key, credentialID, 3), 2000)
		if err != nil {
			t.Fatalf("error executing action under new policy: %v", err)
		}
		if decision.Decision != attesta.Allowed.String() {
			t.Errorf("expected Allowed under new policy, got %s", decision.Decision)
		}
	})

	key2, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("error generating backup key: %v", err)
	}
	passkey2, err := webauthn.PublicKeyFromECDSA(&key2.PublicKey)
	if err != nil {
		t.Fatalf("error encoding backup public key: %v", err)
	}
	credentialID2 := []byte("test-cred-2")

	t.Run("add credential", func(t *testing.T) {
		registry, err := client.AddCredential(ctx, id, signProof(t, key, credentialID, 4), attesta.PasskeyCredential{
			ID:        credentialID2,
			PublicKey: passkey2,
			Label:     "backup",
		})
		if err != nil {
			t.Fatalf("error adding credential: %v", err)
		}
		if len(registry.Credentials) != 2 {
			t.Fatalf("expected 2 credentials, got %d", len(registry.Credentials))
		}
		if !bytes.Equal(registry.Credentials[0].ID, credentialID) {
			t.Errorf("expected primary credential first, got %x", registry.Credentials[0].ID)
		}
		if !registry.Credentials[1].Enabled || registry.Credentials[1].Label != "backup" {
			t.Errorf("unexpected added credential: %+v", registry.Credentials[1])
		}
	})

	t.Run("recovery standing", func(t *testing.T) {
		recovery, err := client.CanRecover(ctx, id)
		if err != nil {
			t.Fatalf("error getting recovery standing: %v", err)
		}
		if !recovery.CanRecover || recovery.Enabled != 2 || recovery.Threshold != 2 {
			t.Errorf("expected recovery with 2 of 2 enabled, got %+v", recovery)
		}
	})

	t.Run("disable credential", func(t *testing.T) {
		registry, err := client.SetCredentialEnabled(ctx, id, signProof(t, key, credentialID, 5), credentialID2, false)
		if err != nil {
			t.Fatalf("error disabling credential: %v", err)
		}
		if registry.Credentials[1].Enabled {
			t.Error("expected credential to be disabled")
		}

		recovery, err := client.CanRecover(ctx, id)
		if err != nil {
			t.Fatalf("error getting recovery standing: %v", err)
		}
		if recovery.CanRecover || recovery.Enabled != 1 {
			t.Errorf("expected recovery lost with 1 enabled, got %+v", recovery)
		}
	})

	t.Run("remove credential", func(t *testing.T) {
		_, err := client.RemoveCredential(ctx, id, signProof(t, key, credentialID, 6), credentialID)
		expectCode(t, err, attesta.CannotRemovePrimaryCode)

		// The failed removal did not consume the nonce
		registry, err := client.RemoveCredential(ctx, id, signProof(t, key, credentialID, 6), credentialID2)
		if err != nil {
			t.Fatalf("error removing credential: %v", err)
		}
		if len(registry.Credentials) != 1 {
			t.Errorf("expected 1 credential after removal, got %d", len(registry.Credentials))
		}

		listed, err := client.Registry(ctx, id)
		if err != nil {
			t.Fatalf("error getting registry: %v", err)
		}
		if len(listed.Credentials) != 1 {
			t.Errorf("expected 1 listed credential, got %d", len(listed.Credentials))
		}
	})
}

// TestRawRequests exercises the wire handling that the typed client never
// produces: COSE-encoded registration keys and malformed documents.
func TestRawRequests(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	passkey, err := webauthn.PublicKeyFromECDSA(&key.PublicKey)
	if err != nil {
		t.Fatalf("error encoding public key: %v", err)
	}

	state := memory.NewState()
	server := &attesta.Server{Accounts: state, Registries: state}
	httpClient := &http.Client{Transport: &transport{
		T:       t,
		Handler: &attesta_http.Handler{Server: server},
	}}

	post := func(t *testing.T, path, body string) *http.Response {
		t.Helper()
		resp, err := httpClient.Post("http://example.com"+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("error making request: %v", err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("cose key initialize", func(t *testing.T) {
		coseKey, err := webauthn.MarshalCOSEKey(passkey)
		if err != nil {
			t.Fatalf("error encoding COSE key: %v", err)
		}
		owner := attesta.Identity{0: 0x02, 31: 0xab}
		body, err := json.Marshal(attesta_http.InitializeRequest{
			Owner:        owner[:],
			COSEKey:      coseKey,
			CredentialID: []byte("cose-cred"),
			Policy:       attesta_http.PolicyDocument{Kind: uint8(attesta.PolicyOpen)},
		})
		if err != nil {
			t.Fatalf("error encoding request: %v", err)
		}

		resp := post(t, "/accounts", string(body))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected status 201, got %s", resp.Status)
		}
		var account attesta_http.AccountResponse
		if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
			t.Fatalf("error decoding response: %v", err)
		}
		if !bytes.Equal(account.Passkey, passkey[:]) {
			t.Errorf("expected COSE key to decode to %x, got %x", passkey[:], account.Passkey)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		resp := post(t, "/accounts", "{")
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %s", resp.Status)
		}
		var errResp attesta_http.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			t.Fatalf("error decoding error response: %v", err)
		}
		if errResp.Code != attesta.BadRecordCode {
			t.Errorf("expected error code %d, got %d", attesta.BadRecordCode, errResp.Code)
		}
	})

	t.Run("bad account id", func(t *testing.T) {
		resp := post(t, "/accounts/zzzz/execute", `{"amount":1}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %s", resp.Status)
		}
	})
}

// staticTransport returns a canned response regardless of the request,
// standing in for a misbehaving or compromised server.
type staticTransport struct {
	resp *http.Response
}

func (tr *staticTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp := tr.resp
	resp.Request = req
	return resp, nil
}

// TestClientMaliciousServer checks that the client validates responses before
// trusting them: oversized or unbounded bodies are refused and unexpected
// status codes surface as errors rather than decoded data.
func TestClientMaliciousServer(t *testing.T) {
	response := func(status int, contentLength int64, body string) *http.Response {
		return &http.Response{
			Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
			StatusCode:    status,
			Header:        http.Header{},
			ContentLength: contentLength,
			Body:          io.NopCloser(strings.NewReader(body)),
		}
	}

	for _, test := range []struct {
		name    string
		resp    *http.Response
		errText string
	}{
		{
			name:    "oversized response",
			resp:    response(http.StatusOK, 1 << 20, strings.Repeat("a", 16)),
			errText: "content too large",
		},
		{
			name:    "missing content length",
			resp:    response(http.StatusOK, -1, `{}`),
			errText: "content length must be specified",
		},
		{
			name:    "undecodable error body",
			resp:    response(http.StatusInternalServerError, 9, "not json!"),
			errText: "unexpected HTTP response code",
		},
		{
			name:    "unexpected status code",
			resp:    response(http.StatusAccepted, 3, `{}`+"\n"),
			errText: "unexpected HTTP response code",
		},
		{
			name:    "undecodable response body",
			resp:    response(http.StatusOK, 9, "not json!"),
			errText: "error decoding response body",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			client := &attesta_http.Client{
				Base:   "http://example.com",
				Client: &http.Client{Transport: &staticTransport{resp: test.resp}},
			}
			_, err := client.Account(context.Background(), attesta.AccountID{})
			if err == nil {
				t.Fatal("expected an error from a malicious response")
			}
			if !strings.Contains(err.Error(), test.errText) {
				t.Errorf("expected error containing %q, got %q", test.errText, err)
			}
		})
	}
}
