// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

// Package http exposes the account authorization service over a JSON HTTP
// API and provides a matching client.
package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/attesta-dev/go-attesta"
	"github.com/attesta-dev/go-attesta/webauthn"
)

// Handler implements http.Handler and responds to all account service
// endpoints.
type Handler struct {
	Server *attesta.Server

	// MaxContentLength defaults to 65535. Negative values disable content
	// length checking.
	MaxContentLength int64

	initOnce sync.Once
	mux      *http.ServeMux
}

var _ http.Handler = (*Handler)(nil)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.initOnce.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /accounts", h.initialize)
		mux.HandleFunc("GET /accounts/{id}", h.account)
		mux.HandleFunc("GET /accounts/{id}/credentials", h.registry)
		mux.HandleFunc("GET /accounts/{id}/recovery", h.recovery)
		mux.HandleFunc("POST /accounts/{id}/execute", h.execute)
		mux.HandleFunc("POST /accounts/{id}/policy", h.updatePolicy)
		mux.HandleFunc("POST /accounts/{id}/credentials", h.addCredential)
		mux.HandleFunc("POST /accounts/{id}/credentials/remove", h.removeCredential)
		mux.HandleFunc("POST /accounts/{id}/credentials/enable", h.enableCredential)
		h.mux = mux
	})
	debugRequest(w, r, h.handleRequest)
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	// Validate content length
	maxSize := h.MaxContentLength
	if maxSize == 0 {
		maxSize = 65535
	}
	if maxSize > 0 && r.ContentLength > maxSize {
		_ = r.Body.Close()
		h.error(w, "request", fmt.Errorf("%w: content too large (%d bytes)", attesta.ErrBadRecord, r.ContentLength))
		return
	}
	if maxSize > 0 && r.ContentLength < 0 {
		_ = r.Body.Close()
		h.error(w, "request", fmt.Errorf("%w: content length must be specified in request headers", attesta.ErrBadRecord))
		return
	}
	if maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	}

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) initialize(w http.ResponseWriter, r *http.Request) {
	const op = "Initialize"
	var req InitializeRequest
	if !h.decode(w, r, op, &req) {
		return
	}
	if len(req.Owner) != len(attesta.Identity{}) {
		h.error(w, op, fmt.Errorf("%w: owner must be %d bytes", attesta.ErrBadRecord, len(attesta.Identity{})))
		return
	}
	var owner attesta.Identity
	copy(owner[:], req.Owner)
	passkey, err := parseKey(req.Passkey, req.COSEKey)
	if err != nil {
		h.error(w, op, err)
		return
	}
	account, err := h.Server.Initialize(r.Context(), owner, passkey, req.CredentialID, req.Policy.policy())
	if err != nil {
		h.error(w, op, err)
		return
	}
	h.respond(w, http.StatusCreated, accountResponseOf(account))
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	const op = "Account"
	id, ok := h.accountID(w, r, op)
	if !ok {
		return
	}
	account, err := h.Server.Account(r.Context(), id)
	if err != nil {
		h.error(w, op, err)
		return
	}
	h.respond(w, http.StatusOK, accountResponseOf(account))
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	const op = "Execute"
	id, ok := h.accountID(w, r, op)
	if !ok {
		return
	}
	var req ExecuteRequest
	if !h.decode(w, r, op, &req) {
		return
	}
	proof, err := req.Proof.proof()
	if err != nil {
		h.error(w, op, err)
		return
	}
	decision, err := h.Server.Execute(r.Context(), id, proof, req.Amount)
	if err != nil {
		h.error(w, op, err)
		return
	}
	h.respond(w, http.StatusOK, DecisionResponse{Decision: decision.String()})
}

func (h *Handler) updatePolicy(w http.ResponseWriter, r *http.Request) {
	const op = "UpdatePolicy"
	id, ok := h.accountID(w, r, op)
	if !ok {
		return
	}
	var req UpdatePolicyRequest
	if !h.decode(w, r, op, &req) {
		return
	}
	proof, err := req.Proof.proof()
	if err != nil {
		h.error(w, op, err)
		return
	}
	if err := h.Server.UpdatePolicy(r.Context(), id, proof, req.Policy.policy()); err != nil {
		h.error(w, op, err)
		return
	}
	account, err := h.Server.Account(r.Context(), id)
	if err != nil {
		h.error(w, op, err)
		return
	}
	h.respond(w, http.StatusOK, accountResponseOf(account))
}

func (h *Handler) registry(w http.ResponseWriter, r *http.Request) {
	const op = "Registry"
	id, ok := h.accountID(w, r, op)
	if !ok {
		return
	}
	registry, err := h.Server.Registry(r.Context(), id)
	if err != nil {
		h.error(w, op, err)
		return
	}
	h.respond(w, http.StatusOK, registryResponseOf(registry))
}

func (h *Handler) recovery(w http.ResponseWriter, r *http.Request) {
	const op = "CanRecover"
	id, ok := h.accountID(w, r, op)
	if !ok {
		return
	}
	registry, err := h.Server.Registry(r.Context(), id)
	if err != nil {
		h.error(w, op, err)
		return
	}
	h.respond(w, http.StatusOK, RecoveryResponse{
		CanRecover: registry.CanRecover(),
		Enabled:    len(registry.Enabled()),
		Threshold:  registry.RecoveryThreshold,
	})
}

func (h *Handler) addCredential(w http.ResponseWriter, r *http.Request) {
	const op = "AddCredential"
	id, ok := h.accountID(w, r, op)
	if !ok {
		return
	}
	var req AddCredentialRequest
	if !h.decode(w, r, op, &req) {
		return
	}
	proof, err := req.Proof.proof()
	if err != nil {
		h.error(w, op, err)
		return
	}
	cred, err := req.Credential.credential()
	if err != nil {
		h.error(w, op, err)
		return
	}
	if err := h.Server.AddCredential(r.Context(), id, proof, cred); err != nil {
		h.error(w, op, err)
		return
	}
	h.respondRegistry(w, r, op, id)
}

func (h *Handler) removeCredential(w http.ResponseWriter, r *http.Request) {
	const op = "RemoveCredential"
	id, ok := h.accountID(w, r, op)
	if !ok {
		return
	}
	var req RemoveCredentialRequest
	if !h.decode(w, r, op, &req) {
		return
	}
	proof, err := req.Proof.proof()
	if err != nil {
		h.error(w, op, err)
		return
	}
	if err := h.Server.RemoveCredential(r.Context(), id, proof, req.CredentialID); err != nil {
		h.error(w, op, err)
		return
	}
	h.respondRegistry(w, r, op, id)
}

func (h *Handler) enableCredential(w http.ResponseWriter, r *http.Request) {
	const op = "SetCredentialEnabled"
	id, ok := h.accountID(w, r, op)
	if !ok {
		return
	}
	var req EnableCredentialRequest
	if !h.decode(w, r, op, &req) {
		return
	}
	proof, err := req.Proof.proof()
	if err != nil {
		h.error(w, op, err)
		return
	}
	if err := h.Server.SetCredentialEnabled(r.Context(), id, proof, req.CredentialID, req.Enabled); err != nil {
		h.error(w, op, err)
		return
	}
	h.respondRegistry(w, r, op, id)
}

// respondRegistry writes the current credential registry, used as the
// response body for every registry mutation.
func (h *Handler) respondRegistry(w http.ResponseWriter, r *http.Request, op string, id attesta.AccountID) {
	registry, err := h.Server.Registry(r.Context(), id)
	if err != nil {
		h.error(w, op, err)
		return
	}
	h.respond(w, http.StatusOK, registryResponseOf(registry))
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request, op string) (attesta.AccountID, bool) {
	id, err := attesta.ParseAccountID(r.PathValue("id"))
	if err != nil {
		h.error(w, op, fmt.Errorf("%w: %v", attesta.ErrBadRecord, err))
		return attesta.AccountID{}, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("content too large (%d byte limit)", tooLarge.Limit)
		}
		h.error(w, op, fmt.Errorf("%w: %v", attesta.ErrBadRecord, err))
		return false
	}
	return true
}

// respond marshals the body before writing so that Content-Length can be set
// on the response.
func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		slog.Error("error encoding response body", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) error(w http.ResponseWriter, op string, err error) {
	authErr := attesta.NewAuthError(op, err)
	slog.Debug("request failed", "op", op, "code", authErr.Code, "error", err)
	h.respond(w, errorStatus(authErr.Code), ErrorResponse{
		Code:      authErr.Code,
		Op:        authErr.Op,
		Error:     authErr.ErrString,
		Timestamp: authErr.Timestamp,
	})
}

// errorStatus maps authorization error codes onto HTTP status codes. Codes
// not listed indicate a server-side failure.
func errorStatus(code uint16) int {
	switch code {
	case attesta.InvalidPublicKeyCode, attesta.InvalidSignatureFormatCode,
		attesta.InvalidNonceCode, attesta.InvalidAuthenticatorDataCode,
		attesta.BadRecordCode, attesta.InvalidPolicyConfigCode:
		return http.StatusBadRequest
	case attesta.VerificationFailedCode, attesta.ReplayAttackCode,
		attesta.ChallengeMismatchCode, attesta.InvalidCredentialIDCode:
		return http.StatusUnauthorized
	case attesta.PolicyDeniedCode:
		return http.StatusForbidden
	case attesta.NotFoundCode:
		return http.StatusNotFound
	case attesta.AccountExistsCode, attesta.MaxCredentialsCode,
		attesta.DuplicateCredentialCode, attesta.CannotRemovePrimaryCode:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func parseKey(raw, coseKey []byte) (webauthn.PublicKey, error) {
	if len(coseKey) > 0 {
		return webauthn.ParseCOSEKey(coseKey)
	}
	return webauthn.ParsePublicKey(raw)
}
