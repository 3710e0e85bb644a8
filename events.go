// SPDX-FileCopyrightText: (C) 2025 Attesta Labs
// SPDX-License-Identifier: Apache 2.0

package attesta

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType represents the type of authorization event
type EventType int

const (
	// EventTypeUnknown - Unknown event type
	EventTypeUnknown EventType = iota

	// EventTypeAccountInitialized indicates an account was created
	EventTypeAccountInitialized
	// EventTypeAuthorizationAllowed indicates a proof was accepted and the
	// action authorized
	EventTypeAuthorizationAllowed
	// EventTypeAuthorizationDenied indicates proof verification or policy
	// evaluation rejected an action
	EventTypeAuthorizationDenied
	// EventTypeApprovalRequired indicates a MultiSig policy deferred the
	// action pending signer approvals
	EventTypeApprovalRequired
	// EventTypeReplayRejected indicates a proof reused a consumed nonce
	EventTypeReplayRejected
	// EventTypePolicyUpdated indicates an account policy was replaced
	EventTypePolicyUpdated
	// EventTypeCredentialAdded indicates a credential joined the registry
	EventTypeCredentialAdded
	// EventTypeCredentialRemoved indicates a credential left the registry
	EventTypeCredentialRemoved
	// EventTypeInternalError indicates an internal storage or server error
	EventTypeInternalError
)

// String returns a human-readable description of the event type
func (e EventType) String() string {
	return eventTypeNames[e]
}

// eventTypeNames maps event types to their string representations
var eventTypeNames = map[EventType]string{
	EventTypeUnknown:              "Unknown Event",
	EventTypeAccountInitialized:   "Account Initialized",
	EventTypeAuthorizationAllowed: "Authorization Allowed",
	EventTypeAuthorizationDenied:  "Authorization Denied",
	EventTypeApprovalRequired:     "Approval Required",
	EventTypeReplayRejected:       "Replay Rejected",
	EventTypePolicyUpdated:        "Policy Updated",
	EventTypeCredentialAdded:      "Credential Added",
	EventTypeCredentialRemoved:    "Credential Removed",
	EventTypeInternalError:        "Internal Error",
}

// Event represents an authorization lifecycle event
type Event struct {
	// Type of the event
	Type EventType

	// Timestamp when the event occurred
	Timestamp time.Time

	// AccountID of the account involved (if applicable)
	AccountID *AccountID

	// Error information (if this is an error event)
	Error error

	// Additional context-specific data
	Data EventData
}

// EventData contains type-specific event data
type EventData interface {
	eventData()
}

// AccountEventData contains account lifecycle event information
type AccountEventData struct {
	Owner      Identity
	PolicyKind PolicyKind
}

func (AccountEventData) eventData() {}

// AuthorizationEventData contains authorization event information
type AuthorizationEventData struct {
	Amount   uint64
	Nonce    uint64
	Decision Decision
}

func (AuthorizationEventData) eventData() {}

// ReplayEventData contains replay rejection details
type ReplayEventData struct {
	CandidateNonce uint64
	CurrentNonce   uint64
}

func (ReplayEventData) eventData() {}

// PolicyEventData contains policy update event information
type PolicyEventData struct {
	PreviousKind PolicyKind
	NewKind      PolicyKind
}

func (PolicyEventData) eventData() {}

// CredentialEventData contains registry change event information
type CredentialEventData struct {
	CredentialID []byte
	Label        string
	Count        int
}

func (CredentialEventData) eventData() {}

// EventHandler is the interface that implementations must satisfy to receive
// authorization events
type EventHandler interface {
	// HandleEvent is called when an event occurs
	// Implementations should not block for long periods as this may impact
	// authorization latency
	HandleEvent(ctx context.Context, event Event)
}

// EventHandlerFunc is a function adapter for EventHandler
type EventHandlerFunc func(ctx context.Context, event Event)

// HandleEvent implements EventHandler
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event Event) {
	f(ctx, event)
}

// eventDispatcher manages event handlers and dispatches events
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

var globalDispatcher = &eventDispatcher{
	handlers: make([]EventHandler, 0),
}

// RegisterEventHandler registers a global event handler
// All registered handlers will receive all authorization events
func RegisterEventHandler(handler EventHandler) {
	globalDispatcher.mu.Lock()
	defer globalDispatcher.mu.Unlock()
	globalDispatcher.handlers = append(globalDispatcher.handlers, handler)
}

// UnregisterAllEventHandlers removes all registered event handlers
// This is primarily useful for testing
func UnregisterAllEventHandlers() {
	globalDispatcher.mu.Lock()
	defer globalDispatcher.mu.Unlock()
	globalDispatcher.handlers = make([]EventHandler, 0)
}

// emitEvent dispatches an event to all registered handlers
func emitEvent(ctx context.Context, event Event) {
	// Set timestamp if not already set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	globalDispatcher.mu.RLock()
	handlers := make([]EventHandler, len(globalDispatcher.handlers))
	copy(handlers, globalDispatcher.handlers)
	globalDispatcher.mu.RUnlock()

	// Dispatch to all handlers
	// We dispatch in goroutines to avoid blocking the authorization flow
	// However, we don't wait for handlers to complete
	for _, handler := range handlers {
		h := handler
		go func() {
			// Recover from panics in event handlers to prevent crashing the
			// authorization flow
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panic", "event", event.Type, "panic", r)
				}
			}()
			h.HandleEvent(ctx, event)
		}()
	}
}

// Helper functions to emit specific events

// EmitAccountInitialized emits an account initialized event
func EmitAccountInitialized(ctx context.Context, id AccountID, owner Identity, kind PolicyKind) {
	emitEvent(ctx, Event{
		Type:      EventTypeAccountInitialized,
		AccountID: &id,
		Data: AccountEventData{
			Owner:      owner,
			PolicyKind: kind,
		},
	})
}

// EmitAuthorizationAllowed emits an authorization allowed event
func EmitAuthorizationAllowed(ctx context.Context, id AccountID, amount, nonce uint64) {
	emitEvent(ctx, Event{
		Type:      EventTypeAuthorizationAllowed,
		AccountID: &id,
		Data: AuthorizationEventData{
			Amount:   amount,
			Nonce:    nonce,
			Decision: Allowed,
		},
	})
}

// EmitAuthorizationDenied emits an authorization denied event
func EmitAuthorizationDenied(ctx context.Context, id AccountID, amount uint64, err error) {
	emitEvent(ctx, Event{
		Type:      EventTypeAuthorizationDenied,
		AccountID: &id,
		Error:     err,
		Data: AuthorizationEventData{
			Amount:   amount,
			Decision: Denied,
		},
	})
}

// EmitApprovalRequired emits an approval required event
func EmitApprovalRequired(ctx context.Context, id AccountID, amount uint64) {
	emitEvent(ctx, Event{
		Type:      EventTypeApprovalRequired,
		AccountID: &id,
		Data: AuthorizationEventData{
			Amount:   amount,
			Decision: RequiresApproval,
		},
	})
}

// EmitReplayRejected emits a replay rejected event
func EmitReplayRejected(ctx context.Context, id AccountID, candidate, current uint64) {
	emitEvent(ctx, Event{
		Type:      EventTypeReplayRejected,
		AccountID: &id,
		Data: ReplayEventData{
			CandidateNonce: candidate,
			CurrentNonce:   current,
		},
	})
}

// EmitPolicyUpdated emits a policy updated event
func EmitPolicyUpdated(ctx context.Context, id AccountID, previous, next PolicyKind) {
	emitEvent(ctx, Event{
		Type:      EventTypePolicyUpdated,
		AccountID: &id,
		Data: PolicyEventData{
			PreviousKind: previous,
			NewKind:      next,
		},
	})
}

// EmitCredentialAdded emits a credential added event
func EmitCredentialAdded(ctx context.Context, id AccountID, credentialID []byte, label string, count int) {
	emitEvent(ctx, Event{
		Type:      EventTypeCredentialAdded,
		AccountID: &id,
		Data: CredentialEventData{
			CredentialID: credentialID,
			Label:        label,
			Count:        count,
		},
	})
}

// EmitCredentialRemoved emits a credential removed event
func EmitCredentialRemoved(ctx context.Context, id AccountID, credentialID []byte, count int) {
	emitEvent(ctx, Event{
		Type:      EventTypeCredentialRemoved,
		AccountID: &id,
		Data: CredentialEventData{
			CredentialID: credentialID,
			Count:        count,
		},
	})
}
