package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Phase string

const (
	PhaseIdle                     Phase = "idle"
	PhaseAwaitingProviderCallback Phase = "awaiting_provider_callback"
	PhaseAwaitingUsername         Phase = "awaiting_username"
	PhaseResolved                 Phase = "resolved"
)

type Intent string

const (
	IntentLogin    Intent = "login"
	IntentRegister Intent = "register"
)

type Outcome string

const (
	OutcomeFound   Outcome = "found"
	OutcomeCreated Outcome = "created"
)

// ProviderDraft is what the identity provider told us about a visitor who has
// no account yet. The raw subject identifier is never kept, only its hash.
type ProviderDraft struct {
	IdentityKeyHash string `json:"identity_key_hash"`
	Name            string `json:"name"`
	Email           string `json:"email"`
}

// ErrIllegalTransition is returned when a transition is attempted from the wrong phase.
var ErrIllegalTransition = errors.New("illegal registration transition")

// Registration is the state of one in-flight login or registration attempt.
// Its fields are only reachable through the transition methods, so a state
// such as "awaiting a username without provider data" cannot be built.
type Registration struct {
	phase    Phase
	intent   Intent
	username string
	nonce    string
	draft    *ProviderDraft
	failure  string
	outcome  Outcome
}

// Idle is the state of a browser with no attempt in flight.
func Idle() Registration {
	return Registration{phase: PhaseIdle}
}

// AwaitProvider starts an attempt that hands control to the identity
// provider. username is the name chosen up front when registering, if any.
func AwaitProvider(intent Intent, username, nonce string) Registration {
	if intent != IntentRegister {
		username = ""
	}
	return Registration{
		phase:    PhaseAwaitingProviderCallback,
		intent:   intent,
		username: username,
		nonce:    nonce,
	}
}

func (r Registration) Phase() Phase {
	if r.phase == "" {
		return PhaseIdle
	}
	return r.phase
}

func (r Registration) Intent() Intent   { return r.intent }
func (r Registration) Username() string { return r.username }
func (r Registration) Failure() string  { return r.failure }
func (r Registration) Outcome() Outcome { return r.outcome }

// Draft returns the provider data carried while awaiting a username.
func (r Registration) Draft() (ProviderDraft, bool) {
	if r.draft == nil {
		return ProviderDraft{}, false
	}
	return *r.draft, true
}

// CheckCallback verifies the provider callback belongs to this attempt.
func (r Registration) CheckCallback(nonce string) error {
	if r.Phase() != PhaseAwaitingProviderCallback {
		return fmt.Errorf("%w: callback while %s", ErrIllegalTransition, r.Phase())
	}
	if nonce == "" || nonce != r.nonce {
		return fmt.Errorf("%w: state mismatch", ErrIllegalTransition)
	}
	return nil
}

// Found resolves the attempt as a login of an existing account.
func (r Registration) Found() (Registration, error) {
	if r.Phase() != PhaseAwaitingProviderCallback {
		return r, fmt.Errorf("%w: found while %s", ErrIllegalTransition, r.Phase())
	}
	return resolved(OutcomeFound), nil
}

// NeedUsername parks the provider data until the visitor picks a username.
// The up-front choice, if any, is kept as the suggestion.
func (r Registration) NeedUsername(draft ProviderDraft) (Registration, error) {
	if r.Phase() != PhaseAwaitingProviderCallback {
		return r, fmt.Errorf("%w: need username while %s", ErrIllegalTransition, r.Phase())
	}
	if draft.IdentityKeyHash == "" {
		return r, fmt.Errorf("%w: provider data without identity", ErrIllegalTransition)
	}
	return Registration{
		phase:    PhaseAwaitingUsername,
		intent:   IntentRegister,
		username: r.username,
		draft:    &draft,
	}, nil
}

// Rejected records why the chosen username could not be used and stays
// awaiting a username.
func (r Registration) Rejected(reason string) (Registration, error) {
	if r.Phase() != PhaseAwaitingUsername {
		return r, fmt.Errorf("%w: rejected while %s", ErrIllegalTransition, r.Phase())
	}
	r.failure = reason
	return r, nil
}

// Created resolves the attempt after the account was stored.
func (r Registration) Created() (Registration, error) {
	if r.Phase() != PhaseAwaitingUsername {
		return r, fmt.Errorf("%w: created while %s", ErrIllegalTransition, r.Phase())
	}
	return resolved(OutcomeCreated), nil
}

// Resolved states keep only the outcome; every scratch field is dropped.
func resolved(outcome Outcome) Registration {
	return Registration{phase: PhaseResolved, outcome: outcome}
}

type registrationJSON struct {
	Phase    Phase          `json:"phase"`
	Intent   Intent         `json:"intent,omitempty"`
	Username string         `json:"username,omitempty"`
	Nonce    string         `json:"nonce,omitempty"`
	Draft    *ProviderDraft `json:"draft,omitempty"`
	Failure  string         `json:"failure,omitempty"`
	Outcome  Outcome        `json:"outcome,omitempty"`
}

func (r Registration) MarshalJSON() ([]byte, error) {
	return json.Marshal(registrationJSON{
		Phase:    r.Phase(),
		Intent:   r.intent,
		Username: r.username,
		Nonce:    r.nonce,
		Draft:    r.draft,
		Failure:  r.failure,
		Outcome:  r.outcome,
	})
}

// UnmarshalJSON rejects encodings that no sequence of transitions produces.
func (r *Registration) UnmarshalJSON(data []byte) error {
	var v registrationJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v.Phase {
	case "", PhaseIdle:
		*r = Idle()
	case PhaseAwaitingProviderCallback:
		if v.Nonce == "" || (v.Intent != IntentLogin && v.Intent != IntentRegister) {
			return fmt.Errorf("%w: malformed provider wait", ErrIllegalTransition)
		}
		*r = AwaitProvider(v.Intent, v.Username, v.Nonce)
	case PhaseAwaitingUsername:
		if v.Draft == nil || v.Draft.IdentityKeyHash == "" {
			return fmt.Errorf("%w: awaiting username without provider data", ErrIllegalTransition)
		}
		*r = Registration{
			phase:    PhaseAwaitingUsername,
			intent:   IntentRegister,
			username: v.Username,
			draft:    v.Draft,
			failure:  v.Failure,
		}
	case PhaseResolved:
		switch v.Outcome {
		case OutcomeFound, OutcomeCreated:
		default:
			return fmt.Errorf("%w: unknown outcome %q", ErrIllegalTransition, v.Outcome)
		}
		*r = resolved(v.Outcome)
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrIllegalTransition, v.Phase)
	}
	return nil
}
