package flow

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. Match them with errors.Is.
var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrUserDenied          = errors.New("user denied authorization")
	ErrMissingToken        = errors.New("missing token")
	ErrMalformedState      = errors.New("malformed state")
	ErrNotFound            = errors.New("pending authorization not found")
	ErrTokenExchange       = errors.New("token exchange failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProvider            = errors.New("provider error")
)

// FlowError carries the kind of failure together with the provider involved and
// the underlying cause, if any.
type FlowError struct {
	Kind     error
	Provider string
	Message  string
	Err      error
}

func (e *FlowError) Error() string {
	msg := e.Kind.Error()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && e.Message == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FlowError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, provider, message string, cause error) *FlowError {
	return &FlowError{Kind: kind, Provider: provider, Message: message, Err: cause}
}

func unsupported(name string) error {
	return newError(ErrUnsupportedProvider, name, fmt.Sprintf("%q is not a supported OAuth1 or OAuth2 provider", name), nil)
}

// KindOf returns the error kind of err, or nil when err was not produced by the engine.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrUnsupportedProvider,
		ErrUserDenied,
		ErrMissingToken,
		ErrMalformedState,
		ErrNotFound,
		ErrTokenExchange,
		ErrProviderUnavailable,
		ErrProvider,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
