// Package flow drives OAuth1 and OAuth2 authorization handshakes: building the
// provider authorization URL, carrying state across the redirect and
// exchanging the callback for an access token.
package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds each call to a provider endpoint.
const DefaultTimeout = 10 * time.Second

// Phase names used in logs and metrics.
const (
	PhaseBegin    = "begin"
	PhaseRecover  = "recover"
	PhaseComplete = "complete"
)

// Config wires an Engine to its collaborators.
type Config struct {
	Registry    *Registry
	Credentials CredentialStore
	Codec       StateCodec
	Pending     PendingStore

	// Timeout bounds every provider call. Defaults to DefaultTimeout.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *Metrics
	Now        func() time.Time
}

// Engine runs the three phases of an authorization flow. It is safe for
// concurrent use; it keeps no per-flow state outside the PendingStore.
type Engine struct {
	registry    *Registry
	credentials CredentialStore
	codec       StateCodec
	pending     PendingStore
	timeout     time.Duration
	client      *http.Client
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
}

// Result is what a processed callback yields.
type Result struct {
	Token    *AccessToken
	Redirect string
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errors.New("flow: registry is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("flow: credential store is required")
	}
	if cfg.Pending == nil {
		return nil, errors.New("flow: pending store is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONStateCodec{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		registry:    cfg.Registry,
		credentials: cfg.Credentials,
		codec:       cfg.Codec,
		pending:     cfg.Pending,
		timeout:     cfg.Timeout,
		client:      cfg.HTTPClient,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}, nil
}

// BeginAuthorization returns the provider URL the user agent should be sent
// to. For OAuth2 the encoded state travels in the URL; for OAuth1 a request
// token is fetched and the state is parked in the PendingStore under it.
func (e *Engine) BeginAuthorization(ctx context.Context, session, provider, redirect string) (authURL string, err error) {
	desc, err := e.registry.Resolve(provider)
	if err != nil {
		e.metrics.observePhase("unsupported", PhaseBegin, err)
		return "", err
	}
	defer func() { e.observe(desc, PhaseBegin, err) }()

	driver, err := e.driver(desc)
	if err != nil {
		return "", err
	}

	state := State{RedirectKey: nil}
	if redirect != "" {
		state[RedirectKey] = redirect
	}
	encoded, err := e.codec.Encode(state)
	if err != nil {
		return "", err
	}

	if desc.Variant == OAuth2 {
		return driver.(OAuth2Driver).AuthCodeURL(encoded), nil
	}

	if session == "" {
		return "", errors.New("flow: session id is required for oauth1 providers")
	}
	d := driver.(OAuth1Driver)
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	start := time.Now()
	rt, err := d.RequestToken(callCtx)
	e.metrics.observeRequest(desc.Name, "request_token", start)
	if err != nil {
		return "", providerFailure(desc.Name, err)
	}
	pending := PendingAuthorization{
		Provider:    desc.Name,
		TokenSecret: rt.Secret,
		State:       encoded,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.pending.Put(ctx, session, rt.Token, pending); err != nil {
		return "", fmt.Errorf("store pending authorization: %w", err)
	}
	return d.AuthorizationURL(rt.Token)
}

// RecoverRedirectTarget returns the redirect target carried by the flow's
// state. ok is false when the state holds no redirect. Errors are
// ErrMalformedState, ErrNotFound or ErrMissingToken; callers should treat
// them as "no redirect preference" rather than aborting the login.
func (e *Engine) RecoverRedirectTarget(ctx context.Context, session, provider string, params url.Values) (target string, ok bool, err error) {
	desc, err := e.registry.Resolve(provider)
	if err != nil {
		e.metrics.observePhase("unsupported", PhaseRecover, err)
		return "", false, err
	}
	defer func() { e.observe(desc, PhaseRecover, err) }()

	var encoded string
	switch desc.Variant {
	case OAuth2:
		encoded = params.Get("state")
	case OAuth1:
		token := params.Get("oauth_token")
		if token == "" {
			return "", false, newError(ErrMissingToken, desc.Name, "oauth_token missing from callback", nil)
		}
		pending, err := e.pending.Get(ctx, session, token)
		if err != nil {
			return "", false, e.lookupFailure(desc.Name, err)
		}
		if pending.Provider != desc.Name {
			return "", false, newError(ErrNotFound, desc.Name, "request token belongs to another provider", nil)
		}
		encoded = pending.State
	}

	state, err := e.codec.Decode(encoded)
	if err != nil {
		var fe *FlowError
		if errors.As(err, &fe) {
			fe.Provider = desc.Name
		}
		return "", false, err
	}
	target, ok = state.Redirect()
	return target, ok, nil
}

// CompleteAuthorization exchanges the callback parameters for an access token.
// Explicit denials are reported before any provider call is made.
func (e *Engine) CompleteAuthorization(ctx context.Context, session, provider string, params url.Values) (tok *AccessToken, err error) {
	desc, err := e.registry.Resolve(provider)
	if err != nil {
		e.metrics.observePhase("unsupported", PhaseComplete, err)
		return nil, err
	}
	defer func() { e.observe(desc, PhaseComplete, err) }()

	switch desc.Variant {
	case OAuth2:
		return e.completeOAuth2(ctx, desc, params)
	case OAuth1:
		return e.completeOAuth1(ctx, session, desc, params)
	default:
		return nil, fmt.Errorf("flow: provider %s has unknown variant", desc.Name)
	}
}

// HandleCallback recovers the redirect target and then completes the
// authorization. Recovery runs first because completing an OAuth1 flow
// consumes the pending entry that holds its state. Recovery failures only
// clear the redirect.
func (e *Engine) HandleCallback(ctx context.Context, session, provider string, params url.Values) (Result, error) {
	target, ok, rerr := e.RecoverRedirectTarget(ctx, session, provider, params)
	if rerr != nil && !errors.Is(rerr, ErrUnsupportedProvider) {
		e.logger.Debug("flow.recover_redirect_failed", "provider", provider, "error", rerr)
	}
	tok, err := e.CompleteAuthorization(ctx, session, provider, params)
	if err != nil {
		return Result{}, err
	}
	res := Result{Token: tok}
	if ok {
		res.Redirect = target
	}
	return res, nil
}

func (e *Engine) completeOAuth2(ctx context.Context, desc Descriptor, params url.Values) (*AccessToken, error) {
	if errCode := params.Get("error"); errCode != "" {
		message := params.Get("error_description")
		if message == "" {
			message = errCode
		}
		if errCode == "access_denied" {
			return nil, newError(ErrUserDenied, desc.Name, message, nil)
		}
		return nil, newError(ErrProvider, desc.Name, message, nil)
	}
	code := params.Get("code")
	if code == "" {
		return nil, newError(ErrMissingToken, desc.Name, "authorization code missing from callback", nil)
	}

	driver, err := e.driver(desc)
	if err != nil {
		return nil, err
	}
	d := driver.(OAuth2Driver)

	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	start := time.Now()
	tok, err := d.Exchange(callCtx, code)
	e.metrics.observeRequest(desc.Name, "access_token", start)
	if err != nil {
		return nil, providerFailure(desc.Name, err)
	}
	e.logger.Debug("flow.token_issued", "provider", desc.Name, "variant", desc.Variant.String(), "token_type", tok.TokenType)
	return tok, nil
}

func (e *Engine) completeOAuth1(ctx context.Context, session string, desc Descriptor, params url.Values) (*AccessToken, error) {
	token := params.Get("oauth_token")
	if denied := params.Get("denied"); denied != "" || token == "denied" {
		if denied != "" && denied != "denied" {
			if err := e.pending.Delete(ctx, session, denied); err != nil && !errors.Is(err, ErrNotFound) {
				e.logger.Warn("flow.pending_cleanup_failed", "provider", desc.Name, "error", err)
			}
		}
		return nil, newError(ErrUserDenied, desc.Name, "user denied OAuth permissions", nil)
	}
	if token == "" {
		return nil, newError(ErrMissingToken, desc.Name, "oauth_token missing from callback", nil)
	}

	driver, err := e.driver(desc)
	if err != nil {
		return nil, err
	}
	d := driver.(OAuth1Driver)

	pending, err := e.pending.Take(ctx, session, token)
	if err != nil {
		return nil, e.lookupFailure(desc.Name, err)
	}
	if pending.Provider != desc.Name {
		e.restore(ctx, session, token, pending)
		return nil, newError(ErrNotFound, desc.Name, "request token belongs to another provider", nil)
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	start := time.Now()
	tok, err := d.AccessToken(callCtx, RequestToken{Token: token, Secret: pending.TokenSecret}, params.Get("oauth_verifier"))
	e.metrics.observeRequest(desc.Name, "access_token", start)
	if err != nil {
		e.restore(ctx, session, token, pending)
		return nil, providerFailure(desc.Name, err)
	}
	e.logger.Debug("flow.token_issued", "provider", desc.Name, "variant", desc.Variant.String())
	return tok, nil
}

// restore puts back an entry taken for an exchange that did not succeed, so
// the caller may retry the callback.
func (e *Engine) restore(ctx context.Context, session, key string, pending PendingAuthorization) {
	if err := e.pending.Put(ctx, session, key, pending); err != nil {
		e.logger.Warn("flow.pending_restore_failed", "provider", pending.Provider, "error", err)
	}
}

func (e *Engine) driver(desc Descriptor) (any, error) {
	settings, ok := e.credentials.Lookup(desc.Name)
	if !ok {
		return nil, newError(ErrUnsupportedProvider, desc.Name, "provider has no configured credentials", nil)
	}
	return e.registry.driver(desc, settings)
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, e.client), cancel
}

func (e *Engine) lookupFailure(provider string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return newError(ErrNotFound, provider, "no pending authorization for request token", nil)
	}
	return fmt.Errorf("load pending authorization: %w", err)
}

func (e *Engine) observe(desc Descriptor, phase string, err error) {
	e.metrics.observePhase(desc.Name, phase, err)
	if err != nil {
		e.logger.Warn("flow.phase_failed", "provider", desc.Name, "phase", phase, "error", err)
		return
	}
	e.logger.Debug("flow.phase_done", "provider", desc.Name, "phase", phase, "variant", desc.Variant.String())
}

// providerFailure classifies an error returned by a provider call. Transport
// failures and timeouts are retryable by the caller; anything else the
// provider reported is a failed exchange.
func providerFailure(provider string, err error) error {
	if isUnavailable(err) {
		return newError(ErrProviderUnavailable, provider, "", err)
	}
	return newError(ErrTokenExchange, provider, exchangeMessage(err), err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
