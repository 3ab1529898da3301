package flow

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-jose/go-jose/v3"
)

// MaxStateLength bounds the encoded state produced by Encode and accepted by
// Decode.
const MaxStateLength = 4096

// RedirectKey is the state payload key holding the post-login target.
const RedirectKey = "redirect"

// State is the opaque payload carried across the provider round trip.
type State map[string]any

// Redirect returns the redirect target recorded in the state, if any.
func (s State) Redirect() (string, bool) {
	v, ok := s[RedirectKey]
	if !ok {
		return "", false
	}
	target, ok := v.(string)
	if !ok || target == "" {
		return "", false
	}
	return target, true
}

// StateCodec turns a State into a token that is safe to place in a URL query
// parameter, and back.
type StateCodec interface {
	Encode(state State) (string, error)
	Decode(token string) (State, error)
}

// JSONStateCodec encodes state as unpadded base64url JSON.
type JSONStateCodec struct{}

func (JSONStateCodec) Encode(state State) (string, error) {
	raw, err := marshalState(state)
	if err != nil {
		return "", err
	}
	return checkLength(base64.RawURLEncoding.EncodeToString(raw))
}

func (JSONStateCodec) Decode(token string) (State, error) {
	if token == "" {
		return nil, malformed("state is empty", nil)
	}
	if len(token) > MaxStateLength {
		return nil, malformed("state is too long", nil)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, malformed("state is not base64url", err)
	}
	return unmarshalState(raw)
}

// SignedStateCodec encodes state as a compact HS256 JWS so a tampered or
// forged state fails to decode.
type SignedStateCodec struct {
	key []byte
}

// NewSignedStateCodec returns a codec signing with key.
func NewSignedStateCodec(key []byte) (*SignedStateCodec, error) {
	if len(key) < 32 {
		return nil, errors.New("state signing key must be at least 32 bytes")
	}
	return &SignedStateCodec{key: append([]byte(nil), key...)}, nil
}

func (c *SignedStateCodec) Encode(state State) (string, error) {
	raw, err := marshalState(state)
	if err != nil {
		return "", err
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: c.key}, nil)
	if err != nil {
		return "", fmt.Errorf("create state signer: %w", err)
	}
	obj, err := signer.Sign(raw)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	token, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serialize state: %w", err)
	}
	return checkLength(token)
}

func (c *SignedStateCodec) Decode(token string) (State, error) {
	if token == "" {
		return nil, malformed("state is empty", nil)
	}
	if len(token) > MaxStateLength {
		return nil, malformed("state is too long", nil)
	}
	obj, err := jose.ParseSigned(token)
	if err != nil {
		return nil, malformed("state is not a signed token", err)
	}
	if len(obj.Signatures) != 1 || obj.Signatures[0].Header.Algorithm != string(jose.HS256) {
		return nil, malformed("unexpected state signature", nil)
	}
	raw, err := obj.Verify(c.key)
	if err != nil {
		return nil, malformed("state signature mismatch", err)
	}
	return unmarshalState(raw)
}

func checkLength(token string) (string, error) {
	if len(token) > MaxStateLength {
		return "", malformed(fmt.Sprintf("encoded state is %d bytes, limit is %d", len(token), MaxStateLength), nil)
	}
	return token, nil
}

func marshalState(state State) ([]byte, error) {
	if state == nil {
		state = State{}
	}
	raw, err := json.Marshal(map[string]any(state))
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return raw, nil
}

func unmarshalState(raw []byte) (State, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, malformed("state is not a JSON object", err)
	}
	if out == nil {
		return nil, malformed("state is not a JSON object", nil)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed("trailing data after state", nil)
	}
	return State(out), nil
}

func malformed(message string, cause error) error {
	return newError(ErrMalformedState, "", message, cause)
}
