package model

import (
	"encoding/json"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// AuthType discriminates the webhook auth variants.
type AuthType string

const (
	AuthTypeNone   AuthType = "no-auth"
	AuthTypeHeader AuthType = "http-header"
	AuthTypeBasic  AuthType = "http-basic-auth"
)

// WebhookAuth is the auth a subscriber asked us to attach to every delivery.
type WebhookAuth interface {
	Type() AuthType
	Apply(req *http.Request)
	Validate() error
}

// NoAuth sends deliveries without credentials.
type NoAuth struct{}

func (NoAuth) Type() AuthType { return AuthTypeNone }

func (NoAuth) Apply(_ *http.Request) {}

func (NoAuth) Validate() error { return nil }

// HeaderAuth sends a static header with every delivery.
type HeaderAuth struct {
	HeaderName  string `json:"headerName"`
	HeaderValue string `json:"headerValue"`
}

func (HeaderAuth) Type() AuthType { return AuthTypeHeader }

func (a HeaderAuth) Apply(req *http.Request) {
	req.Header.Set(a.HeaderName, a.HeaderValue)
}

func (a HeaderAuth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.HeaderName, validation.Required),
		validation.Field(&a.HeaderValue, validation.Required),
	)
}

// BasicAuth sends HTTP basic credentials with every delivery.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (BasicAuth) Type() AuthType { return AuthTypeBasic }

func (a BasicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(a.Username, a.Password)
}

func (a BasicAuth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Username, validation.Required),
	)
}

type authEnvelope struct {
	Type AuthType `json:"type"`
}

// ParseWebhookAuth decodes the stored auth column. A NULL or empty column means no auth.
func ParseWebhookAuth(raw []byte) (WebhookAuth, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return NoAuth{}, nil
	}

	var envelope authEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode webhook auth: %w", err)
	}

	var auth WebhookAuth
	switch envelope.Type {
	case AuthTypeNone, "":
		return NoAuth{}, nil
	case AuthTypeHeader:
		var header HeaderAuth
		if err := json.Unmarshal(raw, &header); err != nil {
			return nil, fmt.Errorf("decode header auth: %w", err)
		}
		auth = header
	case AuthTypeBasic:
		var basic BasicAuth
		if err := json.Unmarshal(raw, &basic); err != nil {
			return nil, fmt.Errorf("decode basic auth: %w", err)
		}
		auth = basic
	default:
		return nil, fmt.Errorf("unknown webhook auth type %q", envelope.Type)
	}

	if err := auth.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s auth: %w", envelope.Type, err)
	}
	return auth, nil
}
