// Package databricks provides the authenticated HTTP client used to talk to a
// Databricks workspace.
package databricks

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

const minTokenLength = 20

var (
	// ErrInsecureHost indicates a workspace host that does not use https.
	ErrInsecureHost = errors.New("databricks host must use https")

	// ErrInvalidCredentials indicates credentials that failed validation.
	ErrInvalidCredentials = errors.New("invalid databricks credentials")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Credentials identify a workspace and the personal access token used to call it.
type Credentials struct {
	Host  string `json:"host" validate:"required,url"`
	Token string `json:"token" validate:"required"`
}

// Validate checks that both fields are present and that Host is an absolute URL.
func (c Credentials) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	return nil
}

// NormalizedHost returns Host without trailing slashes.
func (c Credentials) NormalizedHost() string {
	return strings.TrimRight(strings.TrimSpace(c.Host), "/")
}

func (c Credentials) scheme() string {
	u, err := url.Parse(c.NormalizedHost())
	if err != nil {
		return ""
	}

	return u.Scheme
}

// WeakToken reports whether the token is shorter than a Databricks PAT.
func (c Credentials) WeakToken() bool {
	return len(c.Token) < minTokenLength
}
