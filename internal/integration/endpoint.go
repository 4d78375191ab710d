package integration

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Auth types supported by 1C endpoints. "legacy" sends the token in an
// X-Auth-Token header instead of an Authorization header.
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthLegacy = "legacy"
)

var ErrEndpointNotConfigured = errors.New("integration: endpoint missing or not configured")

// Endpoint is one branch's (or clinic's) connection to its 1C instance.
// Admin tooling edits it; this service only reads it and stamps health.
type Endpoint struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	BranchID    *uuid.UUID
	BaseURL     string
	AuthType    string
	Credentials Credentials
	Active      bool

	LastSuccessAt *time.Time
	LastErrorAt   *time.Time
	LastError     string
}

// Configured reports whether the endpoint can be called at all.
func (e *Endpoint) Configured() bool {
	return e != nil && e.Active && strings.TrimSpace(e.BaseURL) != ""
}

// Credentials is the endpoint's credential bag. Deployments accumulated
// several key aliases for the same logical token over the years, so every
// read goes through an ordered-precedence resolver.
type Credentials map[string]string

// Resolve returns the first non-empty value among the given keys.
func (c Credentials) Resolve(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(c[key]); v != "" {
			return v
		}
	}
	return ""
}

// Token resolves the generic endpoint token.
func (c Credentials) Token() string {
	return c.Resolve("token", "access_token", "api_key", "auth_token")
}

// OperationToken resolves a per-operation authorization override, falling
// back to the generic token. Operation overrides always win: they are what
// lets one endpoint row serve branches with split credentials.
func (c Credentials) OperationToken(operation string) string {
	if operation != "" {
		if v := c.Resolve(operation+"_token", operation+"_authorization"); v != "" {
			return v
		}
	}
	return c.Token()
}

// BasicAuth resolves the login/password pair for basic auth.
func (c Credentials) BasicAuth() (login, password string) {
	return c.Resolve("login", "username", "user"), c.Resolve("password", "pass")
}
