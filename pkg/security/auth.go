// Package security authenticates inbound requests: random-hex bearer
// tokens with an expiry, resolved to a types.Principal.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/types"
)

// Grant is one issued bearer token: which tenant and scopes it authenticates
// as, and when it stops being valid.
type Grant struct {
	Token     string
	Principal types.Principal
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Authenticator resolves a bearer token to the types.Principal it
// authenticates. pkg/dataplane request types carry a Principal field, and
// pkg/dataplane.Service does not call an Authenticator itself.
type Authenticator interface {
	Authenticate(token string) (types.Principal, error)
}

// TokenAuthenticator is the in-process reference Authenticator: an
// in-memory table of issued grants, mirroring TokenManager's
// map-plus-mutex shape.
type TokenAuthenticator struct {
	mu     sync.RWMutex
	grants map[string]*Grant
}

func NewTokenAuthenticator() *TokenAuthenticator {
	return &TokenAuthenticator{grants: make(map[string]*Grant)}
}

// IssueToken mints a new bearer token for principal, valid for duration.
func (a *TokenAuthenticator) IssueToken(principal types.Principal, duration time.Duration) (*Grant, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate bearer token: %w", err)
	}
	now := time.Now()
	g := &Grant{
		Token:     hex.EncodeToString(raw),
		Principal: principal,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	a.mu.Lock()
	a.grants[g.Token] = g
	a.mu.Unlock()
	return g, nil
}

// Authenticate resolves token to its Principal, failing AUTH_DENIED if the
// token is unknown or expired.
func (a *TokenAuthenticator) Authenticate(token string) (types.Principal, error) {
	a.mu.RLock()
	g, ok := a.grants[token]
	a.mu.RUnlock()
	if !ok {
		return types.Principal{}, dataerr.New(dataerr.AuthDenied, "unknown bearer token")
	}
	if time.Now().After(g.ExpiresAt) {
		return types.Principal{}, dataerr.New(dataerr.AuthDenied, "bearer token expired")
	}
	return g.Principal, nil
}

// Revoke invalidates token immediately.
func (a *TokenAuthenticator) Revoke(token string) {
	a.mu.Lock()
	delete(a.grants, token)
	a.mu.Unlock()
}

// CleanupExpired removes every grant past its expiry, for a periodic sweep.
func (a *TokenAuthenticator) CleanupExpired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for token, g := range a.grants {
		if now.After(g.ExpiresAt) {
			delete(a.grants, token)
		}
	}
}
