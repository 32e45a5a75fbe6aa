/*
Package security authenticates inbound requests.

TokenAuthenticator issues and checks random-hex bearer tokens with an
expiry, resolving each to a types.Principal. pkg/dataplane request types
carry a Principal field; pkg/dataplane.Service does not call an
Authenticator itself.

# Usage

	auth := security.NewTokenAuthenticator()
	grant, err := auth.IssueToken(types.Principal{ID: "svc-acct", Tenant: "acme"}, time.Hour)
	...
	principal, err := auth.Authenticate(token)
	if err != nil {
		// dataerr.AuthDenied: unknown or expired token
	}

Run CleanupExpired periodically to bound the grant table's size; expired
grants that are never re-checked would otherwise linger until process
restart.

# Design

No CA or mutual TLS: tenant requests arrive over a transport the adapter
layer already terminates, so the only scope left for this package is
resolving a caller's token to the Principal that the rest of the data plane
authorizes against.
*/
package security
