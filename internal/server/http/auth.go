package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/hub"
)

// Role orders the access levels of the read-side API.
type Role int

const (
	// RolePublic is an unauthenticated caller.
	RolePublic Role = iota
	// RoleCustomer may read its own shipments and subscribe.
	RoleCustomer
	// RoleOperator may ingest manual events and force refreshes.
	RoleOperator
	// RoleAdmin may read statistics and trigger scheduler ticks.
	RoleAdmin
)

// Principal is the authenticated caller of a request.
type Principal struct {
	SubscriberID string
	CustomerID   string
	Role         Role
}

// AtLeast reports whether the principal holds the role or a higher one.
func (p Principal) AtLeast(role Role) bool {
	return p.Role >= role
}

// Authorizer resolves the principal behind a request. The identity provider
// is an external collaborator; implementations adapt its tokens.
type Authorizer interface {
	Authenticate(r *http.Request) (Principal, error)
}

// TokenAuthorizer resolves principals from a static bearer-token table. It
// stands in for the external identity provider in tests and development.
type TokenAuthorizer struct {
	tokens map[string]Principal
}

// NewTokenAuthorizer builds an authorizer over a token table.
func NewTokenAuthorizer(tokens map[string]Principal) *TokenAuthorizer {
	if tokens == nil {
		tokens = make(map[string]Principal)
	}
	return &TokenAuthorizer{tokens: tokens}
}

// Authenticate matches the bearer token against the table. Requests without
// a token resolve to the public principal.
func (a *TokenAuthorizer) Authenticate(r *http.Request) (Principal, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return Principal{Role: RolePublic}, nil
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	principal, ok := a.tokens[token]
	if !ok {
		return Principal{}, errs.AccessDenied("http auth", "unknown token")
	}
	return principal, nil
}

// Verify adapts the token table to the hub's authenticator contract.
func (a *TokenAuthorizer) Verify(_ context.Context, token, subscriberID, customerID string) (hub.Identity, error) {
	principal, ok := a.tokens[strings.TrimSpace(token)]
	if !ok {
		return hub.Identity{}, errs.AccessDenied("http auth", "unknown token")
	}
	identity := hub.Identity{
		SubscriberID: principal.SubscriberID,
		CustomerID:   principal.CustomerID,
		Operator:     principal.AtLeast(RoleOperator),
	}
	if identity.SubscriberID == "" {
		identity.SubscriberID = subscriberID
	}
	if identity.CustomerID == "" {
		identity.CustomerID = customerID
	}
	return identity, nil
}
