package auth

import (
	"net/http"

	"github.com/pkg/errors"
)

// Principal is the verified identity of a connection. User is nil when no
// user directory is configured.
type Principal struct {
	ID   string
	User *User
}

// Subject implements registry.Identity.
func (p *Principal) Subject() string { return p.ID }

// Gate authenticates upgrade requests.
type Gate struct {
	signer *Signer
	users  UserStore
}

// NewGate creates a gate. users may be nil, in which case any verified
// subject is accepted without a user record.
func NewGate(signer *Signer, users UserStore) *Gate {
	return &Gate{signer: signer, users: users}
}

// Authenticate verifies the request's bearer token and resolves its subject.
func (g *Gate) Authenticate(r *http.Request) (*Principal, error) {
	subject, err := g.signer.VerifyRequest(r)
	if err != nil {
		return nil, err
	}

	p := &Principal{ID: subject}
	if g.users == nil {
		return p, nil
	}

	user, err := g.users.UserByID(r.Context(), subject)
	if err != nil {
		return nil, errors.Wrap(err, "resolve subject")
	}
	p.User = user
	return p, nil
}
