package account

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/chatrelay/pkg/jwt"
)

// Identity extracts the authenticated user id from a request whose token
// was already validated by the JWT middleware. Satisfies the identity
// function signature the billing access gate expects.
func Identity(r *http.Request) (uuid.UUID, bool) {
	claims, ok := jwt.GetClaims[jwt.StandardClaims](r.Context())
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
