/*
auth.go - Caller identity for the HTTP API

PURPOSE:
  Every ledger write records who did it, and every read is confined to the
  caller's company. Identity resolves to (company, actor) once per request
  and rides on the request context.

MODES:
  JWT (secret configured):
    Authorization: Bearer <HS256 token>
    claims: company_id, sub (actor id), name (actor name), iss
  Headers (empty secret, local and demo use only):
    X-Company-ID, X-Actor-ID, X-Actor-Name

SEE ALSO:
  - handlers.go: identityFrom(r) at the top of each handler
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/harvest-ledger/harvest"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the resolved caller.
type Identity struct {
	CompanyID string
	Actor     harvest.Actor
}

// Scope narrows the caller's company to one project and crop.
func (id Identity) Scope(projectID, cropType string) harvest.Scope {
	return harvest.Scope{CompanyID: id.CompanyID, ProjectID: projectID, CropType: cropType}
}

type Claims struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{Secret: []byte(secret), Issuer: issuer, Now: time.Now}
}

func (a *Authenticator) jwtEnabled() bool {
	return a != nil && len(a.Secret) > 0
}

// Issue signs a token for the given identity. Used by tooling and tests.
func (a *Authenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	if !a.jwtEnabled() {
		return "", errors.New("jwt secret not configured")
	}
	now := a.Now()
	claims := Claims{
		CompanyID: id.CompanyID,
		Name:      id.Actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Actor.ID,
			Issuer:    a.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

func (a *Authenticator) parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.Now),
	}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// Resolve extracts the caller from the request.
func (a *Authenticator) Resolve(r *http.Request) (Identity, error) {
	var id Identity
	if a.jwtEnabled() {
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return id, fmt.Errorf("%w: bearer token required", ErrUnauthenticated)
		}
		claims, err := a.parse(parts[1])
		if err != nil {
			return id, err
		}
		id = Identity{
			CompanyID: claims.CompanyID,
			Actor:     harvest.Actor{ID: claims.Subject, Name: claims.Name},
		}
	} else {
		id = Identity{
			CompanyID: r.Header.Get("X-Company-ID"),
			Actor: harvest.Actor{
				ID:   r.Header.Get("X-Actor-ID"),
				Name: r.Header.Get("X-Actor-Name"),
			},
		}
	}

	if id.CompanyID == "" {
		return Identity{}, fmt.Errorf("%w: company_id missing", ErrUnauthenticated)
	}
	if id.Actor.ID == "" {
		id.Actor = harvest.System
	}
	return id, nil
}

type identityKey struct{}

// Middleware resolves the caller and rejects the request with 401 if it cannot.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func identityFrom(r *http.Request) Identity {
	id, _ := r.Context().Value(identityKey{}).(Identity)
	return id
}
