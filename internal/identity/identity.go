package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role names as the identity system enumerates them. The chat core never
// interprets these beyond equality checks.
const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

// ErrAuthentication is returned for any token that cannot be resolved to
// an identity. Connections failing with it are closed before a session is
// created.
var ErrAuthentication = errors.New("authentication failed")

// Identity is the resolved principal behind a bearer token.
type Identity struct {
	UserID   int64
	Username string
	Roles    []string
}

// Resolver turns a bearer token into an Identity. The chat core only
// depends on this interface; the login flow that issues tokens lives
// elsewhere.
type Resolver interface {
	Resolve(token string) (Identity, error)
}

type claims struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 tokens issued by the dashboard's login
// service and shares its signing secret.
type JWTResolver struct {
	secret []byte
	issuer string
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

// Resolve parses and validates tokenString.
func (r *JWTResolver) Resolve(tokenString string) (Identity, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	return Identity{
		UserID:   c.ID,
		Username: c.Username,
		Roles:    c.Roles,
	}, nil
}

// Issue signs a token for ident, valid for ttl. Used by tooling and tests;
// production tokens come from the login service with the same claims.
func (r *JWTResolver) Issue(ident Identity, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ID:       ident.UserID,
		Username: ident.Username,
		Roles:    ident.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	return token.SignedString(r.secret)
}
