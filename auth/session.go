// Package auth carries the explicit session identity handed to the engine.
// There is no ambient current-user state: whoever constructs an engine must
// provide a Session.
package auth

import (
	"time"

	"duochat/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Session is the logged-in participant plus the bearer token used against
// the remote store. Immutable once issued.
type Session struct {
	Profile domain.Profile
	Token   string
}

func (s Session) UserID() uuid.UUID {
	return s.Profile.ID
}

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 session tokens. The secret comes
// from configuration, never from source.
type TokenService struct {
	secret   []byte
	duration time.Duration
}

func NewTokenService(secret string, duration time.Duration) TokenService {
	return TokenService{secret: []byte(secret), duration: duration}
}

// Issue creates a signed JWT and wraps it with the profile into a Session.
func (t TokenService) Issue(profile domain.Profile) (Session, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: profile.ID.String(),
		Email:  profile.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "duochat",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return Session{}, err
	}
	return Session{Profile: profile, Token: signed}, nil
}

// Validate parses and checks the signature and expiration of a token string.
func (t TokenService) Validate(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}
