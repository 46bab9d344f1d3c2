// Package session models the locally persisted login that gates the
// notification client. The token is issued by the portal backend; the
// client only inspects its claims and never verifies the signature.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrExpired is returned when the token's exp claim lies in the past.
var ErrExpired = errors.New("session token expired")

// Claims are the fields the portal puts into its tokens.
type Claims struct {
	ID    FlexID `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Session is an authenticated portal login.
type Session struct {
	Token     string
	UserID    string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// Parse inspects token without verifying its signature. A token that is
// not a JWT at all is accepted as an opaque session with no expiry.
func Parse(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNoToken
	}

	var claims Claims
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return Session{Token: token}, nil
		}
		return Session{}, fmt.Errorf("parsing session token: %w", err)
	}

	s := Session{
		Token:  token,
		UserID: string(claims.ID),
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if s.UserID == "" {
		s.UserID = claims.Subject
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Valid reports whether the session can be used at now.
func (s Session) Valid(now time.Time) bool {
	return s.Err(now) == nil
}

// Err explains why the session cannot be used, or returns nil.
func (s Session) Err(now time.Time) error {
	if s.Token == "" {
		return ErrNoToken
	}
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// CacheKey identifies the session's user for the local snapshot cache.
// Sessions without a user id are keyed by a name-based UUID of the token,
// so the token itself never reaches the cache.
func (s Session) CacheKey() string {
	if s.UserID != "" {
		return s.UserID
	}
	return "token-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(s.Token)).String()
}

// FlexID accepts a user id encoded as a JSON string or number.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = FlexID(string(data))
	return nil
}
