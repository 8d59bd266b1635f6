package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoViewer     = errors.New("no user id configured and none found in the token")
)

// Claims is the subset of the access token the client reads.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	PhoneNumber string `json:"phone_number"`
}

// Identity is the signed-in user: a viewer id plus the bearer token sent to
// the backend. The token is not verified here; the backend does that.
type Identity struct {
	userID int64
	token  string
	claims *Claims
}

// New resolves the viewer. A configured userID wins over the token's
// claims; otherwise user_id, then a numeric subject, is used.
func New(token string, userID int64) (*Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	id := &Identity{userID: userID, token: token}

	if token != "" {
		claims, err := ParseClaims(token)
		if err != nil {
			return nil, err
		}
		if exp := claims.ExpiresAt; exp != nil && exp.Before(time.Now()) {
			return nil, ErrExpiredToken
		}
		id.claims = claims

		if id.userID == 0 {
			id.userID = claims.ViewerID()
		}
	}

	if id.userID <= 0 {
		return nil, ErrNoViewer
	}
	return id, nil
}

// ParseClaims decodes token without checking its signature.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// ViewerID returns the numeric user id carried by the claims, or 0.
func (c *Claims) ViewerID() int64 {
	for _, s := range []string{c.UserID, c.Subject} {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func (i *Identity) ViewerID() int64 { return i.userID }

// Token returns the raw bearer token, or "" when none is configured.
func (i *Identity) Token() string { return i.token }

// Claims returns the decoded token claims, or nil without a token.
func (i *Identity) Claims() *Claims { return i.claims }

// DisplayName is the best human label for the signed-in user.
func (i *Identity) DisplayName() string {
	if i.claims != nil {
		switch {
		case i.claims.Username != "":
			return i.claims.Username
		case i.claims.PhoneNumber != "":
			return i.claims.PhoneNumber
		}
	}
	return "user " + strconv.FormatInt(i.userID, 10)
}
