package pos

import (
	"errors"
	"fmt"
	"time"
	"wisppos-backend/services/wisphub"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Username                string         `json:"username"`
	PointOfSaleName         string         `json:"pointOfSaleName"`
	PointOfSaleFriendlyName string         `json:"pointOfSaleFriendlyName"`
	AvailablePlans          []wisphub.Plan `json:"availablePlans"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

func NewTokenIssuer(secret string, lifetime time.Duration) TokenIssuer {
	return TokenIssuer{
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      time.Now,
	}
}

func (i TokenIssuer) Issue(claims Claims) (string, error) {
	now := i.now()
	claims.Subject = claims.Username
	claims.IssuedAt = jwt.NewNumericDate(now)
	if i.lifetime > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.lifetime))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i TokenIssuer) Parse(raw string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(
		raw, &claims,
		func(token *jwt.Token) (any, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Username == "" {
		return Claims{}, fmt.Errorf("%w: missing username", ErrInvalidToken)
	}
	return claims, nil
}
