package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"storefront/pkg/domain/model"
)

var ErrInvalidToken = model.NewError(model.ErrUnauthorized, "invalid or expired token")

// Claims are the storefront-specific JWT claims. Override grants forced
// order status changes.
type Claims struct {
	Role     model.Role `json:"role"`
	Override bool       `json:"override,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewIssuer(secret, issuer string) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

func (i *Issuer) Issue(principal model.Principal, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Role:     principal.Role,
		Override: principal.CanOverride,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.Subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return token, nil
}

// Verify parses a signed token and returns the principal it carries.
func (i *Issuer) Verify(token string) (model.Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return model.Principal{}, ErrInvalidToken
	}
	if i.issuer != "" && !claims.VerifyIssuer(i.issuer, true) {
		return model.Principal{}, ErrInvalidToken
	}
	return model.Principal{
		Subject:     claims.Subject,
		Role:        claims.Role,
		CanOverride: claims.Override,
	}, nil
}
