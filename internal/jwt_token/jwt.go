// Package jwttoken issues and validates the signed status attestations the
// certificate verifier hands to relying parties. Tokens carry only the
// pseudonymous identity and the derived married flag, never registry records.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "conubium/pkg/domain-errors"
)

// StatusClaims are the JWT claims of one status attestation.
type StatusClaims struct {
	Identity   string `json:"identity"`
	IsMarried  bool   `json:"is_married"`
	MarriageID string `json:"marriage_id,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and validates status attestations with a shared HMAC key.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewService(signingKey string, issuer string, audience string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// IssueStatusAttestation signs a short-lived assertion of one identity's
// civil status. MarriageID may be empty for unmarried identities.
func (s *Service) IssueStatusAttestation(
	identity string,
	isMarried bool,
	marriageID string,
	expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, StatusClaims{
		Identity:   identity,
		IsMarried:  isMarried,
		MarriageID: marriageID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// ValidateStatusAttestation checks the signature and expiry of an attestation
// and returns its claims.
func (s *Service) ValidateStatusAttestation(tokenString string) (*StatusClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &StatusClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "attestation has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid attestation")
	}

	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid attestation")
	}

	claims, ok := parsed.Claims.(*StatusClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid attestation claims")
	}

	return claims, nil
}
