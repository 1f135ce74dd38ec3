package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clipsafe/internal/services"
)

// LinkClaims binds a download token to exactly one artifact.
type LinkClaims struct {
	jwt.RegisteredClaims
	JobID string `json:"job"`
	Name  string `json:"name"`
}

// Signer issues and verifies download tokens for the local backend.
type Signer struct {
	secret  []byte
	baseURL string
}

// NewSigner returns nil when either the secret or the base URL is empty.
func NewSigner(secret, baseURL string) *Signer {
	secret = strings.TrimSpace(secret)
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if secret == "" || baseURL == "" {
		return nil
	}
	return &Signer{secret: []byte(secret), baseURL: baseURL}
}

// Token signs loc with an HS256 JWT that expires at expiresAt.
func (s *Signer) Token(loc Location, expiresAt time.Time) (string, error) {
	claims := LinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   loc.Key(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		JobID: loc.JobID,
		Name:  loc.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign link: %w", err)
	}
	return signed, nil
}

// URL returns "<base>/<job>/<name>?token=<jwt>".
func (s *Signer) URL(loc Location, expiresAt time.Time) (string, error) {
	token, err := s.Token(loc, expiresAt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s?token=%s", s.baseURL,
		url.PathEscape(loc.JobID), url.PathEscape(loc.Name), url.QueryEscape(token)), nil
}

// Verify checks that token is valid now and names loc.
func (s *Signer) Verify(token string, loc Location) error {
	claims := &LinkClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return services.Wrap(services.ErrNotFound, "storage", "verify link", "link expired", err)
		}
		return services.Wrap(services.ErrInvalidParameters, "storage", "verify link", "invalid link", err)
	}
	if !parsed.Valid || claims.JobID != loc.JobID || claims.Name != loc.Name {
		return services.Wrap(services.ErrInvalidParameters, "storage", "verify link", "link does not match artifact", nil)
	}
	return nil
}
