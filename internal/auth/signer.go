package auth

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang-jwt/jwt/v5/request"
	"github.com/pkg/errors"
)

var (
	ErrMissingToken = errors.New("no bearer token in request")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("token secret is not configured")
)

// TokenQueryParam is the query parameter accepted as a fallback for clients
// that cannot set headers on a WebSocket upgrade.
const TokenQueryParam = "token"

// tokenExtractor reads the Authorization header (with or without the Bearer
// prefix) and falls back to the token query parameter.
var tokenExtractor = request.MultiExtractor{
	request.AuthorizationHeaderExtractor,
	request.ArgumentExtractor{TokenQueryParam},
}

// Signer issues and verifies HS256 tokens for a single issuer.
type Signer struct {
	secret []byte
	issuer string
	parser *jwt.Parser
	now    func() time.Time
}

// NewSigner creates a signer. An empty secret makes every verification fail.
func NewSigner(secret, issuer string) *Signer {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Signer{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(opts...),
		now:    time.Now,
	}
}

// Issue returns a token for subject that expires after ttl.
func (s *Signer) Issue(subject string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return signed, errors.Wrap(err, "sign token")
}

// Verify checks signature, issuer and expiry and returns the token subject.
func (s *Signer) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := s.parser.ParseWithClaims(token, claims, s.key)
	return s.subject(parsed, claims, err)
}

// VerifyRequest extracts the bearer token from r and verifies it.
func (s *Signer) VerifyRequest(r *http.Request) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := request.ParseFromRequest(r, tokenExtractor, s.key,
		request.WithClaims(claims),
		request.WithParser(s.parser),
	)
	if errors.Is(err, request.ErrNoTokenInRequest) {
		return "", ErrMissingToken
	}
	return s.subject(parsed, claims, err)
}

func (s *Signer) key(*jwt.Token) (interface{}, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoSecret
	}
	return s.secret, nil
}

func (s *Signer) subject(token *jwt.Token, claims *jwt.RegisteredClaims, err error) (string, error) {
	if err != nil {
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if token == nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", errors.Wrap(ErrInvalidToken, "token has no subject")
	}
	return claims.Subject, nil
}
