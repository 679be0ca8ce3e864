package auth

import (
	"context"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

// Leeway for JWT expiration checks.
const jwtLeeway = 5 * time.Second

// Claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	Email    string           `json:"email,omitempty"`
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`
}

// Session describes the subject of a new token.
type Session struct {
	UserID string
	Email  string

	// Generated when empty.
	SessionID string

	// Defaults to now.
	AuthTime time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock overrides the signer's time source.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// WithBlocklist makes Verify reject sessions that were revoked.
func WithBlocklist(bl Blocklist) SignerOption {
	return func(s *Signer) {
		s.blocklist = bl
	}
}

// Signer issues and verifies session tokens. Issuer and audience are both the
// service name, so tokens are only accepted by the service that minted them.
type Signer struct {
	key       []byte
	issuer    string
	now       func() time.Time
	blocklist Blocklist
}

// NewSigner returns a signer using key for HMAC-SHA256.
func NewSigner(key []byte, issuer string, opts ...SignerOption) (*Signer, error) {
	if len(key) == 0 {
		return nil, errors.NewC("auth: signing key is required", codes.FailedPrecondition)
	}
	s := &Signer{key: key, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign returns a token for the session, valid for ttl.
func (s *Signer) Sign(session Session, ttl time.Duration) (string, error) {
	now := s.now()
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	if session.AuthTime.IsZero() {
		session.AuthTime = now
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.SessionID,
			Subject:   session.UserID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    session.Email,
		AuthTime: jwt.NewNumericDate(session.AuthTime),
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", errors.WrapPrefix(err, "auth: sign session", 0)
	}
	return ss, nil
}

// Parse validates a token and returns its claims.
func (s *Signer) Parse(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (any, error) {
			return s.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.issuer),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		logging.Debugw(ctx, "auth: session token rejected", "error", err)
		return nil, errors.Mark(ErrInvalidToken, 0)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errors.Mark(ErrInvalidToken, 0)
	}

	if s.blocklist != nil {
		blocked, err := s.blocklist.IsBlocked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, errors.Mark(ErrRevoked, 0)
		}
	}
	return claims, nil
}

// Verify implements SessionVerifier.
func (s *Signer) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	claims, err := s.Parse(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	p := &Principal{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Kind:      CredentialSession,
		SessionID: claims.ID,
	}
	if claims.AuthTime != nil {
		p.AuthTime = claims.AuthTime.Time
	}
	return p, nil
}

// Revoke blocks the token's session until it would have expired anyway.
// Tokens that no longer verify are ignored.
func (s *Signer) Revoke(ctx context.Context, tokenString string) error {
	if s.blocklist == nil {
		return nil
	}
	claims, err := s.Parse(ctx, tokenString)
	if err != nil {
		return nil
	}
	return s.blocklist.Block(ctx, claims.ID, claims.ExpiresAt.Time)
}
