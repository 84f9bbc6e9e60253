// Package auth verifies the bearer tokens issued by the account service.
package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	"github.com/yungbote/slidestream-backend/internal/pkg/envutil"
	apperr "github.com/yungbote/slidestream-backend/internal/pkg/errors"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Secret:   envutil.String("JWT_SECRET_KEY", ""),
		Issuer:   envutil.String("JWT_ISSUER", ""),
		Audience: envutil.String("JWT_AUDIENCE", ""),
		Leeway:   envutil.Duration("JWT_LEEWAY", 30*time.Second),
	}
}

type Claims struct {
	jwt.RegisteredClaims
}

// Identity is what a verified token tells us about the caller.
type Identity struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
}

type Verifier struct {
	log    *logger.Logger
	cfg    Config
	parser *jwt.Parser
}

func NewVerifier(log *logger.Logger, cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{
		log:    log.With("service", "TokenVerifier"),
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
	}, nil
}

func (v *Verifier) Verify(tokenString string) (Identity, error) {
	var claims Claims
	token, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(v.cfg.Secret), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return Identity{}, fmt.Errorf("%w: invalid subject", apperr.ErrUnauthorized)
	}
	return Identity{UserID: userID, SessionID: sessionID(claims.ID, tokenString)}, nil
}

// SetContextFromToken verifies the token and attaches the caller to ctx.
func (v *Verifier) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	id, err := v.Verify(tokenString)
	if err != nil {
		return ctx, err
	}
	ctx = ctxutil.WithUserID(ctx, id.UserID)
	return ctxutil.WithSessionID(ctx, id.SessionID), nil
}

// Sign issues a token for userID. The account service normally does this; the
// service uses it for local development and tests.
func (v *Verifier) Sign(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID.String(),
		Issuer:    v.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	if v.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(v.cfg.Secret))
}

// sessionID prefers the token id and otherwise derives a stable id from the token.
func sessionID(jti, token string) uuid.UUID {
	if id, err := uuid.Parse(jti); err == nil && id != uuid.Nil {
		return id
	}
	sum := sha256.Sum256([]byte(token))
	return uuid.NewSHA1(uuid.NameSpaceOID, sum[:])
}
