package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/slidestream-backend/internal/pkg/ctxutil"
	apperr "github.com/yungbote/slidestream-backend/internal/pkg/errors"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
)

func newVerifier(t *testing.T, cfg Config) *Verifier {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = "test-secret"
	}
	v, err := NewVerifier(logger.Nop(), cfg)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestSignVerifyRoundTrip(t *testing.T) {
	v := newVerifier(t, Config{Issuer: "accounts", Audience: "slidestream"})
	user := uuid.New()
	tok, err := v.Sign(user, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ctx, err := v.SetContextFromToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	if ctxutil.UserID(ctx) != user || ctxutil.SessionID(ctx) == uuid.Nil {
		t.Fatalf("identity not attached")
	}
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier(t, Config{})
	other := newVerifier(t, Config{Secret: "other-secret"})
	user := uuid.New()

	expired, _ := v.Sign(user, -time.Hour)
	forged, _ := other.Sign(user, time.Minute)
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: user.String()}}).SignedString([]byte("test-secret"))
	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString([]byte("test-secret"))

	for name, tok := range map[string]string{
		"expired":     expired,
		"forged":      forged,
		"no expiry":   noExp,
		"bad subject": badSubject,
		"garbage":     "a.b.c",
	} {
		if _, err := v.Verify(tok); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Fatalf("%s: want unauthorized, got %v", name, err)
		}
	}
}

func TestSessionIDStableWithoutJTI(t *testing.T) {
	if sessionID("", "tok") != sessionID("", "tok") {
		t.Fatalf("derived session id should be stable")
	}
	if sessionID("", "tok") == sessionID("", "other") {
		t.Fatalf("different tokens should map to different sessions")
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(logger.Nop(), Config{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}
