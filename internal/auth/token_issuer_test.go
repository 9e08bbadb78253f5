package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "todosync-api",
		Audience:      "todosync-client",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
}

func TestTokenIssuerIssuesAPITokens(t *testing.T) {
	issuer := newTestIssuer(nil)

	tokenString, err := issuer.IssueToken(123)
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "todosync-api" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "todosync-client" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token identifier claim")
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{})
	if _, err := issuer.IssueToken(1); err == nil {
		t.Fatalf("expected issuance to fail without a secret")
	}
	if _, err := issuer.ValidateToken("whatever"); err == nil {
		t.Fatalf("expected validation to fail without a secret")
	}
}

func TestTokenIssuerRejectsZeroSubject(t *testing.T) {
	issuer := newTestIssuer(nil)
	if _, err := issuer.IssueToken(0); err == nil {
		t.Fatalf("expected issuance to fail for an absent account")
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := newTestIssuer(nil)

	tokenString, err := issuer.IssueToken(321)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	userID, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if userID != 321 {
		t.Fatalf("unexpected account identifier %d", userID)
	}

	if _, err = issuer.ValidateToken("invalid.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignSecret(t *testing.T) {
	issuer := newTestIssuer(nil)
	foreign := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("different-secret"),
		Issuer:        "todosync-api",
		Audience:      "todosync-client",
	})

	tokenString, err := foreign.IssueToken(1)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := issuer.ValidateToken(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestTokenIssuerRejectsWrongAudience(t *testing.T) {
	issuer := newTestIssuer(nil)
	foreign := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "todosync-api",
		Audience:      "some-other-service",
	})

	tokenString, err := foreign.IssueToken(1)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := issuer.ValidateToken(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong audience, got %v", err)
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	issuer := newTestIssuer(func() time.Time { return now })

	tokenString, err := issuer.IssueToken(1)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	now = now.Add(31 * time.Minute)
	if _, err := issuer.ValidateToken(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}
