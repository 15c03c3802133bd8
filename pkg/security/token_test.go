package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cuemby/hutch/pkg/types"
)

func testUser() *types.User {
	return &types.User{
		ID:       "user-123",
		Username: "alice",
		Role:     types.RoleAdmin,
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService(""); err == nil {
		t.Error("NewTokenService(\"\") should fail")
	}
	if _, err := NewTokenService("test-secret"); err != nil {
		t.Errorf("NewTokenService() error = %v", err)
	}
}

func TestIssueAndVerify(t *testing.T) {
	ts, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	issuedAt := time.Now()
	token, expiresAt, err := ts.Issue(testUser(), issuedAt, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	wantExpiry := issuedAt.Add(time.Hour)
	if !expiresAt.Equal(wantExpiry) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, wantExpiry)
	}

	claims, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("claims.Subject = %q, want %q", claims.Subject, "user-123")
	}
	if claims.Username != "alice" {
		t.Errorf("claims.Username = %q, want %q", claims.Username, "alice")
	}
	if claims.Role != "admin" {
		t.Errorf("claims.Role = %q, want %q", claims.Role, "admin")
	}
}

func TestIssueProducesUniqueTokens(t *testing.T) {
	ts, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	issuedAt := time.Now()
	a, _, err := ts.Issue(testUser(), issuedAt, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	b, _, err := ts.Issue(testUser(), issuedAt, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if a == b {
		t.Error("two tokens issued at the same instant should differ")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	ts, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	issuedAt := time.Now().Add(-2 * time.Hour)
	token, _, err := ts.Issue(testUser(), issuedAt, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := ts.Verify(token); err == nil {
		t.Error("Verify() should reject an expired token")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	ts1, _ := NewTokenService("secret-one")
	ts2, _ := NewTokenService("secret-two")

	token, _, err := ts1.Issue(testUser(), time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := ts2.Verify(token); err == nil {
		t.Error("Verify() should reject a token signed with a different secret")
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	ts, _ := NewTokenService("test-secret")

	// alg=none token for the same claims shape.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Username: "alice",
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	if _, err := ts.Verify(token); err == nil {
		t.Error("Verify() should reject alg=none tokens")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	ts, _ := NewTokenService("test-secret")

	for _, token := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		if _, err := ts.Verify(token); err == nil {
			t.Errorf("Verify(%q) should fail", token)
		}
	}
}

func TestTokenHash(t *testing.T) {
	h1 := TokenHash("token-a")
	h2 := TokenHash("token-a")
	h3 := TokenHash("token-b")

	if h1 != h2 {
		t.Error("TokenHash() is not deterministic")
	}
	if h1 == h3 {
		t.Error("TokenHash() collided for different tokens")
	}
	if len(h1) != 64 {
		t.Errorf("TokenHash() length = %d, want 64 hex chars", len(h1))
	}
}
