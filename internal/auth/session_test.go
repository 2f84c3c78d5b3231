package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signSessionToken(t *testing.T, claims *SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestValidateLocal_Valid(t *testing.T) {
	v := NewSessionValidator(testSecret, "")

	token := signSessionToken(t, &SessionClaims{
		Email:   "dev@example.com",
		TeamIDs: []string{"team-1", "team-2"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	p, err := v.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if p.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", p.UserID, "user-1")
	}
	if !p.MemberOf("team-2") {
		t.Error("MemberOf(team-2) = false, want true")
	}
	if p.MemberOf("team-9") {
		t.Error("MemberOf(team-9) = true, want false")
	}
}

func TestValidateLocal_Expired(t *testing.T) {
	v := NewSessionValidator(testSecret, "")

	token := signSessionToken(t, &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	if _, err := v.Validate(context.Background(), token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestValidateLocal_WrongSecret(t *testing.T) {
	v := NewSessionValidator("another-secret-another-secret-xx", "")

	token := signSessionToken(t, &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.Validate(context.Background(), token); err == nil {
		t.Error("expected error for wrong signing secret")
	}
}

func TestValidateRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(Principal{
			UserID:  "user-7",
			TeamIDs: []string{"team-1"},
		})
	}))
	defer srv.Close()

	v := NewSessionValidator("", srv.URL)

	p, err := v.Validate(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if p.UserID != "user-7" {
		t.Errorf("UserID = %q, want %q", p.UserID, "user-7")
	}

	if _, err := v.Validate(context.Background(), "bad-token"); err == nil {
		t.Error("expected error for rejected token")
	}
}

func TestValidateRemote_Unconfigured(t *testing.T) {
	v := NewSessionValidator("", "")
	if _, err := v.Validate(context.Background(), "any"); err == nil {
		t.Error("expected error when neither secret nor service URL configured")
	}
}
