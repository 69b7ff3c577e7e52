package handlers

import (
	"testing"

	"github.com/telecare-platform/telecare/libs/auth"
	"github.com/telecare-platform/telecare/services/auth-service/internal/storage"
)

func TestPasswordHashing(t *testing.T) {
	password := "pass123"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

func TestIssueJWTCarriesRole(t *testing.T) {
	signer := NewHS256Signer("test-secret")
	user := storage.User{
		ID:   "user-1",
		Name: "Imane Benali",
		Role: auth.RoleDoctor,
	}
	token, err := issueJWT(user, signer)
	if err != nil {
		t.Fatalf("issueJWT failed: %v", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Sub != "user-1" {
		t.Fatalf("sub = %q, want user-1", claims.Sub)
	}
	if claims.Role != auth.RoleDoctor {
		t.Fatalf("role = %q, want doctor", claims.Role)
	}
	if claims.Name != "Imane Benali" {
		t.Fatalf("name = %q, want Imane Benali", claims.Name)
	}
}
