package security

import (
	"strings"
	"testing"
)

func TestHashSecretAndVerifySuccess(t *testing.T) {
	secret := "correct horse battery staple"

	encoded, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret returned error: %v", err)
	}
	if encoded == "" {
		t.Fatal("HashSecret returned empty string")
	}

	parts := strings.Split(encoded, ":")
	if len(parts) != 2 {
		t.Fatalf("unexpected hash format: %q", encoded)
	}

	ok, err := VerifySecret(secret, encoded)
	if err != nil {
		t.Fatalf("VerifySecret returned error: %v", err)
	}
	if !ok {
		t.Fatal("VerifySecret returned false for correct secret")
	}
}

func TestVerifySecretIncorrectSecret(t *testing.T) {
	encoded, err := HashSecret("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashSecret returned error: %v", err)
	}

	ok, err := VerifySecret("Tr0ub4dor&3", encoded)
	if err != nil {
		t.Fatalf("VerifySecret returned error: %v", err)
	}
	if ok {
		t.Fatal("VerifySecret returned true for incorrect secret")
	}
}

func TestVerifySecretInvalidFormat(t *testing.T) {
	if _, err := VerifySecret("secret", "invalid-format"); err == nil {
		t.Fatal("VerifySecret expected to return error for invalid format")
	}
}

func TestVerifySecretEmptyInputs(t *testing.T) {
	ok, err := VerifySecret("", "")
	if err != nil {
		t.Fatalf("VerifySecret returned error for empty inputs: %v", err)
	}
	if ok {
		t.Fatal("VerifySecret should return false for empty inputs")
	}
}

func TestHashSecretSaltsEveryCall(t *testing.T) {
	first, err := HashSecret("same secret")
	if err != nil {
		t.Fatalf("HashSecret returned error: %v", err)
	}
	second, err := HashSecret("same secret")
	if err != nil {
		t.Fatalf("HashSecret returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct salts to produce distinct encodings")
	}
}
