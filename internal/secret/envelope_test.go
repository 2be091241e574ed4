package secret

import (
	"errors"
	"testing"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	env, err := New("test-app-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}

	const apiKey = "sk-some-upstream-provider-key"
	ct, err := env.Seal(apiKey, salt)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if string(ct) == apiKey {
		t.Fatal("ciphertext must not equal plaintext")
	}

	pt, err := env.Open(ct, salt)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pt != apiKey {
		t.Errorf("expected %q, got %q", apiKey, pt)
	}
}

func TestOpen_WrongSaltFails(t *testing.T) {
	env, err := New("test-app-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	salt, _ := NewSalt()
	other, _ := NewSalt()

	ct, err := env.Seal("sk-abc", salt)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := env.Open(ct, other); err == nil {
		t.Error("expected decryption error when opening with the wrong salt")
	}
}

func TestOpen_WrongSecretFails(t *testing.T) {
	sealer, _ := New("app-secret-one")
	opener, _ := New("app-secret-two")
	salt, _ := NewSalt()

	ct, err := sealer.Seal("sk-abc", salt)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	_, err = opener.Open(ct, salt)
	if err == nil {
		t.Fatal("expected decryption error when opening under a different application secret")
	}
	var decErr *DecryptionError
	if !errors.As(err, &decErr) {
		t.Errorf("expected *DecryptionError, got %T", err)
	}
}

func TestNewSalt_Unique(t *testing.T) {
	a, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	b, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if a == b {
		t.Error("expected two distinct salts")
	}
}

func TestFailedToCreateKeyError_HTTPStatus(t *testing.T) {
	err := &FailedToCreateKeyError{Cause: errTest}
	if err.HTTPStatus() != 500 {
		t.Errorf("expected 500, got %d", err.HTTPStatus())
	}
	if err.Unwrap() != errTest {
		t.Error("Unwrap should return the cause")
	}
}

func TestDecryptionError_HTTPStatus(t *testing.T) {
	err := &DecryptionError{Cause: errTest}
	if err.HTTPStatus() != 500 {
		t.Errorf("expected 500, got %d", err.HTTPStatus())
	}
}

var errTest = errors.New("boom")
