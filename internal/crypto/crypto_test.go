package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestNewEncryptorRejectsBadKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33} {
		if _, err := NewEncryptor(make([]byte, size)); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("key size %d: err = %v, want ErrInvalidKeySize", size, err)
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e, err := NewEncryptor(testKey())
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	for _, plaintext := range []string{"secret password", "", "unicode: héllo wörld", "tok-with-:-colons"} {
		encrypted, err := e.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		decrypted, err := e.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("round trip = %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	e, _ := NewEncryptor(testKey())
	a, _ := e.Encrypt("same input")
	b, _ := e.Encrypt("same input")
	if a == b {
		t.Error("two encryptions of the same input must differ (random nonce)")
	}
}

func TestDecryptEmptyInput(t *testing.T) {
	e, _ := NewEncryptor(testKey())
	got, err := e.Decrypt("")
	if err != nil || got != "" {
		t.Errorf("Decrypt(\"\") = %q, %v", got, err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	e, _ := NewEncryptor(testKey())

	if _, err := e.Decrypt("not base64 !!!"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("err = %v, want ErrInvalidCiphertext", err)
	}
	if _, err := e.Decrypt("c2hvcnQ="); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("short ciphertext err = %v, want ErrInvalidCiphertext", err)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	e1, _ := NewEncryptor(testKey())
	e2, _ := NewEncryptor(bytes.Repeat([]byte{0x43}, 32))

	encrypted, _ := e1.Encrypt("secret")
	if _, err := e2.Decrypt(encrypted); err == nil {
		t.Error("decrypting with the wrong key must fail")
	}
}
