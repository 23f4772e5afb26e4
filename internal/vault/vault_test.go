package vault

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("unit-test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	const token = "1//0abcdefg-refresh-token"
	sealed, err := v.Encrypt(token)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if sealed == token {
		t.Fatal("ciphertext equals plaintext")
	}
	got, err := v.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != token {
		t.Errorf("Decrypt = %q, want %q", got, token)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	v, err := New("unit-test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, _ := v.Encrypt("same input")
	b, _ := v.Encrypt("same input")
	if a == b {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	v1, _ := New("key-one")
	v2, _ := New("key-two")
	sealed, err := v1.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := v2.Decrypt(sealed); err == nil {
		t.Error("decryption under a different key should fail")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	v, _ := New("unit-test-secret")
	if _, err := v.Decrypt("not base64!!"); err == nil {
		t.Error("invalid base64 should fail")
	}
	if _, err := v.Decrypt("c2hvcnQ="); err == nil {
		t.Error("too-short ciphertext should fail")
	}
}

func TestFingerprintIsStable(t *testing.T) {
	a := Fingerprint("token-a")
	if a != Fingerprint("token-a") {
		t.Error("fingerprint must be deterministic")
	}
	if a == Fingerprint("token-b") {
		t.Error("distinct tokens must not collide")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}
