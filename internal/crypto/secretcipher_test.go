package crypto

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestNewSecretCipher(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		sc, err := NewSecretCipher(testKey())
		if err != nil {
			t.Fatalf("NewSecretCipher() unexpected error: %v", err)
		}
		if sc == nil {
			t.Fatal("NewSecretCipher() returned nil cipher")
		}
	})

	tests := []struct {
		name   string
		keyLen int
	}{
		{"too short (16 bytes)", 16},
		{"too long (64 bytes)", 64},
		{"empty key", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSecretCipher(make([]byte, tt.keyLen))
			if err != ErrKeyLengthInvalid {
				t.Errorf("NewSecretCipher(len=%d) error = %v, want %v", tt.keyLen, err, ErrKeyLengthInvalid)
			}
		})
	}
}

func TestSealAndOpen(t *testing.T) {
	sc, err := NewSecretCipher(testKey())
	if err != nil {
		t.Fatalf("NewSecretCipher() error: %v", err)
	}

	plaintexts := []string{
		"sk-live-abcdef0123456789",
		"basic:user:pa$$word with spaces",
		"unicode: 日本語テスト",
	}

	for _, pt := range plaintexts {
		sealed, err := sc.Seal(pt)
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		if sealed == pt {
			t.Error("Seal() returned plaintext unchanged")
		}

		opened, err := sc.Open(sealed)
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if opened != pt {
			t.Errorf("Open() = %q, want %q", opened, pt)
		}
	}
}

func TestSealEmptyString(t *testing.T) {
	sc, _ := NewSecretCipher(testKey())

	sealed, err := sc.Seal("")
	if err != nil {
		t.Fatalf("Seal(\"\") error: %v", err)
	}
	if sealed != "" {
		t.Errorf("Seal(\"\") = %q, want empty string", sealed)
	}
}

func TestSealNonDeterministic(t *testing.T) {
	sc, _ := NewSecretCipher(testKey())

	s1, _ := sc.Seal("same-secret")
	s2, _ := sc.Seal("same-secret")
	if s1 == s2 {
		t.Error("Seal() produced identical ciphertexts; nonce is not random")
	}
}

func TestOpenErrors(t *testing.T) {
	sc, _ := NewSecretCipher(testKey())

	tests := []struct {
		name       string
		ciphertext string
		wantErr    error
	}{
		{"not base64", "!!!not-base64!!!", ErrCiphertextCorrupted},
		{"too short after decode", "YQ==", ErrCiphertextCorrupted},
		{"random base64 garbage", "dGhpcyBpcyBub3QgYSB2YWxpZCBjaXBoZXJ0ZXh0", ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sc.Open(tt.ciphertext)
			if err != tt.wantErr {
				t.Errorf("Open(%q) error = %v, want %v", tt.ciphertext, err, tt.wantErr)
			}
		})
	}
}

func TestOpenWrongKey(t *testing.T) {
	sc1, _ := NewSecretCipher(bytes.Repeat([]byte("a"), 32))
	sc2, _ := NewSecretCipher(bytes.Repeat([]byte("b"), 32))

	sealed, err := sc1.Seal("secret-data")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	if _, err := sc2.Open(sealed); err != ErrDecryptionFailed {
		t.Errorf("Open() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
}
