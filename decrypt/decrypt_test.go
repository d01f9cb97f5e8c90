package decrypt_test

import (
	"bytes"
	"testing"

	"github.com/mycophonic/pinna/decrypt"
)

func TestAESCTRReferenceRoundTrip(t *testing.T) {
	t.Parallel()

	d := decrypt.NewAESCTRReference()

	var kid decrypt.KeyID
	copy(kid[:], "0123456789abcdef")

	key := []byte("thisis16bytekey!")

	if err := d.SetKey(kid, key); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	iv := make([]byte, 8)
	copy(iv, "iv123456")

	plaintext := []byte("hello, this is a plaintext sample buffer!!")

	ciphertext := append([]byte(nil), plaintext...)
	if err := d.Decrypt(kid, iv, ciphertext); err != nil {
		t.Fatalf("Decrypt (encrypt pass): %v", err)
	}

	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext equals plaintext; CTR stream had no effect")
	}

	// AES-CTR is symmetric: decrypting again with the same IV recovers
	// the original bytes.
	recovered := append([]byte(nil), ciphertext...)
	if err := d.Decrypt(kid, iv, recovered); err != nil {
		t.Fatalf("Decrypt (decrypt pass): %v", err)
	}

	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("recovered = %q, want %q", recovered, plaintext)
	}
}

func TestAESCTRReferenceUnknownKey(t *testing.T) {
	t.Parallel()

	d := decrypt.NewAESCTRReference()

	var kid decrypt.KeyID

	data := []byte("data")
	if err := d.Decrypt(kid, make([]byte, 8), data); err == nil {
		t.Fatal("Decrypt: expected error for unregistered key ID")
	}
}

func TestSetKeyWrongLength(t *testing.T) {
	t.Parallel()

	d := decrypt.NewAESCTRReference()

	var kid decrypt.KeyID
	if err := d.SetKey(kid, []byte("tooshort")); err == nil {
		t.Fatal("SetKey: expected error for non-16-byte key")
	}
}
