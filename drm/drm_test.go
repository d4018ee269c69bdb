package drm_test

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" //nolint:gosec // building a reference fixture against Audible's SHA-1-based KDF
	"testing"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/drm"
)

// buildAdrm constructs a reference adrm blob the way Audible's own encoder
// would, independent of the package under test: it computes ik/iv itself
// (duplicating the two SHA-1 calls spec §4.E describes) and AES-encrypts a
// chosen plaintext whose fields DeriveKeys is expected to recover.
func buildAdrm(t *testing.T, activation unchain.ActivationValue, fileKey, ivSeed [16]byte) unchain.AdrmBlob {
	t.Helper()

	ikFull := sha1.Sum(append(append([]byte{}, unchain.FixedKey[:]...), activation[:]...)) //nolint:gosec
	var ik [16]byte
	copy(ik[:], ikFull[:16])

	ivInput := append(append([]byte{}, unchain.FixedKey[:]...), ik[:]...)
	ivInput = append(ivInput, activation[:]...)
	ivFull := sha1.Sum(ivInput) //nolint:gosec
	var iv [16]byte
	copy(iv[:], ivFull[:16])

	reversed := activation.Reversed()

	dec := make([]byte, 48)
	copy(dec[0:4], reversed[:])
	copy(dec[8:24], fileKey[:])
	copy(dec[26:42], ivSeed[:])

	block, err := aes.NewCipher(ik[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}

	enc := make([]byte, 48)
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(enc, dec)

	checksum := sha1.Sum(append(append([]byte{}, ik[:]...), iv[:]...)) //nolint:gosec

	blob := make([]byte, unchain.MinAdrmLen)
	copy(blob[8:56], enc)
	copy(blob[68:88], checksum[:])

	return unchain.AdrmBlob(blob)
}

func TestValidateAndDeriveKeysRoundTrip(t *testing.T) {
	t.Parallel()

	activation, err := unchain.ParseActivation("1ceb00da")
	if err != nil {
		t.Fatalf("ParseActivation: %v", err)
	}

	var fileKey, ivSeed [16]byte
	for i := range fileKey {
		fileKey[i] = byte(i + 1)
	}

	for i := range ivSeed {
		ivSeed[i] = byte(200 + i)
	}

	adrm := buildAdrm(t, activation, fileKey, ivSeed)

	if !drm.Validate(adrm, activation) {
		t.Fatal("expected activation to validate against its own fixture")
	}

	keys, err := drm.DeriveKeys(adrm, activation)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	if keys.Key != fileKey {
		t.Fatalf("Key = %x, want %x", keys.Key, fileKey)
	}

	wantIV := sha1.Sum(append(append([]byte{}, ivSeed[:]...), append(fileKey[:], unchain.FixedKey[:]...)...)) //nolint:gosec
	if !bytes.Equal(keys.IV[:], wantIV[:16]) {
		t.Fatalf("IV = %x, want %x", keys.IV, wantIV[:16])
	}
}

func TestValidateRejectsWrongActivation(t *testing.T) {
	t.Parallel()

	activation, _ := unchain.ParseActivation("1ceb00da")
	wrong, _ := unchain.ParseActivation("deadbeef")

	var fileKey, ivSeed [16]byte

	adrm := buildAdrm(t, activation, fileKey, ivSeed)

	if drm.Validate(adrm, wrong) {
		t.Fatal("expected wrong activation to fail validation")
	}

	if _, err := drm.DeriveKeys(adrm, wrong); err == nil {
		t.Fatal("expected DeriveKeys to fail for an unvalidated activation")
	}
}

func TestValidateRejectsShortAdrm(t *testing.T) {
	t.Parallel()

	activation, _ := unchain.ParseActivation("1ceb00da")

	if drm.Validate(unchain.AdrmBlob(make([]byte, 10)), activation) {
		t.Fatal("expected a too-short adrm blob to be rejected")
	}
}

func TestDecryptSampleBlockAlignedAndPartial(t *testing.T) {
	t.Parallel()

	var key, iv [16]byte
	for i := range key {
		key[i] = byte(i)
		iv[i] = byte(i + 1)
	}

	plaintext := []byte("sixteen-byte-01!sixteen-byte-02!trailing")

	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}

	aligned := len(plaintext) - (len(plaintext) % aes.BlockSize)

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(ciphertext[:aligned], plaintext[:aligned])
	copy(ciphertext[aligned:], plaintext[aligned:])

	got, err := drm.DecryptSample(ciphertext, key, iv)
	if err != nil {
		t.Fatalf("DecryptSample: %v", err)
	}

	if !bytes.Equal(got, plaintext) {
		t.Fatalf("DecryptSample = %q, want %q", got, plaintext)
	}
}

func TestDecryptSampleTooShortForAnyBlock(t *testing.T) {
	t.Parallel()

	var key, iv [16]byte

	short := []byte{1, 2, 3}

	got, err := drm.DecryptSample(short, key, iv)
	if err != nil {
		t.Fatalf("DecryptSample: %v", err)
	}

	if !bytes.Equal(got, short) {
		t.Fatalf("DecryptSample = %v, want unchanged %v", got, short)
	}
}
