// Package drm implements Audible's DRM validator, key deriver, and
// per-sample decryptor (spec §4.E, §4.F). All hashing is SHA-1; all
// symmetric crypto is AES-128-CBC with padding disabled.
//
// No example repo implements Audible's key-derivation pipeline, so unlike
// most of this module, this package is not stylistically grounded on any
// of them — it follows the spec's byte-exact description directly. It does
// follow the teacher's error-handling shape: Validate is a predicate that
// never errors on a well-formed 4-byte activation (mirroring
// farcloser-saprobe's sentinel-returning helpers in types.go), and
// DeriveKeys wraps every failure in a sentinel from this module's own
// errors.go the way the teacher wraps codec errors.
package drm

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" //nolint:gosec // Audible's KDF is specified in terms of SHA-1; this is not a choice.
	"fmt"

	"github.com/mycophonic/unchain"
)

// Validate reports whether activation unlocks adrm, per spec §4.E's
// checksum comparison. It never errors: a structurally invalid adrm (too
// short) is simply not valid.
func Validate(adrm unchain.AdrmBlob, activation unchain.ActivationValue) bool {
	if !adrm.Valid() {
		return false
	}

	ik, iv := intermediateKeys(activation)
	computed := sha1Sum(append(append([]byte{}, ik[:]...), iv[:]...))

	return bytes.Equal(computed, adrm.Checksum())
}

// DeriveKeys derives the per-file AES key/IV from a validated activation
// (spec §4.E). Callers must call Validate first; DeriveKeys re-derives the
// intermediate keys itself rather than trust a caller-supplied pair.
func DeriveKeys(adrm unchain.AdrmBlob, activation unchain.ActivationValue) (unchain.FileKeys, error) {
	if !adrm.Valid() {
		return unchain.FileKeys{}, fmt.Errorf("%w: adrm blob too short", unchain.ErrMalformedContainer)
	}

	ik, iv := intermediateKeys(activation)

	block, err := aes.NewCipher(ik[:])
	if err != nil {
		return unchain.FileKeys{}, fmt.Errorf("%w: constructing AES cipher: %v", unchain.ErrActivationMismatch, err)
	}

	enc := adrm.EncryptedPayload()
	if len(enc)%aes.BlockSize != 0 {
		return unchain.FileKeys{}, fmt.Errorf("%w: encrypted key payload is not block-aligned", unchain.ErrMalformedContainer)
	}

	dec := make([]byte, len(enc))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(dec, enc)

	reversed := activation.Reversed()
	if !bytes.Equal(dec[0:4], reversed[:]) {
		return unchain.FileKeys{}, fmt.Errorf("%w: activation does not unlock this file", unchain.ErrActivationMismatch)
	}

	var keys unchain.FileKeys

	copy(keys.Key[:], dec[8:24])

	ivSeed := sha1Sum(append(append([]byte{}, dec[26:42]...), append(keys.Key[:], unchain.FixedKey[:]...)...))
	copy(keys.IV[:], ivSeed[:16])

	return keys, nil
}

// intermediateKeys computes ik/iv from the fixed constant and an
// activation value (spec §4.E's "Intermediate derivation").
func intermediateKeys(activation unchain.ActivationValue) (ik, iv [16]byte) {
	ikFull := sha1Sum(append(append([]byte{}, unchain.FixedKey[:]...), activation[:]...))
	copy(ik[:], ikFull[:16])

	ivSeed := append(append([]byte{}, unchain.FixedKey[:]...), ik[:]...)
	ivSeed = append(ivSeed, activation[:]...)
	ivFull := sha1Sum(ivSeed)
	copy(iv[:], ivFull[:16])

	return ik, iv
}

func sha1Sum(b []byte) []byte {
	sum := sha1.Sum(b) //nolint:gosec

	return sum[:]
}
