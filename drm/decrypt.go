package drm

import (
	"crypto/aes"
	"crypto/cipher"
)

// DecryptSample decrypts one audio access unit (spec §4.F): the IV resets
// to file_iv for every call, since Audible encrypts each sample
// independently rather than chaining across samples. Only the
// block-aligned prefix is encrypted; any trailing partial-block bytes are
// stored unencrypted in the source and are copied through verbatim.
func DecryptSample(ciphertext []byte, key, iv [16]byte) ([]byte, error) {
	n := len(ciphertext)
	aligned := n - (n % aes.BlockSize)

	if aligned == 0 {
		out := make([]byte, n)
		copy(out, ciphertext)

		return out, nil
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, n)
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(plaintext[:aligned], ciphertext[:aligned])
	copy(plaintext[aligned:], ciphertext[aligned:])

	return plaintext, nil
}
