// Package payload implements the byte-stream transform stack shared by the
// uploader and the agent: zlib compression, zero padding to the AES block
// size, a SHA-1 integrity digest over the compressed-padded bytes, and
// AES-128-ECB encryption with the shared key.
//
// ECB with a single static key is a deliberate minimal-cost choice for a
// constrained device: no IV transport, no per-block chaining state. The
// cost is that repeated plaintext blocks produce repeated ciphertext
// blocks, which is accepted for a firmware blob. The digest provides
// integrity only; authentication comes from possession of the shared key.
package payload

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
)

// DigestSize is the length of the SHA-1 integrity digest.
const DigestSize = sha1.Size

// ErrDigestMismatch is returned when the decrypted payload does not hash to
// the digest the peer transmitted.
var ErrDigestMismatch = errors.New("payload digest mismatch")

// ErrBlockAlignment is returned when the ciphertext length is not a
// multiple of the AES block size.
var ErrBlockAlignment = errors.New("ciphertext length is not a multiple of the cipher block size")

// Encode compresses plain, zero-pads it to the AES block size, computes the
// digest over the compressed-padded bytes, and encrypts with key. This is
// the host-side half of the pipeline; Decode is its exact mirror.
func Encode(plain, key []byte) (digest [DigestSize]byte, ciphertext []byte, err error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err = zw.Write(plain); err != nil {
		return digest, nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err = zw.Close(); err != nil {
		return digest, nil, fmt.Errorf("compressing payload: %w", err)
	}

	padded := pad(buf.Bytes(), aes.BlockSize)
	digest = sha1.Sum(padded)

	ciphertext, err = encryptECB(padded, key)
	if err != nil {
		return digest, nil, err
	}
	return digest, ciphertext, nil
}

// Decode decrypts ciphertext with key, verifies the SHA-1 digest of the
// decrypted bytes against digest, and decompresses. Any failure leaves no
// trace; callers only get plaintext after the integrity check has passed.
func Decode(digest [DigestSize]byte, ciphertext, key []byte) ([]byte, error) {
	decrypted, err := decryptECB(ciphertext, key)
	if err != nil {
		return nil, err
	}

	if sha1.Sum(decrypted) != digest {
		return nil, ErrDigestMismatch
	}

	zr, err := zlib.NewReader(bytes.NewReader(decrypted))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	defer zr.Close()

	// The zlib stream ends before the sender's zero padding; ReadAll
	// stops at the stream boundary and the padding is never consumed.
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	return plain, nil
}

// pad appends zero bytes so len(data) is a multiple of blockSize. Already
// aligned input still gains a full block, matching the sender contract.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, make([]byte, n)...)
}

func encryptECB(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	if len(plaintext)%block.BlockSize() != 0 {
		return nil, ErrBlockAlignment
	}
	out := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += block.BlockSize() {
		block.Encrypt(out[i:], plaintext[i:])
	}
	return out, nil
}

func decryptECB(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, ErrBlockAlignment
	}
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += block.BlockSize() {
		block.Decrypt(out[i:], ciphertext[i:])
	}
	return out, nil
}
