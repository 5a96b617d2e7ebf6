package backup

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptedExtension is appended to encrypted artifacts.
	EncryptedExtension = ".enc"

	encryptionMagic  = "MABENC1\n"
	saltSize         = 16
	keySize          = 32
	pbkdf2Iterations = 100000
	chunkSize        = 64 * 1024
	maxSealedSize    = chunkSize + 16
)

// ResolvePassphrase reads the passphrase from the environment variable envName.
func ResolvePassphrase(envName string) (string, error) {
	if envName == "" {
		return "", NewEncryptionError("passphrase_env is not set", nil)
	}
	pass := os.Getenv(envName)
	if pass == "" {
		return "", NewEncryptionError(fmt.Sprintf("environment variable %s is empty", envName), nil)
	}
	return pass, nil
}

func deriveAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// chunkAAD binds a chunk to its position and marks the last one, so reordered
// or truncated streams fail to open.
func chunkAAD(index uint64, final bool) []byte {
	aad := make([]byte, 9)
	binary.BigEndian.PutUint64(aad, index)
	if final {
		aad[8] = 1
	}
	return aad
}

// EncryptStream writes src to dst as AES-256-GCM chunks.
func EncryptStream(dst io.Writer, src io.Reader, passphrase string) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return NewEncryptionError("failed to generate salt", err)
	}
	gcm, err := deriveAEAD(passphrase, salt)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(dst, encryptionMagic); err != nil {
		return NewEncryptionError("failed to write header", err)
	}
	if _, err := dst.Write(salt); err != nil {
		return NewEncryptionError("failed to write salt", err)
	}

	br := bufio.NewReaderSize(src, chunkSize)
	buf := make([]byte, chunkSize)
	nonce := make([]byte, gcm.NonceSize())
	var lenPrefix [4]byte
	for index := uint64(0); ; index++ {
		n, err := io.ReadFull(br, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return NewEncryptionError("failed to read plaintext", err)
		}
		_, peekErr := br.Peek(1)
		final := peekErr != nil

		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return NewEncryptionError("failed to generate nonce", err)
		}
		sealed := gcm.Seal(nil, nonce, buf[:n], chunkAAD(index, final))

		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(sealed)))
		if _, err := dst.Write(lenPrefix[:]); err != nil {
			return NewEncryptionError("failed to write chunk", err)
		}
		if _, err := dst.Write(nonce); err != nil {
			return NewEncryptionError("failed to write chunk", err)
		}
		if _, err := dst.Write(sealed); err != nil {
			return NewEncryptionError("failed to write chunk", err)
		}
		if final {
			return nil
		}
	}
}

// DecryptStream reverses EncryptStream.
func DecryptStream(dst io.Writer, src io.Reader, passphrase string) error {
	br := bufio.NewReader(src)
	magic := make([]byte, len(encryptionMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != encryptionMagic {
		return NewEncryptionError("not an encrypted artifact", err)
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(br, salt); err != nil {
		return NewEncryptionError("truncated salt", err)
	}
	gcm, err := deriveAEAD(passphrase, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	var lenPrefix [4]byte
	for index := uint64(0); ; index++ {
		if _, err := io.ReadFull(br, lenPrefix[:]); err != nil {
			return NewEncryptionError("truncated encrypted stream", err)
		}
		size := binary.BigEndian.Uint32(lenPrefix[:])
		if size > maxSealedSize {
			return NewEncryptionError(fmt.Sprintf("chunk %d too large", index), nil)
		}
		if _, err := io.ReadFull(br, nonce); err != nil {
			return NewEncryptionError("truncated nonce", err)
		}
		sealed := make([]byte, size)
		if _, err := io.ReadFull(br, sealed); err != nil {
			return NewEncryptionError("truncated chunk", err)
		}
		_, peekErr := br.Peek(1)
		final := peekErr != nil

		plain, err := gcm.Open(nil, nonce, sealed, chunkAAD(index, final))
		if err != nil {
			return NewEncryptionError("failed to decrypt data (wrong passphrase or corrupted file)", err).
				WithContext("chunk", index)
		}
		if _, err := dst.Write(plain); err != nil {
			return NewEncryptionError("failed to write plaintext", err)
		}
		if final {
			return nil
		}
	}
}

// EncryptFile encrypts src into dst. dst is removed on failure.
func EncryptFile(src, dst, passphrase string) error {
	return transformFile(src, dst, func(w io.Writer, r io.Reader) error {
		return EncryptStream(w, r, passphrase)
	})
}

// DecryptFile decrypts src into dst. dst is removed on failure.
func DecryptFile(src, dst, passphrase string) error {
	return transformFile(src, dst, func(w io.Writer, r io.Reader) error {
		return DecryptStream(w, r, passphrase)
	})
}

// IsEncrypted reports whether path names an encrypted artifact.
func IsEncrypted(path string) bool {
	return strings.HasSuffix(path, EncryptedExtension)
}

func transformFile(src, dst string, fn func(io.Writer, io.Reader) error) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return NewEncryptionError("failed to open input", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return NewEncryptionError("failed to create output", err)
	}
	bw := bufio.NewWriter(out)
	defer func() {
		if err == nil {
			err = bw.Flush()
		}
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()
	return fn(bw, in)
}
