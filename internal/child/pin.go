package child

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	pinMemory      = 64 * 1024
	pinIterations  = 2
	pinParallelism = 1
	pinKeyLength   = 32
	pinSaltLength  = 16
)

// HashPIN hashes the child's access PIN with argon2id.
func HashPIN(pin string) (string, error) {
	if len(pin) < 4 {
		return "", errors.New("child: pin must be at least 4 characters")
	}
	salt := make([]byte, pinSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(pin), salt, pinIterations, pinMemory, pinParallelism, pinKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		pinMemory,
		pinIterations,
		pinParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPIN compares a plaintext PIN against the stored hash in constant time.
func VerifyPIN(hash, pin string) error {
	if hash == "" {
		return errors.New("child: pin hash is empty")
	}
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return errors.New("child: malformed pin hash")
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return errors.New("child: malformed pin hash")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return errors.New("child: malformed pin hash")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return errors.New("child: malformed pin hash")
	}
	got := argon2.IDKey([]byte(pin), salt, iterations, memory, parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return errors.New("child: pin mismatch")
	}
	return nil
}
