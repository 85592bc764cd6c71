package util

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, optionally prefixed ("idea_<uuid>").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// ValidID reports whether value is a UUID with the given prefix, or a bare
// UUID when prefix is empty. Client-supplied ids are checked with it.
func ValidID(prefix, value string) bool {
	if prefix != "" {
		trimmed, ok := strings.CutPrefix(value, prefix+"_")
		if !ok {
			return false
		}
		value = trimmed
	}
	_, err := uuid.Parse(value)
	return err == nil
}

// inviteAlphabet leaves out characters that are easy to misread (0/O, 1/I/L).
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewInviteCode returns a human-shareable code of the given length. Every
// character is drawn uniformly from the alphabet.
func NewInviteCode(length int) (string, error) {
	return inviteCode(rand.Reader, length)
}

func inviteCode(source io.Reader, length int) (string, error) {
	if length <= 0 {
		length = 8
	}
	size := big.NewInt(int64(len(inviteAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(source, size)
		if err != nil {
			return "", fmt.Errorf("invite code: %w", err)
		}
		out[i] = inviteAlphabet[n.Int64()]
	}
	return string(out), nil
}
