package pkg

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// CodeAlphabet excludes characters that are easy to confuse when read aloud (0/O, 1/I/L).
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCode - generates a random join code of the given length.
func GenerateCode(length int) (string, error) {
	alphabetLen := big.NewInt(int64(len(CodeAlphabet)))

	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		code[i] = CodeAlphabet[n.Int64()]
	}

	return string(code), nil
}

// GenerateID - generates a new unique identifier for connections and moves.
func GenerateID() string {
	return uuid.NewString()
}
