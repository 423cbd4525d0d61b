package utils

import (
	"math/rand"
)

var charset = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// GenerateRandomString creates a string of the given length consisting of
// random alphanumeric characters (a-z, A-Z, 0-9).
//
// Parameters:
//   - length: The desired length of the output string
//
// Returns:
//   - A random alphanumeric string of length characters
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}

	return string(b)
}
