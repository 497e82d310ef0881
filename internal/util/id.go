package util

import (
	"crypto/rand"
	"encoding/hex"
)

const joinCodeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// JoinCodeLength is the number of characters in a workspace join code.
const JoinCodeLength = 6

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewJoinCode returns a random lowercase alphanumeric join code.
func NewJoinCode() string {
	bytes := make([]byte, JoinCodeLength)
	_, _ = rand.Read(bytes)
	code := make([]byte, JoinCodeLength)
	for i, b := range bytes {
		code[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(code)
}
