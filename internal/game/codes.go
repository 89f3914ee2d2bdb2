package game

import (
	"crypto/rand"
	"fmt"
)

const (
	// CodeLength is the fixed length of every game code.
	CodeLength = 6

	// codeAlphabet is the symbol set game codes are drawn from.
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxCodeAttempts bounds collision retries before giving up. With a
	// 36^6 code space this only trips when the registry is pathologically
	// full.
	maxCodeAttempts = 64
)

// randomCode draws a CodeLength code uniformly at random from codeAlphabet.
// Rejection sampling keeps the per-symbol distribution uniform.
func randomCode() (string, error) {
	// Largest multiple of len(codeAlphabet) that fits in a byte.
	max := byte(256 - 256%len(codeAlphabet))

	code := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(code) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("game: read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == CodeLength {
				break
			}
		}
	}
	return string(code), nil
}

// newCode generates a code that is not currently registered. The caller must
// hold the registry mutex so the uniqueness check and the subsequent insert
// are atomic.
func (r *Registry) newCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if _, taken := r.sessions[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}
