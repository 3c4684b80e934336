package registry

import (
	"crypto/rand"
	"fmt"
)

const (
	// CodeAlphabet omits I, O, 0 and 1 so codes can be read aloud. Its length
	// divides 256, so byte%len is unbiased.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6

	DefaultMaxCodeAttempts = 32
)

// CodeSource produces candidate flight codes. Uniqueness is checked by the
// registry.
type CodeSource func() (string, error)

// RandomCode draws a CodeLength code from CodeAlphabet using crypto/rand.
func RandomCode() (string, error) {
	var buf [CodeLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random code: %w", err)
	}
	for i, b := range buf {
		buf[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(buf[:]), nil
}

// newCodeLocked must be called with r.mu held.
func (r *Registry) newCodeLocked() (string, error) {
	for attempt := 0; attempt < r.maxCodeAttempts; attempt++ {
		code, err := r.codeSource()
		if err != nil {
			return "", err
		}
		if _, taken := r.flights[code]; taken {
			continue
		}
		return code, nil
	}
	r.logger.Error("flight code space exhausted", "attempts", r.maxCodeAttempts, "flights", len(r.flights))
	return "", ErrCodeSpaceExhausted
}
