// Package base62 implements encoding and decoding of unsigned integers
// over the 62-symbol alphabet 0-9, a-z, A-Z. Unlike base64 the alphabet
// contains no characters that need escaping in a URL, which makes it
// suitable for short codes.
package base62

import "errors"

// Alphabet is the symbol set used for encoding, in place-value order.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const base = uint64(len(Alphabet))

// ErrInvalidCharacter is returned by Decode when the input contains
// a character outside the base62 alphabet.
var ErrInvalidCharacter = errors.New("invalid character in base62 string")

var symbolIndex = func() map[byte]uint64 {
	m := make(map[byte]uint64, base)
	for i := 0; i < len(Alphabet); i++ {
		m[Alphabet[i]] = uint64(i)
	}
	return m
}()

// Encode converts n into its base62 representation, most significant
// symbol first. Zero encodes to the first symbol of the alphabet.
func Encode(n uint64) string {
	if n == 0 {
		return string(Alphabet[0])
	}

	buf := make([]byte, 0, 11)
	for n > 0 {
		buf = append(buf, Alphabet[n%base])
		n /= base
	}

	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}

	return string(buf)
}

// Decode converts a base62 string back into the integer it encodes.
// It returns ErrInvalidCharacter if s contains a symbol outside the alphabet.
func Decode(s string) (uint64, error) {
	var n uint64

	for i := 0; i < len(s); i++ {
		v, ok := symbolIndex[s[i]]
		if !ok {
			return 0, ErrInvalidCharacter
		}

		n = n*base + v
	}

	return n, nil
}
