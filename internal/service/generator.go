package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand/v2"
	"strconv"
)

const (
	codeMin   = 100000
	codeRange = 900000
)

// Generator produces 6-digit numeric codes uniformly over [100000, 999999].
// Codes are scoped per phone number, so collisions across numbers are fine.
type Generator interface {
	Generate() (string, error)
}

// CryptoGenerator draws codes from crypto/rand.
type CryptoGenerator struct{}

func (CryptoGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return strconv.FormatInt(codeMin+n.Int64(), 10), nil
}

// MathGenerator draws codes from math/rand/v2. It is not suitable where codes
// must be unpredictable.
type MathGenerator struct{}

func (MathGenerator) Generate() (string, error) {
	return strconv.Itoa(codeMin + mathrand.IntN(codeRange)), nil
}

// NewGenerator returns the generator for a configured source name.
func NewGenerator(source string) (Generator, error) {
	switch source {
	case "", "crypto":
		return CryptoGenerator{}, nil
	case "math":
		return MathGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown random source %q", source)
	}
}
