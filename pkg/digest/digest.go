package digest

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names a checksum function.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// Default is the algorithm used when none is configured.
const Default = SHA256

func ParseAlgorithm(raw string) (Algorithm, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return Default, nil
	}

	algo := Algorithm(value)
	if err := validateAlgorithm(algo); err != nil {
		return "", err
	}
	return algo, nil
}

func (a Algorithm) String() string {
	return string(a)
}

// New returns a fresh hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New(), nil
	case SHA256, "":
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", a)
	}
}

func validateAlgorithm(algo Algorithm) error {
	switch algo {
	case SHA1, SHA256, BLAKE3:
		return nil
	default:
		return fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
}
