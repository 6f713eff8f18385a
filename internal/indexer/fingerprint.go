package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/dshills/codegrep/pkg/types"
)

// FingerprintAlgo selects the content hash used to detect changed files
type FingerprintAlgo string

const (
	// FingerprintXXH3 is the fast default
	FingerprintXXH3 FingerprintAlgo = "xxh3"
	// FingerprintSHA256 trades speed for a cryptographic hash
	FingerprintSHA256 FingerprintAlgo = "sha256"
)

// ParseFingerprintAlgo converts a configuration value. An empty string
// selects the default.
func ParseFingerprintAlgo(s string) (FingerprintAlgo, error) {
	switch FingerprintAlgo(strings.ToLower(strings.TrimSpace(s))) {
	case "", FingerprintXXH3:
		return FingerprintXXH3, nil
	case FingerprintSHA256:
		return FingerprintSHA256, nil
	default:
		return "", fmt.Errorf("unknown fingerprint algorithm %q", s)
	}
}

// Fingerprint hashes data as "<algo>:<hex>". The prefix keeps fingerprints
// of different algorithms from ever comparing equal.
func Fingerprint(algo FingerprintAlgo, data []byte) string {
	switch algo {
	case FingerprintSHA256:
		sum := sha256.Sum256(data)
		return string(FingerprintSHA256) + ":" + hex.EncodeToString(sum[:])
	default:
		return string(FingerprintXXH3) + ":" + padHex(xxh3.Hash(data))
	}
}

// FingerprintFile reads a file and returns its fingerprint and content
func FingerprintFile(algo FingerprintAlgo, path string) (string, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", types.ErrFileAccess, err)
	}
	return Fingerprint(algo, data), data, nil
}

func padHex(v uint64) string {
	s := strconv.FormatUint(v, 16)
	return strings.Repeat("0", 16-len(s)) + s
}
