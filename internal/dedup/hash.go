package dedup

import (
	"fmt"
	"strings"

	"cratemind/internal/services"
)

const (
	minHashLength = 6
	maxHashLength = 128
)

// NormalizeHash lower-cases and validates a hex content hash.
func NormalizeHash(raw string) (string, error) {
	hash := strings.ToLower(strings.TrimSpace(raw))
	if len(hash) < minHashLength || len(hash) > maxHashLength {
		return "", services.Wrap(services.ErrValidation, "dedup", "validate hash",
			fmt.Sprintf("content hash must be %d-%d hex characters", minHashLength, maxHashLength), nil)
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", services.Wrap(services.ErrValidation, "dedup", "validate hash",
				fmt.Sprintf("content hash contains non-hex character %q", c), nil)
		}
	}
	return hash, nil
}
