// Package hostname resolves the machine name stamped on every response.
package hostname

import (
	"errors"
	"fmt"
	"os"
)

// lookup is replaced in tests.
var lookup = os.Hostname

// Resolve returns the local hostname. An empty name is an error.
func Resolve() (string, error) {
	h, err := lookup()
	if err != nil {
		return "", fmt.Errorf("resolving hostname: %w", err)
	}
	if h == "" {
		return "", errors.New("resolving hostname: empty hostname")
	}
	return h, nil
}
