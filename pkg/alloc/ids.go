package alloc

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// idLength is the length of generated instance identifiers.
const idLength = 10

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID generates a short opaque URL-safe token. Collision checking
// against the registry is the allocator's responsibility.
func NewID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	id := strings.ToLower(idEncoding.EncodeToString(buf))
	return id[:idLength], nil
}

// AllocateID generates an id that does not collide with any live
// instance, regenerating on collision.
func (a *Allocator) AllocateID() (string, error) {
	const maxAttempts = 10
	for i := 0; i < maxAttempts; i++ {
		id, err := NewID()
		if err != nil {
			return "", err
		}
		if _, ok := a.registry.Get(id); !ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate unique instance id after %d attempts", maxAttempts)
}
