package ring

import (
	"fmt"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
)

// HashFunc maps a ring key to a 64-bit ring position.
type HashFunc func(string) uint64

// XXHash is the default ring hash.
func XXHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// FNV64a hashes with 64-bit FNV-1a.
func FNV64a(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// HashByName resolves a configured hash name.
func HashByName(name string) (HashFunc, error) {
	switch name {
	case "", "xxhash":
		return XXHash, nil
	case "fnv":
		return FNV64a, nil
	default:
		return nil, fmt.Errorf("%w: unknown hash %q", ErrInvalidConfiguration, name)
	}
}
