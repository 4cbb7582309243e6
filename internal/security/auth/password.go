package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher produces and checks one-way password digests.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// BcryptHasher hashes passwords with bcrypt at a fixed cost
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, or bcrypt.DefaultCost when
// cost is outside bcrypt's accepted range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plain matches digest. A malformed digest is a
// mismatch.
func (h *BcryptHasher) Verify(plain, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
