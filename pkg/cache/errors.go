package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrPremiumBlacklisted is returned when premium is granted to a
	// blacklisted guild or user.
	ErrPremiumBlacklisted = errors.New("premium blacklisted")

	// ErrNotFilled is returned when periodic tasks start before FillAll.
	ErrNotFilled = errors.New("caches not filled")
)

// PremiumBlacklistedError carries the rejected id.
type PremiumBlacklistedError struct {
	Set string
	ID  uint64
}

func (e *PremiumBlacklistedError) Error() string {
	return fmt.Sprintf("%d is blacklisted and must be removed from the blacklist before it can be added to %s", e.ID, e.Set)
}

func (e *PremiumBlacklistedError) Unwrap() error { return ErrPremiumBlacklisted }
