package core

import (
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/small-frappuccino/aperture/pkg/config"
)

const defaultCooldownEntries = 50000

// Cooldowns keeps one token bucket per (command, user, tier). Buckets idle
// long enough to refill completely are evicted.
type Cooldowns struct {
	normal  config.Cooldown
	premium config.Cooldown

	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewCooldowns creates the bucket store. size <= 0 selects a default.
func NewCooldowns(normal, premium config.Cooldown, size int) *Cooldowns {
	if size <= 0 {
		size = defaultCooldownEntries
	}
	ttl := max(refillTime(normal), refillTime(premium), time.Second)
	return &Cooldowns{
		normal:  normal,
		premium: premium,
		buckets: expirable.NewLRU[string, *rate.Limiter](size, nil, ttl),
	}
}

func refillTime(c config.Cooldown) time.Duration {
	return c.Per * time.Duration(max(c.Burst, 1))
}

// Allow takes a token for the user. When the bucket is empty it reports
// how long until the next token.
func (c *Cooldowns) Allow(command string, userID uint64, premium bool) (time.Duration, bool) {
	cd, tier := c.normal, "n"
	if premium {
		cd, tier = c.premium, "p"
	}
	if cd.Per <= 0 {
		return 0, true
	}

	key := command + ":" + tier + ":" + strconv.FormatUint(userID, 10)

	c.mu.Lock()
	lim, ok := c.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(cd.Per), max(cd.Burst, 1))
		c.buckets.Add(key, lim)
	}
	c.mu.Unlock()

	now := time.Now()
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return cd.Per, false
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait, false
	}
	return 0, true
}

// Len reports the number of live buckets.
func (c *Cooldowns) Len() int {
	return c.buckets.Len()
}
