package debounce

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCapacity bounds the number of (user, rule) pairs remembered
	DefaultCapacity = 100_000

	lockShards = 256
)

// Key identifies one rule of one user
type Key struct {
	UserID string
	RuleID string
}

// Tracker remembers when each (user, rule) pair last fired and gates repeats
// until the rule's cooldown has elapsed.
//
// Callers that need check-then-record to be atomic hold Lock for the key
// across ShouldSuppress and RecordFired. Locks are sharded by key so unrelated
// users never serialize on each other.
type Tracker struct {
	lastFired *lru.Cache[Key, time.Time]
	shards    [lockShards]sync.Mutex
}

// NewTracker creates a tracker holding at most capacity entries.
// Least recently used entries are evicted once the capacity is reached.
func NewTracker(capacity int) (*Tracker, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[Key, time.Time](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create debounce cache: %w", err)
	}
	return &Tracker{lastFired: cache}, nil
}

// Lock acquires the exclusive lock for a key and returns its release func
func (t *Tracker) Lock(userID, ruleID string) func() {
	mu := &t.shards[shardFor(userID, ruleID)]
	mu.Lock()
	return mu.Unlock
}

// ShouldSuppress reports whether a fire at now would fall inside the cooldown
// of the previous fire for the same key.
func (t *Tracker) ShouldSuppress(userID, ruleID string, now time.Time, cooldownMinutes int) bool {
	if cooldownMinutes <= 0 {
		return false
	}
	last, ok := t.lastFired.Get(Key{UserID: userID, RuleID: ruleID})
	if !ok {
		return false
	}
	return now.Sub(last) < time.Duration(cooldownMinutes)*time.Minute
}

// RecordFired stores now as the last fire time. It never moves the
// timestamp backwards, so repeating the call for one alert is harmless.
func (t *Tracker) RecordFired(userID, ruleID string, now time.Time) {
	key := Key{UserID: userID, RuleID: ruleID}
	if last, ok := t.lastFired.Peek(key); ok && last.After(now) {
		return
	}
	t.lastFired.Add(key, now)
}

// LastFired returns the last fire time for a key
func (t *Tracker) LastFired(userID, ruleID string) (time.Time, bool) {
	return t.lastFired.Peek(Key{UserID: userID, RuleID: ruleID})
}

// Len returns the number of tracked keys
func (t *Tracker) Len() int {
	return t.lastFired.Len()
}

func shardFor(userID, ruleID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(ruleID))
	return h.Sum32() % lockShards
}
