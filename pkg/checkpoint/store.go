package checkpoint

import (
	"fmt"
	"sort"
	"sync"
)

// Checkpoint is a recorded (key, value) pair in a store's history. Keys are
// timepoints from the chain clock.
type Checkpoint struct {
	Key   uint64
	Value uint64
}

// DecreasingKeyError indicates a push with a key lower than the latest
// recorded key.
type DecreasingKeyError struct {
	Key     uint64
	LastKey uint64
}

func (e *DecreasingKeyError) Error() string {
	return fmt.Sprintf("checkpoint key %d is lower than latest key %d", e.Key, e.LastKey)
}

// Store is an append-only history of a single scalar value. Each store is
// owned by exactly one parameter (one account's vote weight, or one global
// setting). Keys are non-decreasing in insertion order; pushing the latest
// key again overwrites the latest value instead of appending, so multiple
// updates within one timepoint collapse into one entry.
type Store struct {
	entries      []Checkpoint
	defaultValue uint64
	mutex        sync.RWMutex
}

// NewStore creates an empty store. Lookups before the first checkpoint
// return defaultValue.
func NewStore(defaultValue uint64) *Store {
	return &Store{defaultValue: defaultValue}
}

// Push records value at key. If key equals the latest key the latest value
// is overwritten; a key lower than the latest fails with DecreasingKeyError.
func (s *Store) Push(key, value uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if n := len(s.entries); n > 0 {
		last := &s.entries[n-1]
		if key < last.Key {
			return &DecreasingKeyError{Key: key, LastKey: last.Key}
		}
		if key == last.Key {
			last.Value = value
			return nil
		}
	}
	s.entries = append(s.entries, Checkpoint{Key: key, Value: value})
	return nil
}

// SeedIfEmpty synthesizes a (0, value) entry when the store has no history.
// Used when migrating a plain scalar parameter into a checkpointed one: the
// old value must remain readable for timepoints before the first real push.
func (s *Store) SeedIfEmpty(value uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.entries) == 0 && value != s.defaultValue {
		s.entries = append(s.entries, Checkpoint{Key: 0, Value: value})
	}
}

// Latest returns the most recent value, or the default if the store is
// empty.
func (s *Store) Latest() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if n := len(s.entries); n > 0 {
		return s.entries[n-1].Value
	}
	return s.defaultValue
}

// LatestKey returns the most recent key and whether any checkpoint exists.
func (s *Store) LatestKey() (uint64, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if n := len(s.entries); n > 0 {
		return s.entries[n-1].Key, true
	}
	return 0, false
}

// Lookup returns the value that was live at timepoint: the value of the
// checkpoint with the greatest key <= timepoint, or the default if no such
// checkpoint exists. The latest entry is checked first since most queries
// are for the current or a future timepoint.
func (s *Store) Lookup(timepoint uint64) uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	n := len(s.entries)
	if n == 0 {
		return s.defaultValue
	}
	if s.entries[n-1].Key <= timepoint {
		return s.entries[n-1].Value
	}
	// Rightmost entry with key <= timepoint among the remaining n-1.
	i := sort.Search(n-1, func(i int) bool {
		return s.entries[i].Key > timepoint
	})
	if i == 0 {
		return s.defaultValue
	}
	return s.entries[i-1].Value
}

// Len returns the number of recorded checkpoints.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.entries)
}
