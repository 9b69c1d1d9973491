package streak

import (
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
)

const shardCount = 64

// State is the last observation recorded for one streak key.
type State struct {
	LastRepeatCount int64
	LastActivityAt  time.Time
}

type shard struct {
	mu     sync.Mutex
	states map[gifts.StreakKey]State
}

// Store holds one State per active streak key. Keys are spread over
// independently locked shards; every operation on a key runs under its
// shard lock, so observe, remove and sweep never interleave for one key.
type Store struct {
	shards [shardCount]shard
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].states = make(map[gifts.StreakKey]State)
	}
	return s
}

// ShardIndex maps a key onto [0, n). The ingester uses the same function to
// pick processing lanes.
func ShardIndex(k gifts.StreakKey, n int) int {
	d := xxhash.New()
	_, _ = d.WriteString(k.SenderID)
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(strconv.FormatInt(k.GiftID, 10))
	return int(d.Sum64() % uint64(n))
}

func (s *Store) shardFor(k gifts.StreakKey) *shard {
	return &s.shards[ShardIndex(k, shardCount)]
}

// Observe records repeatCount for key and returns the previously recorded
// count, or 0 when the key was not present.
func (s *Store) Observe(k gifts.StreakKey, repeatCount int64, now time.Time) int64 {
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev := sh.states[k].LastRepeatCount
	sh.states[k] = State{LastRepeatCount: repeatCount, LastActivityAt: now}
	return prev
}

// Remove deletes the state for key. Removing an absent key is a no-op.
func (s *Store) Remove(k gifts.StreakKey) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	delete(sh.states, k)
	sh.mu.Unlock()
}

// Get returns the state for key.
func (s *Store) Get(k gifts.StreakKey) (State, bool) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.states[k]
	return st, ok
}

// Len returns the number of active streaks.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.states)
		sh.mu.Unlock()
	}
	return n
}

// SweepExpired removes and returns every key whose last activity is before
// now-idle. No output is produced for the counts those streaks never flushed.
func (s *Store) SweepExpired(now time.Time, idle time.Duration) []gifts.StreakKey {
	cutoff := now.Add(-idle)

	var removed []gifts.StreakKey
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, st := range sh.states {
			if st.LastActivityAt.Before(cutoff) {
				delete(sh.states, k)
				removed = append(removed, k)
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
