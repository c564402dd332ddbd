package shard

import "github.com/kvi-db/kvi/pkg/hash"

// Shards holds the fixed set of Shard goroutines a server runs with and
// selects one via rendezvous hashing given a key's precomputed hash.
type Shards struct {
	all    []*Shard
	hasher hash.Hasher
}

// NewShards wraps an already-constructed slice of Shards for selection.
// The slice's order is its index space: shards[i].Index must equal i.
func NewShards(shards []*Shard, hasher hash.Hasher) *Shards {
	return &Shards{all: shards, hasher: hasher}
}

// Select returns the shard that owns a key whose hash is keyHash: the
// shard index i that maximizes hasher.HashPair(i, keyHash), ties broken by
// the lower index.
func (s *Shards) Select(keyHash int64) *Shard {
	best := 0
	bestScore := s.hasher.HashPair(0, keyHash)
	for i := 1; i < len(s.all); i++ {
		score := s.hasher.HashPair(i, keyHash)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return s.all[best]
}

// All returns every shard, in index order, for KEYS fan-out.
func (s *Shards) All() []*Shard {
	return s.all
}

// Len returns the number of shards.
func (s *Shards) Len() int {
	return len(s.all)
}

// Stop stops every shard's goroutine.
func (s *Shards) Stop() {
	for _, sh := range s.all {
		sh.Stop()
	}
}
