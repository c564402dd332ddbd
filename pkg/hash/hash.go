// Package hash implements the keyed 64-bit hash shared across every kvi
// shard and connection: the same (Seed0, Seed1) pair, copied by value into
// each goroutine at startup, must produce the same hash for the same
// bytes everywhere in the process so that key routing (pkg/shard) and
// Map slot selection (pkg/store) agree.
//
// The teacher's storage engine reaches for github.com/cespare/xxhash/v2
// for block and footer checksums (pkg/sstable/block, pkg/sstable/footer);
// that package's Sum64 has no seed parameter, so Hasher mixes the seed
// words into the input rather than pulling in a second hashing
// dependency. See DESIGN.md for why this is an acceptable substitute for
// the SipHash-1-3 the spec names as a reference primitive.
package hash

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Hasher is a seeded 64-bit hash. It is copied by value: assigning a
// Hasher or passing it as a struct field duplicates the seed, never a
// pointer into shared state, so every Shard and Connection gets its own
// independent (but identically-seeded) copy.
type Hasher struct {
	Seed0 uint64
	Seed1 uint64
}

// New builds a Hasher from explicit seed words. Pass (0, 0) in tests that
// don't care about specific values but do care about determinism across
// Hasher instances within the same test.
func New(seed0, seed1 uint64) Hasher {
	return Hasher{Seed0: seed0, Seed1: seed1}
}

// NewRandom generates a fresh seed pair from crypto/rand. Called once per
// process at startup; the result is then copied into every task.
func NewRandom() (Hasher, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Hasher{}, err
	}
	return Hasher{
		Seed0: binary.LittleEndian.Uint64(buf[0:8]),
		Seed1: binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// digestPool reuses xxhash.Digest instances across Hash calls to avoid an
// allocation per key on the hot path; each Shard/Connection goroutine
// pulls from the shared pool independently.
var digestPool = sync.Pool{
	New: func() interface{} { return xxhash.New() },
}

// Hash computes the keyed 64-bit hash of name. Equal (Seed0, Seed1, name)
// always produces the same result, including across process restarts that
// reuse the same seed.
func (h Hasher) Hash(name []byte) int64 {
	d := digestPool.Get().(*xxhash.Digest)
	d.Reset()
	var seedBuf [16]byte
	binary.LittleEndian.PutUint64(seedBuf[0:8], h.Seed0)
	binary.LittleEndian.PutUint64(seedBuf[8:16], h.Seed1)
	d.Write(seedBuf[:])
	d.Write(name)
	sum := d.Sum64()
	digestPool.Put(d)
	return int64(sum)
}

// HashPair combines a shard index with an already-computed key hash. It
// is the scoring function for rendezvous hashing (pkg/shard): the shard
// whose HashPair(i, h) is largest wins the key whose hash is h.
func (h Hasher) HashPair(i int, keyHash int64) int64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.Seed0^h.Seed1)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(i))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(keyHash))
	return int64(xxhash.Sum64(buf[:]))
}
