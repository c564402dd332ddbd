package store

// Key identifies a Map entry: the raw name bytes plus its precomputed hash.
// The hash is computed once by the Connection when it reads the key
// (resp.Stream.ReadKey, using the process-wide Hasher) and carried
// alongside the name so the Map never rehashes on a probe.
type Key struct {
	Name []byte
	Hash int64
}
