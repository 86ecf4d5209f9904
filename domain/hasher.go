package domain

// Hasher is the core port for any hashing strategy. Snapshots use it to
// derive a revision tag clients can compare cheaply.
type Hasher interface {
	Hash(data []byte) string
}
