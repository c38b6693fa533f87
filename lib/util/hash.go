package util

// HashBytes hashes b with FNV-1a, starting from the offset basis mixed with seed.
func HashBytes(b []byte, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	hash := uint64(offset64) ^ seed
	for _, c := range b {
		hash ^= uint64(c)
		hash *= prime64
	}
	return hash
}
