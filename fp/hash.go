package fp

import (
	"golang.org/x/crypto/blake2b"
)

// Blake2b computes blake2b-256 checksum for given data.
// Storage slot positions are derived this way.
func Blake2b(data ...[]byte) (b32 Bytes32) {
	if len(data) == 1 {
		return blake2b.Sum256(data[0])
	}
	hash, _ := blake2b.New256(nil)
	for _, b := range data {
		hash.Write(b)
	}
	hash.Sum(b32[:0])
	return
}
