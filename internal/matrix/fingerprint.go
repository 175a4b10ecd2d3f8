package matrix

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/zeebo/blake3"
)

// Fingerprint is a 32-byte BLAKE3 digest of a matrix's contents. It is only
// used as a cache key: bit-identical matrices always share a fingerprint.
type Fingerprint [32]byte

// String returns the hex form of the first eight bytes, enough to tell
// fingerprints apart in logs.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:8])
}

// Fingerprint hashes the side length followed by every element's IEEE-754
// bits in little-endian, row-major order.
func (m Matrix) Fingerprint() Fingerprint {
	h := blake3.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(m.n))
	_, _ = h.Write(buf[:])

	// Rows are staged through one scratch buffer to keep the hasher fed
	// with large writes.
	row := make([]byte, 8*m.n)
	for i := 0; i < m.n; i++ {
		for j, v := range m.data[i*m.n : (i+1)*m.n] {
			binary.LittleEndian.PutUint64(row[8*j:], math.Float64bits(v))
		}
		_, _ = h.Write(row)
	}

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
