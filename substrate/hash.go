package substrate

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Twox128 is the 128 bit xxhash used for pallet and storage item prefixes.
func Twox128(data []byte) []byte {
	out := make([]byte, 0, 16)
	for seed := uint64(0); seed < 2; seed++ {
		out = binary.LittleEndian.AppendUint64(out, twox64(seed, data))
	}
	return out
}

func Twox64(data []byte) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), twox64(0, data))
}

// Twox64Concat appends the plain key to its hash, so that keys can be recovered from storage keys.
func Twox64Concat(data []byte) []byte {
	return append(Twox64(data), data...)
}

func Blake2_256(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

func twox64(seed uint64, data []byte) uint64 {
	digest := xxhash.NewWithSeed(seed)
	_, _ = digest.Write(data) // never fails
	return digest.Sum64()
}
