package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random 64-bit seed (used for keyed hash functions)
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the current time, only if crypto/rand is unavailable
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// GenerateSeedPair creates a 128-bit seed as two 64-bit halves (siphash keys)
func GenerateSeedPair() [2]uint64 {
	return [2]uint64{GenerateSeed(), GenerateSeed()}
}

// CeilLog2 returns the smallest d such that 1<<d >= n (0 for n <= 1)
func CeilLog2(n int) int {
	d := 0
	for x := 1; x < n; x <<= 1 {
		d++
	}
	return d
}
