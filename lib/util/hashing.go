package util

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
	"github.com/fxamacker/cbor/v2"
	"github.com/spaolacci/murmur3"
)

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashFunc names a 64-bit hash function. The name (not the function) is persisted
// by the collections, so a collection keeps hashing the same way after a reload.
type HashFunc string

const (
	HashXXHash  HashFunc = "xxhash"  // default, fast non-keyed hash
	HashMurmur3 HashFunc = "murmur3" // murmur3 64-bit, seeded with the low 32 bits of seed[0]
	HashSipHash HashFunc = "siphash" // keyed SipHash-2-4, seed is the 128-bit key
)

// DefaultHashFunc is used when a collection does not specify a hash function
const DefaultHashFunc = HashXXHash

// ParseHashFunc converts a string (e.g. from a CLI flag) to a HashFunc
func ParseHashFunc(s string) (HashFunc, error) {
	switch h := HashFunc(s); h {
	case HashXXHash, HashMurmur3, HashSipHash:
		return h, nil
	case "":
		return DefaultHashFunc, nil
	default:
		return "", fmt.Errorf("unknown hash function %q (expected one of xxhash, murmur3, siphash)", s)
	}
}

// Keyed reports whether the hash function uses the seed as a secret key
func (h HashFunc) Keyed() bool {
	return h == HashSipHash
}

// Sum64 hashes b with the selected function
func (h HashFunc) Sum64(b []byte, seed [2]uint64) uint64 {
	switch h {
	case HashMurmur3:
		return murmur3.Sum64WithSeed(b, uint32(seed[0]))
	case HashSipHash:
		return siphash.Hash(seed[0], seed[1], b)
	default:
		return xxhash.Sum64(b) ^ seed[0]
	}
}

// --------------------------------------------------------------------------
// Canonical Key Encoding
// --------------------------------------------------------------------------

// canonical is a CBOR encoding mode with sorted map keys and smallest encodings,
// so equal values always produce equal bytes
var canonical = mustCanonicalMode()

func mustCanonicalMode() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: invalid canonical encoding options: %v", err))
	}
	return mode
}

// CanonicalBytes returns a deterministic byte representation of v.
// Strings, byte slices and fixed size integers are used directly; every other
// value is encoded as canonical CBOR.
func CanonicalBytes(v any) ([]byte, error) {
	var buf [9]byte
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	case int:
		return putTagged(buf[:], 1, uint64(x)), nil
	case int64:
		return putTagged(buf[:], 1, uint64(x)), nil
	case int32:
		return putTagged(buf[:], 1, uint64(x)), nil
	case uint:
		return putTagged(buf[:], 2, uint64(x)), nil
	case uint64:
		return putTagged(buf[:], 2, x), nil
	case uint32:
		return putTagged(buf[:], 2, uint64(x)), nil
	}
	b, err := canonical.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot encode %T for hashing: %w", v, err)
	}
	return b, nil
}

// putTagged writes a type tag followed by x (little endian) into buf
func putTagged(buf []byte, tag byte, x uint64) []byte {
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:], x)
	return buf[:9]
}

// HashValue hashes the canonical representation of v with the given function
func HashValue(h HashFunc, seed [2]uint64, v any) (uint64, error) {
	b, err := CanonicalBytes(v)
	if err != nil {
		return 0, err
	}
	return h.Sum64(b, seed), nil
}

// --------------------------------------------------------------------------
// Value Encoding
// --------------------------------------------------------------------------

// valueEnc keeps what gob flattens: nil and pointers to zero values stay apart,
// as do nil and empty slices and maps
var valueEnc, valueDec = mustValueModes()

func mustValueModes() (cbor.EncMode, cbor.DecMode) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: invalid value encoding options: %v", err))
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: invalid value decoding options: %v", err))
	}
	return enc, dec
}

// EncodeValue encodes v as deterministic CBOR for storage inside a collection node
func EncodeValue(v any) ([]byte, error) {
	b, err := valueEnc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot encode %T: %w", v, err)
	}
	return b, nil
}

// DecodeValue decodes bytes produced by EncodeValue into v (a pointer)
func DecodeValue(b []byte, v any) error {
	if err := valueDec.Unmarshal(b, v); err != nil {
		return fmt.Errorf("cannot decode %T: %w", v, err)
	}
	return nil
}
