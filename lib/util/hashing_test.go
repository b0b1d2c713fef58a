package util

import (
	"testing"
)

func TestParseHashFunc(t *testing.T) {
	for _, s := range []string{"xxhash", "murmur3", "siphash"} {
		h, err := ParseHashFunc(s)
		if err != nil || string(h) != s {
			t.Errorf("ParseHashFunc(%q) = (%q,%v)", s, h, err)
		}
	}
	if h, err := ParseHashFunc(""); err != nil || h != DefaultHashFunc {
		t.Errorf("empty name should map to the default, got (%q,%v)", h, err)
	}
	if _, err := ParseHashFunc("md5"); err == nil {
		t.Error("unknown hash function should fail")
	}
}

func TestHashDeterministic(t *testing.T) {
	seed := [2]uint64{42, 7}
	for _, h := range []HashFunc{HashXXHash, HashMurmur3, HashSipHash} {
		a := h.Sum64([]byte("hello"), seed)
		b := h.Sum64([]byte("hello"), seed)
		if a != b {
			t.Errorf("%s: hash is not deterministic", h)
		}
		if a == h.Sum64([]byte("world"), seed) {
			t.Errorf("%s: different inputs should (almost surely) differ", h)
		}
	}
}

func TestSipHashKeyed(t *testing.T) {
	a := HashSipHash.Sum64([]byte("key"), [2]uint64{1, 2})
	b := HashSipHash.Sum64([]byte("key"), [2]uint64{3, 4})
	if a == b {
		t.Error("siphash should depend on the key")
	}
	if !HashSipHash.Keyed() || HashXXHash.Keyed() {
		t.Error("only siphash is keyed")
	}
}

type point struct {
	X, Y int
	Tags map[string]int
}

func TestCanonicalBytes(t *testing.T) {
	a, err := CanonicalBytes(point{1, 2, map[string]int{"a": 1, "b": 2, "c": 3}})
	if err != nil {
		t.Fatalf("CanonicalBytes failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		b, err := CanonicalBytes(point{1, 2, map[string]int{"c": 3, "b": 2, "a": 1}})
		if err != nil {
			t.Fatalf("CanonicalBytes failed: %v", err)
		}
		if string(a) != string(b) {
			t.Fatal("equal values must produce equal bytes")
		}
	}

	x, _ := CanonicalBytes(int64(5))
	y, _ := CanonicalBytes(uint64(5))
	if string(x) == string(y) {
		t.Error("signed and unsigned integers should be tagged differently")
	}

	if _, err := CanonicalBytes(func() {}); err == nil {
		t.Error("functions cannot be encoded")
	}
}

func TestHashValue(t *testing.T) {
	a, err := HashValue(HashXXHash, [2]uint64{}, "k")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := HashValue(HashXXHash, [2]uint64{}, []byte("k"))
	if a != b {
		t.Error("strings and byte slices with the same content hash equally")
	}
}

func TestCeilLog2(t *testing.T) {
	cases := map[int]int{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 32: 5, 33: 6}
	for n, want := range cases {
		if got := CeilLog2(n); got != want {
			t.Errorf("CeilLog2(%d) = %d, want %d", n, got, want)
		}
	}
}
