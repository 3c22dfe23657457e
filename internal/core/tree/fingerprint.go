package tree

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the canonical form of v: map fields are visited in
// sorted order, so two trees that are Equal have the same fingerprint.
func Fingerprint(v *Value) uint64 {
	d := xxhash.New()
	writeCanonical(d, v)
	return d.Sum64()
}

func writeCanonical(d *xxhash.Digest, v *Value) {
	var scratch [8]byte
	_, _ = d.Write([]byte{byte(v.Kind())})

	switch v.Kind() {
	case KindBool:
		if v.b {
			_, _ = d.Write([]byte{1})
		} else {
			_, _ = d.Write([]byte{0})
		}
	case KindNumber:
		n := v.num
		if n == 0 {
			// -0 == 0
			n = 0
		}
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(n))
		_, _ = d.Write(scratch[:])
	case KindString:
		writeString(d, v.str)
	case KindList:
		binary.LittleEndian.PutUint64(scratch[:], uint64(len(v.items)))
		_, _ = d.Write(scratch[:])
		for _, item := range v.items {
			writeCanonical(d, item)
		}
	case KindMap:
		names := append(make([]string, 0, len(v.keys)), v.keys...)
		sort.Strings(names)
		binary.LittleEndian.PutUint64(scratch[:], uint64(len(names)))
		_, _ = d.Write(scratch[:])
		for _, name := range names {
			writeString(d, name)
			writeCanonical(d, v.fields[name])
		}
	}
}

func writeString(d *xxhash.Digest, s string) {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(s)))
	_, _ = d.Write(scratch[:])
	_, _ = d.WriteString(s)
}
