package index

import (
	"encoding/json"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// BloomParams sizes the per-batch bloom filters.
type BloomParams struct {
	Bits   uint32 `json:"bits"`
	Hashes uint32 `json:"hashes"`
}

// DefaultBloomParams are 8192 bits and 3 hash functions per filter.
var DefaultBloomParams = BloomParams{Bits: 8192, Hashes: 3}

func (p BloomParams) normalized() BloomParams {
	if p.Bits < 64 {
		p.Bits = 64
	}
	if p.Hashes < 1 {
		p.Hashes = 1
	}
	if p.Hashes > 16 {
		p.Hashes = 16
	}
	return p
}

// BloomFilter answers "definitely not present" or "maybe present" for
// strings. Values are only inserted while the index is being built.
type BloomFilter struct {
	bits  *bitset.BitSet
	m     uint
	k     uint32
	count uint32
}

func newBloomFilter(p BloomParams) *BloomFilter {
	p = p.normalized()
	return &BloomFilter{
		bits: bitset.New(uint(p.Bits)),
		m:    uint(p.Bits),
		k:    p.Hashes,
	}
}

func (bf *BloomFilter) add(value string) {
	h1, h2 := bloomHash(value)
	for i := uint32(0); i < bf.k; i++ {
		bf.bits.Set(bf.position(h1, h2, i))
	}
	bf.count++
}

// MayContain returns false only when value was never added.
func (bf *BloomFilter) MayContain(value string) bool {
	if bf == nil {
		return false
	}
	h1, h2 := bloomHash(value)
	for i := uint32(0); i < bf.k; i++ {
		if !bf.bits.Test(bf.position(h1, h2, i)) {
			return false
		}
	}
	return true
}

// Count returns the number of values added during the build.
func (bf *BloomFilter) Count() uint32 { return bf.count }

// SizeBytes returns the size of the bit array.
func (bf *BloomFilter) SizeBytes() int { return int(bf.m+7) / 8 }

func (bf *BloomFilter) position(h1, h2 uint64, i uint32) uint {
	return uint((h1 + uint64(i)*h2) % uint64(bf.m))
}

// bloomHash derives the two double-hashing inputs from one xxhash.
func bloomHash(s string) (h1, h2 uint64) {
	h := xxhash.Sum64String(s)
	h1 = h & 0xffffffff
	h2 = h>>32 | 1
	return h1, h2
}

type bloomJSON struct {
	Bits  *bitset.BitSet `json:"bits"`
	M     uint           `json:"m"`
	K     uint32         `json:"k"`
	Count uint32         `json:"count"`
}

// MarshalJSON implements json.Marshaler.
func (bf *BloomFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal(bloomJSON{Bits: bf.bits, M: bf.m, K: bf.k, Count: bf.count})
}

// UnmarshalJSON implements json.Unmarshaler.
func (bf *BloomFilter) UnmarshalJSON(b []byte) error {
	var v bloomJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.Bits == nil {
		v.Bits = bitset.New(v.M)
	}
	p := BloomParams{Bits: uint32(v.M), Hashes: v.K}.normalized()
	bf.bits, bf.m, bf.k, bf.count = v.Bits, uint(p.Bits), p.Hashes, v.Count
	return nil
}
