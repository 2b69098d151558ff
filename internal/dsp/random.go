package dsp

// Random is D. Knuth's subtractive generator over a 55-entry table. It is
// deterministic for a seed, so test patterns built from it are the same
// on every platform.

const (
	randomAmpFix    = 8
	randomTableSize = 55
)

// Random holds the state of the generator.
type Random struct {
	index1, index2 int
	tab            [randomTableSize]uint32
	amp            int
}

// 31-bit seed values.
var randomTable = [randomTableSize]uint32{
	0x0de15230, 0x03b31886, 0x775faccb, 0x1c88626a, 0x68385c55, 0x14b3b828,
	0x4a85fef8, 0x49ddb84b, 0x64fcf397, 0x5c550289, 0x4a290000, 0x0d7ec1da,
	0x5940b7ab, 0x5492577d, 0x4e19ca72, 0x38d38c69, 0x0c01ee65, 0x32a1755f,
	0x5437f652, 0x5abb2c32, 0x0faa57b1, 0x73f533e7, 0x685feeda, 0x7563cce2,
	0x6e990e83, 0x4730a7ed, 0x4fc0d9c6, 0x496b153c, 0x4f1403fa, 0x541afb0c,
	0x73990b32, 0x26d7cb1c, 0x6fcc3706, 0x2cbb77d8, 0x75762f2a, 0x6425ccdd,
	0x24b35461, 0x0a7d8715, 0x220414a8, 0x141ebf67, 0x56b41583, 0x73e502e3,
	0x44cab16f, 0x28264d42, 0x73baaefb, 0x0a50ebed, 0x1d6ab6fb, 0x0d3ad40b,
	0x35db3b68, 0x2b081e83, 0x77ce6b95, 0x5181e5f0, 0x78853bbc, 0x009f9494,
	0x27e5ed3c,
}

// NewRandom returns a generator for seed with an amplitude in [0, 1].
// Seed 0 reproduces the plain table.
func NewRandom(seed uint32, amplitude float32) *Random {
	rg := &Random{index2: 31, tab: randomTable}
	if seed != 0 {
		for i := range rg.tab {
			rg.tab[i] = (rg.tab[i] ^ seed*0x9e3779b1) & 0x7fffffff
			seed = seed*1103515245 + 12345
		}
	}
	switch {
	case amplitude < 0:
		rg.amp = 0
	case amplitude > 1:
		rg.amp = 1 << randomAmpFix
	default:
		rg.amp = int(float32(1<<randomAmpFix) * amplitude)
	}
	return rg
}

func (rg *Random) next() uint32 {
	diff := int(rg.tab[rg.index1]) - int(rg.tab[rg.index2])
	if diff < 0 {
		diff += 1 << 31
	}
	rg.tab[rg.index1] = uint32(diff)
	if rg.index1++; rg.index1 == randomTableSize {
		rg.index1 = 0
	}
	if rg.index2++; rg.index2 == randomTableSize {
		rg.index2 = 0
	}
	return uint32(diff)
}

// Bits returns a numBits-wide value centered on 1<<(numBits-1), spread by
// the generator's amplitude.
func (rg *Random) Bits(numBits int) int {
	return rg.Bits2(numBits, rg.amp)
}

// Bits2 is Bits with an explicit amplitude in 1/256 units.
func (rg *Random) Bits2(numBits, amp int) int {
	v := int(int32(rg.next()<<1)) >> (32 - numBits)
	v = (v * amp) >> randomAmpFix
	return v + 1<<(numBits-1)
}
