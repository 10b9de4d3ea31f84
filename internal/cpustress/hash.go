// Package cpustress implements the synthetic hashing workload that keeps a
// CPU core busy, and the per-core worker loop around it.
package cpustress

const (
	// DefaultModulus is the prime-ish modulus every input uses.
	DefaultModulus uint64 = 1_000_012_347

	// amplification is the inner mixing loop length per outer step.
	amplification = 8
)

// Input is one synthetic (base, exponent, modulus) triple.
type Input struct {
	Base     uint64
	Exponent uint64
	Modulus  uint64
}

// InputFor derives the input for iteration i of worker id. It is pure
// arithmetic so runs are reproducible; scale divides the exponent to trade
// per-hash cost for shutdown latency and must be >= 1.
func InputFor(id, i, scale int) Input {
	if scale < 1 {
		scale = 1
	}
	exp := uint64((i%2000)+500) * uint64(id%10+1) / uint64(scale)
	if exp == 0 {
		exp = 1
	}
	return Input{
		Base:     uint64(id)*123456789 + uint64(i)*987654321,
		Exponent: exp,
		Modulus:  DefaultModulus,
	}
}

// Hash runs a modular-exponentiation-like loop of in.Exponent steps with an
// inner amplification pass. The loop is data dependent and cannot be folded
// to a constant. A modulus below 2 yields 0.
func Hash(in Input) uint64 {
	mod := in.Modulus
	if mod < 2 {
		return 0
	}
	result := uint64(1)
	nested := uint64(1)
	for i := uint64(0); i < in.Exponent; i++ {
		result = (result * in.Base) % mod
		nested = (nested * result) % mod
		for j := uint64(0); j < amplification; j++ {
			nested += i + j
			result *= nested
		}
		if i%10 == 0 {
			result = (result + nested) % mod
		}
	}
	return result % mod
}
