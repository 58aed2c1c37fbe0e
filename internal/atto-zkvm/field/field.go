// Package field fixes the native prime field and its degree-4 challenge
// extension for the whole machine, and carries the per-field behavior (two-adic
// structure, Poseidon2 schedule, septic-curve parameters) that distinguishes
// one instantiation from another.
//
// Element arithmetic comes from gnark-crypto's generated 31-bit fields; this
// package only adds the glue the trace/constraint code needs: canonical
// uint32 views, powers, batched inversion and two-adic subgroup generators.
package field

import "math/big"

// Spec captures everything about a field instantiation that the generic
// machine code is parameterized over.
type Spec struct {
	Name       string
	Modulus    uint32
	TwoAdicity int
	Generator  uint32

	// FRI parameters.
	LogBlowup    int
	NumQueries   int
	GrindingBits int

	// Poseidon2 schedule.
	Poseidon2Width int
	Poseidon2Rate  int
	ExternalRounds int
	InternalRounds int
	SboxDegree     int

	// Septic extension: z^7 = SepticCoeffs[1]*z + SepticCoeffs[0] (higher
	// coefficients unused in the shipped instantiations) and curve
	// y^2 = x^3 + CurveA*x + CurveBCoeff*z^CurveBPow.
	SepticCoeffs [7]uint32
	CurveA       uint32
	CurveBCoeff  uint32
	CurveBPow    int

	MaxLogChunkSize int
}

// Zero returns the additive identity.
func Zero() Val {
	var z Val
	return z
}

// One returns the multiplicative identity.
func One() Val {
	var z Val
	z.SetOne()
	return z
}

// FromUint32 builds a canonical element from v. v may exceed the modulus.
func FromUint32(v uint32) Val {
	var z Val
	z.SetUint64(uint64(v))
	return z
}

// FromUint64 builds an element from v reduced mod p.
func FromUint64(v uint64) Val {
	var z Val
	z.SetUint64(v)
	return z
}

// FromInt64 builds an element from a signed value.
func FromInt64(v int64) Val {
	var z Val
	z.SetInt64(v)
	return z
}

// FromBool maps true to one and false to zero.
func FromBool(b bool) Val {
	if b {
		return One()
	}
	return Zero()
}

// ToUint32 returns the canonical representative of v. Elements of a 31-bit
// field always fit.
func ToUint32(v Val) uint32 {
	var b big.Int
	v.BigInt(&b)
	return uint32(b.Uint64())
}

// ToUint64 returns the canonical representative of v as a uint64.
func ToUint64(v Val) uint64 {
	var b big.Int
	v.BigInt(&b)
	return b.Uint64()
}

// Add returns a + b without mutating either operand.
func Add(a, b Val) Val {
	var z Val
	z.Add(&a, &b)
	return z
}

// Sub returns a - b.
func Sub(a, b Val) Val {
	var z Val
	z.Sub(&a, &b)
	return z
}

// Mul returns a * b.
func Mul(a, b Val) Val {
	var z Val
	z.Mul(&a, &b)
	return z
}

// Neg returns -a.
func Neg(a Val) Val {
	var z Val
	z.Neg(&a)
	return z
}

// Inv returns a^-1. Inverting zero yields zero, matching the generated
// field's convention; callers that care must check.
func Inv(a Val) Val {
	var z Val
	z.Inverse(&a)
	return z
}

// Exp returns base^k for a non-negative k.
func Exp(base Val, k *big.Int) Val {
	var z Val
	z.Exp(base, k)
	return z
}

// ExpUint64 returns base^k.
func ExpUint64(base Val, k uint64) Val {
	return Exp(base, new(big.Int).SetUint64(k))
}

// TwoAdicGenerator returns a generator of the order-2^bits subgroup.
// Panics if bits exceeds the field's two-adicity: that is a configuration
// error, not a runtime condition.
func TwoAdicGenerator(bits int) Val {
	if bits < 0 || bits > TwoAdicity {
		panic("field: requested subgroup exceeds two-adicity")
	}
	exp := new(big.Int).SetUint64(uint64(ModulusUint32 - 1))
	exp.Rsh(exp, uint(bits))
	return Exp(FromUint32(GeneratorU32), exp)
}

// Powers returns the first n powers of base, starting at one.
func Powers(base Val, n int) []Val {
	out := make([]Val, n)
	if n == 0 {
		return out
	}
	out[0].SetOne()
	for i := 1; i < n; i++ {
		out[i].Mul(&out[i-1], &base)
	}
	return out
}

// BatchInvert replaces every non-zero element of vs with its inverse using
// Montgomery's trick. Zero entries stay zero.
func BatchInvert(vs []Val) {
	n := len(vs)
	if n == 0 {
		return
	}
	prefix := make([]Val, n)
	acc := One()
	for i, v := range vs {
		prefix[i] = acc
		if !v.IsZero() {
			acc.Mul(&acc, &v)
		}
	}
	accInv := Inv(acc)
	for i := n - 1; i >= 0; i-- {
		if vs[i].IsZero() {
			continue
		}
		var inv Val
		inv.Mul(&accInv, &prefix[i])
		accInv.Mul(&accInv, &vs[i])
		vs[i] = inv
	}
}

// ReduceInt64 maps a signed 64-bit value into the field, used when trace
// generation works with signed intermediate quantities.
func ReduceInt64(v int64) Val {
	return FromInt64(v)
}
