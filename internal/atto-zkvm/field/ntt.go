package field

import "math/bits"

// Log2Strict returns log2(n) and panics unless n is a power of two. Trace
// heights are powers of two by construction; anything else is a bug.
func Log2Strict(n int) int {
	if n <= 0 || n&(n-1) != 0 {
		panic("field: size is not a power of two")
	}
	return bits.TrailingZeros(uint(n))
}

// BitReverseIndex reverses the low `logN` bits of i.
func BitReverseIndex(i, logN int) int {
	return int(bits.Reverse32(uint32(i)) >> (32 - logN))
}

// BitReversePermute reorders xs in bit-reversed index order, in place.
func BitReversePermute(xs []Val) {
	logN := Log2Strict(len(xs))
	for i := range xs {
		j := BitReverseIndex(i, logN)
		if i < j {
			xs[i], xs[j] = xs[j], xs[i]
		}
	}
}

// NTT evaluates the polynomial with coefficients cs over the two-adic
// subgroup of size len(cs), in place, natural order in and out.
func NTT(cs []Val) {
	nttCore(cs, false)
}

// INTT interpolates evaluations over the two-adic subgroup back into
// coefficients, in place.
func INTT(es []Val) {
	nttCore(es, true)
	n := len(es)
	nInv := Inv(FromUint64(uint64(n)))
	for i := range es {
		es[i].Mul(&es[i], &nInv)
	}
}

func nttCore(xs []Val, inverse bool) {
	n := len(xs)
	if n == 1 {
		return
	}
	logN := Log2Strict(n)
	BitReversePermute(xs)

	for layer := 1; layer <= logN; layer++ {
		m := 1 << layer
		half := m >> 1
		root := TwoAdicGenerator(layer)
		if inverse {
			root = Inv(root)
		}
		for start := 0; start < n; start += m {
			w := One()
			for k := 0; k < half; k++ {
				var t Val
				t.Mul(&xs[start+k+half], &w)
				var u Val
				u.Set(&xs[start+k])
				xs[start+k].Add(&u, &t)
				xs[start+k+half].Sub(&u, &t)
				w.Mul(&w, &root)
			}
		}
	}
}

// CosetLDE takes evaluations over the size-n subgroup and returns
// evaluations of the same polynomial over the coset shift*K of the subgroup
// K of size n << logBlowup.
func CosetLDE(evals []Val, logBlowup int, shift Val) []Val {
	n := len(evals)
	coeffs := make([]Val, n)
	copy(coeffs, evals)
	INTT(coeffs)

	extended := make([]Val, n<<logBlowup)
	s := One()
	for i := 0; i < n; i++ {
		extended[i].Mul(&coeffs[i], &s)
		s.Mul(&s, &shift)
	}
	NTT(extended)
	return extended
}

// CanonicalShift returns the coset shift used for the commitment domain of
// size 2^logN. Shifts are chosen so that squaring (the fold map x -> x^2)
// carries the size-n canonical coset exactly onto the size-n/2 one:
// shift(n)^2 == shift(n/2).
func CanonicalShift(logN int) Val {
	if logN > TwoAdicity {
		panic("field: domain exceeds two-adicity")
	}
	return ExpUint64(FromUint32(GeneratorU32), 1<<(TwoAdicity-logN))
}

// InterpolateCoeffs returns the coefficient form of evaluations over the
// size-n subgroup.
func InterpolateCoeffs(evals []Val) []Val {
	coeffs := make([]Val, len(evals))
	copy(coeffs, evals)
	INTT(coeffs)
	return coeffs
}

// EvalCoeffsExt evaluates a base-coefficient polynomial at an extension
// point by Horner's rule.
func EvalCoeffsExt(coeffs []Val, x Ext) Ext {
	acc := ExtZero()
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc = ExtAdd(ExtMul(acc, x), ExtFromBase(coeffs[i]))
	}
	return acc
}

// EvalCoeffsBase evaluates a base-coefficient polynomial at a base point.
func EvalCoeffsBase(coeffs []Val, x Val) Val {
	var acc Val
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(&acc, &x)
		acc.Add(&acc, &coeffs[i])
	}
	return acc
}

// Domain is a (shifted) two-adic evaluation domain.
type Domain struct {
	LogN  int
	Shift Val
}

// NewDomain returns the natural trace domain for the given height.
func NewDomain(height int) Domain {
	return Domain{LogN: Log2Strict(height), Shift: One()}
}

// Size returns the number of points in the domain.
func (d Domain) Size() int { return 1 << d.LogN }

// Generator returns the subgroup generator.
func (d Domain) Generator() Val { return TwoAdicGenerator(d.LogN) }

// Point returns the i-th domain point shift * g^i.
func (d Domain) Point(i int) Val {
	return Mul(d.Shift, ExpUint64(d.Generator(), uint64(i)))
}

// CreateDisjointCoset returns a domain of the given size shifted so that it
// is disjoint from every trace domain, used for quotient evaluation.
func (d Domain) CreateDisjointCoset(logN int) Domain {
	return Domain{LogN: logN, Shift: Mul(d.Shift, FromUint32(GeneratorU32))}
}

// NextPoint maps x to g*x, the evaluation point of the "next row".
func (d Domain) NextPoint(x Ext) Ext {
	return ExtMulBase(x, d.Generator())
}

// ZerofierAtPoint evaluates the vanishing polynomial (x/shift)^n - 1, the
// same normalization Selectors.InvZerofier inverts: prover-side division and
// verifier-side reconstruction must agree on it.
func (d Domain) ZerofierAtPoint(x Ext) Ext {
	z := ExtMulBase(x, Inv(d.Shift))
	zn := ExtExpUint64(z, uint64(d.Size()))
	return ExtSub(zn, ExtOne())
}

// Selectors are the row-position selector polynomials evaluated at a point.
type Selectors struct {
	IsFirstRow   Ext
	IsLastRow    Ext
	IsTransition Ext
	InvZerofier  Ext
}

// SelectorsAtPoint evaluates the selectors at an out-of-domain point. The
// point must not lie on the domain (the zerofier inverse would not exist);
// Fiat-Shamir sampled points miss the domain with overwhelming probability.
func (d Domain) SelectorsAtPoint(x Ext) Selectors {
	n := uint64(d.Size())
	shiftInv := Inv(d.Shift)
	z := ExtMulBase(x, shiftInv) // unshifted point
	zn := ExtExpUint64(z, n)
	znMinusOne := ExtSub(zn, ExtOne())
	gInv := Inv(d.Generator())

	one := ExtOne()
	return Selectors{
		IsFirstRow:   ExtDiv(znMinusOne, ExtSub(z, one)),
		IsLastRow:    ExtDiv(znMinusOne, ExtSub(z, ExtFromBase(gInv))),
		IsTransition: ExtSub(z, ExtFromBase(gInv)),
		InvZerofier:  ExtInv(znMinusOne),
	}
}
