// Package septic implements the degree-7 extension of the native field, the
// elliptic curve over it, and the digest accumulation used to bind global
// lookup events across chunks into one cumulative sum.
package septic

import (
	"math/big"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

// Degree of the extension.
const Degree = 7

// Extension is an element of F_{p^7} = F_p[z] / (z^7 - c1*z - c0).
type Extension [Degree]field.Val

// Params carries the defining polynomial and curve coefficients, taken from
// the field spec.
type Params struct {
	// z^7 = C1*z + C0
	C0, C1 field.Val
	// y^2 = x^3 + A*x + B with B = bCoeff * z^bPow
	A field.Val
	B Extension

	modulus *big.Int // p
	q       *big.Int // p^7
}

// NewParams derives the septic parameters from a field spec.
func NewParams(spec field.Spec) *Params {
	p := new(big.Int).SetUint64(uint64(spec.Modulus))
	q := new(big.Int).Exp(p, big.NewInt(Degree), nil)
	var b Extension
	b[spec.CurveBPow] = field.FromUint32(spec.CurveBCoeff)
	return &Params{
		C0:      field.FromUint32(spec.SepticCoeffs[0]),
		C1:      field.FromUint32(spec.SepticCoeffs[1]),
		A:       field.FromUint32(spec.CurveA),
		B:       b,
		modulus: p,
		q:       q,
	}
}

// Zero returns the zero element.
func Zero() Extension { return Extension{} }

// One returns the one element.
func One() Extension {
	var z Extension
	z[0] = field.One()
	return z
}

// FromBase embeds a base element.
func FromBase(v field.Val) Extension {
	var z Extension
	z[0] = v
	return z
}

// FromLimbs builds an element from its seven limbs.
func FromLimbs(limbs [Degree]field.Val) Extension { return Extension(limbs) }

// Add returns a + b.
func (a Extension) Add(b Extension) Extension {
	var z Extension
	for i := range z {
		z[i].Add(&a[i], &b[i])
	}
	return z
}

// Sub returns a - b.
func (a Extension) Sub(b Extension) Extension {
	var z Extension
	for i := range z {
		z[i].Sub(&a[i], &b[i])
	}
	return z
}

// Neg returns -a.
func (a Extension) Neg() Extension {
	var z Extension
	for i := range z {
		z[i].Neg(&a[i])
	}
	return z
}

// MulBase scales a by a base element.
func (a Extension) MulBase(s field.Val) Extension {
	var z Extension
	for i := range z {
		z[i].Mul(&a[i], &s)
	}
	return z
}

// IsZero reports whether every limb is zero.
func (a Extension) IsZero() bool {
	for i := range a {
		if !a[i].IsZero() {
			return false
		}
	}
	return true
}

// Equal reports limb-wise equality.
func (a Extension) Equal(b Extension) bool {
	for i := range a {
		if !a[i].Equal(&b[i]) {
			return false
		}
	}
	return true
}

// Mul returns a * b reduced by z^7 = C1*z + C0.
func (p *Params) Mul(a, b Extension) Extension {
	var wide [2*Degree - 1]field.Val
	for i := 0; i < Degree; i++ {
		if a[i].IsZero() {
			continue
		}
		for j := 0; j < Degree; j++ {
			var t field.Val
			t.Mul(&a[i], &b[j])
			wide[i+j].Add(&wide[i+j], &t)
		}
	}
	// Reduce top coefficients downward: z^(7+k) = C1*z^(k+1) + C0*z^k.
	for k := 2*Degree - 2; k >= Degree; k-- {
		c := wide[k]
		if c.IsZero() {
			continue
		}
		var t field.Val
		t.Mul(&c, &p.C1)
		wide[k-Degree+1].Add(&wide[k-Degree+1], &t)
		t.Mul(&c, &p.C0)
		wide[k-Degree].Add(&wide[k-Degree], &t)
		wide[k] = field.Zero()
	}
	var z Extension
	copy(z[:], wide[:Degree])
	return z
}

// Square returns a^2.
func (p *Params) Square(a Extension) Extension { return p.Mul(a, a) }

// Inv returns a^-1 via the extended Euclidean algorithm over F_p[z].
// Panics on zero, and on a zero divisor if the defining polynomial were
// reducible; both indicate a configuration bug, not bad input.
func (p *Params) Inv(a Extension) Extension {
	if a.IsZero() {
		panic("septic: inverse of zero")
	}
	// Polynomials as coefficient slices, low degree first.
	mod := make([]field.Val, Degree+1)
	mod[0] = field.Neg(p.C0)
	mod[1] = field.Neg(p.C1)
	mod[Degree] = field.One()

	r0 := trim(mod)
	r1 := trim(a[:])
	var s0, s1 []field.Val
	s0 = nil                    // coefficient of `a` in r0
	s1 = []field.Val{field.One()} // coefficient of `a` in r1

	for len(r1) > 1 || (len(r1) == 1 && !r1[0].IsZero()) {
		q, rem := polyDivMod(r0, r1)
		r0, r1 = r1, rem
		s0, s1 = s1, polySub(s0, polyMul(q, s1))
		if len(r1) == 0 {
			break
		}
		if len(r1) == 1 && !r1[0].IsZero() {
			// gcd is the constant r1[0]; normalize and finish.
			inv := field.Inv(r1[0])
			out := polyScale(s1, inv)
			var z Extension
			copy(z[:], out)
			return z
		}
	}
	panic("septic: non-invertible element (reducible modulus?)")
}

// Div returns a / b.
func (p *Params) Div(a, b Extension) Extension { return p.Mul(a, p.Inv(b)) }

// Exp returns a^k.
func (p *Params) Exp(a Extension, k *big.Int) Extension {
	result := One()
	for i := k.BitLen() - 1; i >= 0; i-- {
		result = p.Square(result)
		if k.Bit(i) == 1 {
			result = p.Mul(result, a)
		}
	}
	return result
}

// IsSquare reports whether a is a quadratic residue in F_{p^7}, by Euler's
// criterion.
func (p *Params) IsSquare(a Extension) bool {
	if a.IsZero() {
		return true
	}
	e := new(big.Int).Sub(p.q, big.NewInt(1))
	e.Rsh(e, 1)
	return p.Exp(a, e).Equal(One())
}

// Sqrt returns a square root of a and true, or (zero, false) if a is a
// non-residue. Uses Cipolla's algorithm over F_{q^2}.
func (p *Params) Sqrt(a Extension) (Extension, bool) {
	if a.IsZero() {
		return Zero(), true
	}
	if !p.IsSquare(a) {
		return Zero(), false
	}
	// Find t with t^2 - a a non-residue.
	var t Extension
	var omega2 Extension
	for i := uint64(1); ; i++ {
		t = FromBase(field.FromUint64(i))
		omega2 = p.Square(t).Sub(a)
		if omega2.IsZero() {
			// t^2 == a
			return t, true
		}
		if !p.IsSquare(omega2) {
			break
		}
	}
	// Work in F_q[w]/(w^2 - omega2); (t + w)^((q+1)/2) lands in F_q.
	e := new(big.Int).Add(p.q, big.NewInt(1))
	e.Rsh(e, 1)
	x0, x1 := One(), Zero() // running result
	b0, b1 := t, One()      // base t + w
	for i := e.BitLen() - 1; i >= 0; i-- {
		// square
		x0, x1 = p.quadMul(x0, x1, x0, x1, omega2)
		if e.Bit(i) == 1 {
			x0, x1 = p.quadMul(x0, x1, b0, b1, omega2)
		}
	}
	if !x1.IsZero() {
		return Zero(), false
	}
	return x0, true
}

func (p *Params) quadMul(a0, a1, b0, b1, omega2 Extension) (Extension, Extension) {
	// (a0 + a1 w)(b0 + b1 w) with w^2 = omega2
	t0 := p.Mul(a0, b0)
	t1 := p.Mul(a1, b1)
	c0 := t0.Add(p.Mul(t1, omega2))
	c1 := p.Mul(a0, b1).Add(p.Mul(a1, b0))
	return c0, c1
}

func trim(cs []field.Val) []field.Val {
	end := len(cs)
	for end > 0 && cs[end-1].IsZero() {
		end--
	}
	out := make([]field.Val, end)
	copy(out, cs[:end])
	return out
}

func polySub(a, b []field.Val) []field.Val {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]field.Val, n)
	for i := range out {
		var av, bv field.Val
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		out[i].Sub(&av, &bv)
	}
	return trim(out)
}

func polyMul(a, b []field.Val) []field.Val {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	out := make([]field.Val, len(a)+len(b)-1)
	for i := range a {
		if a[i].IsZero() {
			continue
		}
		for j := range b {
			var t field.Val
			t.Mul(&a[i], &b[j])
			out[i+j].Add(&out[i+j], &t)
		}
	}
	return trim(out)
}

func polyScale(a []field.Val, s field.Val) []field.Val {
	out := make([]field.Val, Degree)
	for i := range a {
		if i >= Degree {
			break
		}
		out[i].Mul(&a[i], &s)
	}
	return out
}

// polyDivMod divides a by b (b non-zero), returning quotient and remainder.
func polyDivMod(a, b []field.Val) (q, r []field.Val) {
	r = append([]field.Val(nil), a...)
	if len(b) == 0 {
		panic("septic: division by zero polynomial")
	}
	dl := len(b) - 1
	lcInv := field.Inv(b[dl])
	if len(r) <= dl {
		return nil, trim(r)
	}
	q = make([]field.Val, len(r)-dl)
	for i := len(r) - 1; i >= dl; i-- {
		if r[i].IsZero() {
			continue
		}
		c := field.Mul(r[i], lcInv)
		q[i-dl] = c
		for j := 0; j <= dl; j++ {
			var t field.Val
			t.Mul(&c, &b[j])
			r[i-dl+j].Sub(&r[i-dl+j], &t)
		}
	}
	return trim(q), trim(r)
}
