package field

import "math/big"

// ExtDegree is the degree of the challenge extension over the native field.
const ExtDegree = 4

// ExtZero returns the additive identity of the extension.
func ExtZero() Ext {
	var z Ext
	return z
}

// ExtOne returns the multiplicative identity of the extension.
func ExtOne() Ext {
	var z Ext
	z.B0.A0.SetOne()
	return z
}

// ExtFromBase embeds a base element into the extension.
func ExtFromBase(v Val) Ext {
	var z Ext
	z.B0.A0 = v
	return z
}

// ExtFromLimbs assembles an extension element from its four base limbs in
// (B0.A0, B0.A1, B1.A0, B1.A1) order, the same flattening gnark uses.
func ExtFromLimbs(l [ExtDegree]Val) Ext {
	var z Ext
	z.B0.A0 = l[0]
	z.B0.A1 = l[1]
	z.B1.A0 = l[2]
	z.B1.A1 = l[3]
	return z
}

// ExtLimbs returns the four base limbs of v.
func ExtLimbs(v Ext) [ExtDegree]Val {
	return [ExtDegree]Val{v.B0.A0, v.B0.A1, v.B1.A0, v.B1.A1}
}

// ExtTowerQnr returns the quadratic non-residue w with u^2 = w in the
// degree-2 subfield of the tower, derived by squaring u itself so the value
// tracks whichever base field is compiled in.
func ExtTowerQnr() Val {
	var u Ext
	u.B0.A1.SetOne()
	sq := ExtMul(u, u)
	return sq.B0.A0
}

// ExtAdd returns a + b.
func ExtAdd(a, b Ext) Ext {
	var z Ext
	z.Add(&a, &b)
	return z
}

// ExtSub returns a - b.
func ExtSub(a, b Ext) Ext {
	return ExtAdd(a, ExtNeg(b))
}

// ExtNeg returns -a, limb by limb.
func ExtNeg(a Ext) Ext {
	l := ExtLimbs(a)
	for i := range l {
		l[i] = Neg(l[i])
	}
	return ExtFromLimbs(l)
}

// ExtMul returns a * b.
func ExtMul(a, b Ext) Ext {
	var z Ext
	z.Mul(&a, &b)
	return z
}

// ExtMulBase returns a scaled by the base element s.
func ExtMulBase(a Ext, s Val) Ext {
	l := ExtLimbs(a)
	for i := range l {
		l[i] = Mul(l[i], s)
	}
	return ExtFromLimbs(l)
}

// ExtInv returns a^-1.
func ExtInv(a Ext) Ext {
	var z Ext
	z.Inverse(&a)
	return z
}

// ExtDiv returns a / b.
func ExtDiv(a, b Ext) Ext {
	return ExtMul(a, ExtInv(b))
}

// ExtSquare returns a^2.
func ExtSquare(a Ext) Ext {
	return ExtMul(a, a)
}

// ExtEqual reports limb-wise equality.
func ExtEqual(a, b Ext) bool {
	la, lb := ExtLimbs(a), ExtLimbs(b)
	for i := range la {
		if !la[i].Equal(&lb[i]) {
			return false
		}
	}
	return true
}

// ExtIsZero reports whether every limb is zero.
func ExtIsZero(a Ext) bool {
	l := ExtLimbs(a)
	for i := range l {
		if !l[i].IsZero() {
			return false
		}
	}
	return true
}

// ExtExp returns base^k by square and multiply.
func ExtExp(base Ext, k *big.Int) Ext {
	if k.Sign() < 0 {
		panic("field: negative extension exponent")
	}
	result := ExtOne()
	for i := k.BitLen() - 1; i >= 0; i-- {
		result = ExtSquare(result)
		if k.Bit(i) == 1 {
			result = ExtMul(result, base)
		}
	}
	return result
}

// ExtExpUint64 returns base^k.
func ExtExpUint64(base Ext, k uint64) Ext {
	return ExtExp(base, new(big.Int).SetUint64(k))
}

// ExtPowers returns the first n powers of base, starting at one.
func ExtPowers(base Ext, n int) []Ext {
	out := make([]Ext, n)
	if n == 0 {
		return out
	}
	out[0] = ExtOne()
	for i := 1; i < n; i++ {
		out[i] = ExtMul(out[i-1], base)
	}
	return out
}

// ExtSum adds up vs.
func ExtSum(vs []Ext) Ext {
	acc := ExtZero()
	for _, v := range vs {
		acc = ExtAdd(acc, v)
	}
	return acc
}

// ExtBatchInvert inverts every non-zero element of vs in place using one
// inversion for the whole batch. Zero entries are left as zero.
func ExtBatchInvert(vs []Ext) {
	if len(vs) == 0 {
		return
	}
	prefix := make([]Ext, len(vs))
	acc := ExtOne()
	for i, v := range vs {
		prefix[i] = acc
		if !ExtIsZero(v) {
			acc = ExtMul(acc, v)
		}
	}
	inv := ExtInv(acc)
	for i := len(vs) - 1; i >= 0; i-- {
		if ExtIsZero(vs[i]) {
			continue
		}
		v := vs[i]
		vs[i] = ExtMul(inv, prefix[i])
		inv = ExtMul(inv, v)
	}
}

// ExtFlatten appends the limbs of each element of vs to out and returns it.
// Used when an extension-valued trace is committed as base columns.
func ExtFlatten(out []Val, vs []Ext) []Val {
	for _, v := range vs {
		l := ExtLimbs(v)
		out = append(out, l[0], l[1], l[2], l[3])
	}
	return out
}
