package field

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func genElem() gopter.Gen {
	return gen.UInt32Range(0, ModulusUint32-1).Map(FromUint32)
}

func genNonZero() gopter.Gen {
	return gen.UInt32Range(1, ModulusUint32-1).Map(FromUint32)
}

func TestFieldAxioms(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("addition commutes", prop.ForAll(
		func(a, b Val) bool { return Add(a, b) == Add(b, a) },
		genElem(), genElem(),
	))
	properties.Property("multiplication distributes", prop.ForAll(
		func(a, b, c Val) bool {
			return Mul(a, Add(b, c)) == Add(Mul(a, b), Mul(a, c))
		},
		genElem(), genElem(), genElem(),
	))
	properties.Property("multiplication associates", prop.ForAll(
		func(a, b, c Val) bool {
			return Mul(Mul(a, b), c) == Mul(a, Mul(b, c))
		},
		genElem(), genElem(), genElem(),
	))
	properties.Property("inverse cancels", prop.ForAll(
		func(a Val) bool { return Mul(a, Inv(a)) == One() },
		genNonZero(),
	))
	properties.Property("negation cancels", prop.ForAll(
		func(a Val) bool { return Add(a, Neg(a)) == Zero() },
		genElem(),
	))
	properties.Property("canonical view round-trips", prop.ForAll(
		func(a Val) bool { return FromUint32(ToUint32(a)) == a },
		genElem(),
	))

	properties.TestingRun(t)
}

func TestExtensionAxioms(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	genExt := gopter.CombineGens(genElem(), genElem(), genElem(), genElem()).
		Map(func(vs []interface{}) Ext {
			return ExtFromLimbs([ExtDegree]Val{
				vs[0].(Val), vs[1].(Val), vs[2].(Val), vs[3].(Val),
			})
		})

	properties.Property("multiplication commutes", prop.ForAll(
		func(a, b Ext) bool { return ExtEqual(ExtMul(a, b), ExtMul(b, a)) },
		genExt, genExt,
	))
	properties.Property("inverse cancels", prop.ForAll(
		func(a Ext) bool {
			if ExtIsZero(a) {
				return true
			}
			return ExtEqual(ExtMul(a, ExtInv(a)), ExtOne())
		},
		genExt,
	))
	properties.Property("base embedding is a homomorphism", prop.ForAll(
		func(a, b Val) bool {
			return ExtEqual(ExtMul(ExtFromBase(a), ExtFromBase(b)), ExtFromBase(Mul(a, b)))
		},
		genElem(), genElem(),
	))

	properties.TestingRun(t)
}

func randomVals(rng *rand.Rand, n int) []Val {
	vs := make([]Val, n)
	for i := range vs {
		vs[i] = FromUint32(rng.Uint32() % ModulusUint32)
	}
	return vs
}

func TestNTTRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 2, 8, 64, 256} {
		coeffs := randomVals(rng, n)
		evals := append([]Val(nil), coeffs...)
		NTT(evals)
		INTT(evals)
		require.Equal(t, coeffs, evals, "size %d", n)
	}
}

func TestNTTMatchesHorner(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	coeffs := randomVals(rng, 16)
	evals := append([]Val(nil), coeffs...)
	NTT(evals)

	d := NewDomain(16)
	for i := range evals {
		require.Equal(t, EvalCoeffsBase(coeffs, d.Point(i)), evals[i], "point %d", i)
	}
}

func TestCosetLDEPreservesDegree(t *testing.T) {
	const n, logBlowup = 32, 2
	rng := rand.New(rand.NewSource(3))
	coeffs := randomVals(rng, n)
	evals := append([]Val(nil), coeffs...)
	NTT(evals)

	shift := CanonicalShift(Log2Strict(n << logBlowup))
	extended := CosetLDE(evals, logBlowup, shift)
	require.Len(t, extended, n<<logBlowup)

	// The extension evaluates the same low-degree polynomial on the coset.
	coset := Domain{LogN: Log2Strict(n << logBlowup), Shift: shift}
	for _, i := range []int{0, 1, 17, n, len(extended) - 1} {
		require.Equal(t, EvalCoeffsBase(coeffs, coset.Point(i)), extended[i], "point %d", i)
	}

	// Interpolating over the coset leaves the high coefficients zero.
	scaled := append([]Val(nil), extended...)
	INTT(scaled)
	shiftInv := Inv(shift)
	for i, c := range scaled {
		if i < n {
			require.Equal(t, coeffs[i], Mul(c, ExpUint64(shiftInv, uint64(i))), "coeff %d", i)
		} else {
			require.True(t, c.IsZero(), "coeff %d should vanish", i)
		}
	}
}

func TestCanonicalShiftTower(t *testing.T) {
	for logN := 2; logN <= 10; logN++ {
		big := CanonicalShift(logN)
		small := CanonicalShift(logN - 1)
		require.Equal(t, small, Mul(big, big), "logN %d", logN)
	}
}

func TestBatchInvertMatchesInv(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	vs := randomVals(rng, 33)
	want := make([]Val, len(vs))
	for i, v := range vs {
		if !v.IsZero() {
			want[i] = Inv(v)
		}
	}
	BatchInvert(vs)
	require.Equal(t, want, vs)
}

func TestSelectorsAtPoint(t *testing.T) {
	d := NewDomain(16)
	x := ExtFromLimbs([ExtDegree]Val{FromUint32(7), FromUint32(11), FromUint32(13), FromUint32(17)})

	sel := d.SelectorsAtPoint(x)
	z := ExtSub(ExtExpUint64(x, uint64(d.Size())), ExtOne())
	require.True(t, ExtEqual(ExtMul(sel.InvZerofier, z), ExtOne()))
	require.True(t, ExtEqual(ExtMul(sel.IsFirstRow, ExtSub(x, ExtOne())), z))

	// At a domain point the zerofier vanishes.
	onDomain := ExtFromBase(d.Point(5))
	require.True(t, ExtIsZero(d.ZerofierAtPoint(onDomain)))
}
