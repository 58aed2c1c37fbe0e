package septic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

func testParams() *Params { return NewParams(field.DefaultSpec()) }

func randomExt(seed uint64) Extension {
	var m Extension
	for i := range m {
		seed = seed*6364136223846793005 + 1442695040888963407
		m[i] = field.FromUint64(seed >> 11)
	}
	return m
}

func TestExtensionFieldAxioms(t *testing.T) {
	p := testParams()
	a := randomExt(1)
	b := randomExt(2)
	c := randomExt(3)

	t.Run("mul_commutes", func(t *testing.T) {
		require.True(t, p.Mul(a, b).Equal(p.Mul(b, a)))
	})
	t.Run("mul_associates", func(t *testing.T) {
		require.True(t, p.Mul(p.Mul(a, b), c).Equal(p.Mul(a, p.Mul(b, c))))
	})
	t.Run("distributes", func(t *testing.T) {
		require.True(t, p.Mul(a, b.Add(c)).Equal(p.Mul(a, b).Add(p.Mul(a, c))))
	})
	t.Run("inverse", func(t *testing.T) {
		require.True(t, p.Mul(a, p.Inv(a)).Equal(One()))
		require.True(t, p.Mul(b, p.Inv(b)).Equal(One()))
	})
	t.Run("base_embedding", func(t *testing.T) {
		x := field.FromUint64(12345)
		y := field.FromUint64(67890)
		got := p.Mul(FromBase(x), FromBase(y))
		require.True(t, got.Equal(FromBase(field.Mul(x, y))))
	})
}

func TestSqrt(t *testing.T) {
	p := testParams()
	for seed := uint64(10); seed < 20; seed++ {
		a := randomExt(seed)
		sq := p.Square(a)
		require.True(t, p.IsSquare(sq))
		root, ok := p.Sqrt(sq)
		require.True(t, ok)
		if !root.Equal(a) {
			require.True(t, root.Equal(a.Neg()), "root must be +-a")
		}
		require.True(t, p.Square(root).Equal(sq))
	}
}

func TestLiftXProducesCurvePoints(t *testing.T) {
	p := testParams()
	half := uint32((field.ModulusUint32 - 1) / 2)
	for seed := uint64(100); seed < 110; seed++ {
		m := randomExt(seed)
		recv, _ := p.LiftX(m, true)
		send, _ := p.LiftX(m, false)
		require.True(t, p.OnCurve(recv))
		require.True(t, p.OnCurve(send))
		require.True(t, recv.X.Equal(send.X))
		require.True(t, recv.Y.Equal(send.Y.Neg()))
		y0 := field.ToUint32(recv.Y[0])
		require.True(t, y0 >= 1 && y0 <= half)
	}
}

func TestGroupLaw(t *testing.T) {
	p := testParams()
	a, _ := p.LiftX(randomExt(7), true)
	b, _ := p.LiftX(randomExt(8), false)
	c, _ := p.LiftX(randomExt(9), true)

	t.Run("closure", func(t *testing.T) {
		require.True(t, p.OnCurve(p.Add(a, b)))
		require.True(t, p.OnCurve(p.Double(a)))
	})
	t.Run("identity", func(t *testing.T) {
		require.True(t, p.Add(a, Infinity()).Equal(a))
		require.True(t, p.Add(Infinity(), a).Equal(a))
		require.True(t, p.Add(a, a.Neg()).Equal(Infinity()))
	})
	t.Run("commutes", func(t *testing.T) {
		require.True(t, p.Add(a, b).Equal(p.Add(b, a)))
	})
	t.Run("associates", func(t *testing.T) {
		left := p.Add(p.Add(a, b), c)
		right := p.Add(a, p.Add(b, c))
		require.True(t, left.Equal(right))
	})
	t.Run("double_matches_add", func(t *testing.T) {
		require.True(t, p.Double(a).Equal(p.Add(a, a)))
	})
}

func TestDigestSummation(t *testing.T) {
	p := testParams()
	points := make([]Point, 40)
	for i := range points {
		points[i], _ = p.LiftX(randomExt(uint64(1000+i)), i%2 == 0)
	}

	t.Run("empty_is_zero", func(t *testing.T) {
		require.True(t, p.DigestIsZero(p.SumDigests(nil)))
	})
	t.Run("parallel_matches_serial", func(t *testing.T) {
		serial := p.SumDigests(points)
		par := p.SumDigestsParallel(points)
		require.True(t, serial.Point().Equal(par.Point()))
	})
	t.Run("combine_is_additive", func(t *testing.T) {
		whole := p.SumDigests(points)
		left := p.SumDigests(points[:17])
		right := p.SumDigests(points[17:])
		require.True(t, p.CombineDigests(left, right).Point().Equal(whole.Point()))
	})
	t.Run("send_receive_cancel", func(t *testing.T) {
		m := randomExt(4242)
		recv, _ := p.LiftX(m, true)
		send := recv.Neg()
		d := p.SumDigests([]Point{recv, send})
		require.True(t, p.DigestIsZero(d))
	})
}
