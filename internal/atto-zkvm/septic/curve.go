package septic

import (
	"sync"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/parallel"
)

// Point is an affine point on y^2 = x^3 + A*x + B over F_{p^7}, with an
// explicit marker for the point at infinity so summation is total.
type Point struct {
	X, Y  Extension
	IsInf bool
}

// Infinity returns the identity point.
func Infinity() Point { return Point{IsInf: true} }

// Neg returns -p.
func (pt Point) Neg() Point {
	if pt.IsInf {
		return pt
	}
	return Point{X: pt.X, Y: pt.Y.Neg()}
}

// Equal reports whether two points are identical.
func (pt Point) Equal(o Point) bool {
	if pt.IsInf || o.IsInf {
		return pt.IsInf == o.IsInf
	}
	return pt.X.Equal(o.X) && pt.Y.Equal(o.Y)
}

// OnCurve reports whether the point satisfies the curve equation.
func (p *Params) OnCurve(pt Point) bool {
	if pt.IsInf {
		return true
	}
	lhs := p.Square(pt.Y)
	rhs := p.Mul(p.Square(pt.X), pt.X)
	rhs = rhs.Add(pt.X.MulBase(p.A)).Add(p.B)
	return lhs.Equal(rhs)
}

// AddChord adds two points with distinct x coordinates. The trace
// constraints only ever use this incomplete form; callers must guarantee
// distinctness, which the offset construction in digests provides.
func (p *Params) AddChord(a, b Point) Point {
	slope := p.Div(b.Y.Sub(a.Y), b.X.Sub(a.X))
	x := p.Square(slope).Sub(a.X).Sub(b.X)
	y := p.Mul(slope, a.X.Sub(x)).Sub(a.Y)
	return Point{X: x, Y: y}
}

// Double returns 2*a.
func (p *Params) Double(a Point) Point {
	if a.IsInf || a.Y.IsZero() {
		return Infinity()
	}
	// slope = (3x^2 + A) / 2y
	num := p.Square(a.X).MulBase(field.FromUint32(3))
	num[0].Add(&num[0], &p.A)
	den := a.Y.MulBase(field.FromUint32(2))
	slope := p.Div(num, den)
	x := p.Square(slope).Sub(a.X).Sub(a.X)
	y := p.Mul(slope, a.X.Sub(x)).Sub(a.Y)
	return Point{X: x, Y: y}
}

// Add is the complete group law.
func (p *Params) Add(a, b Point) Point {
	switch {
	case a.IsInf:
		return b
	case b.IsInf:
		return a
	case a.X.Equal(b.X):
		if a.Y.Equal(b.Y) {
			return p.Double(a)
		}
		return Infinity()
	default:
		return p.AddChord(a, b)
	}
}

// LiftX maps a message to a curve point by perturbing the top limb with the
// smallest offset that makes x^3 + A*x + B a square. The chosen root's
// low-limb parity encodes the send/receive direction: receives get the root
// whose canonical first limb lies in [1, (p-1)/2].
func (p *Params) LiftX(m Extension, isReceive bool) (Point, uint8) {
	half := uint32((field.ModulusUint32 - 1) / 2)
	for offset := 0; offset < 256; offset++ {
		x := m
		x[6].Add(&x[6], ptrOf(field.FromUint32(uint32(offset))))
		rhs := p.Mul(p.Square(x), x)
		rhs = rhs.Add(x.MulBase(p.A)).Add(p.B)
		y, ok := p.Sqrt(rhs)
		if !ok {
			continue
		}
		y0 := field.ToUint32(y[0])
		if y0 == 0 {
			continue
		}
		low := y0 >= 1 && y0 <= half
		if low != isReceive {
			y = y.Neg()
		}
		return Point{X: x, Y: y}, uint8(offset)
	}
	panic("septic: no liftable offset within 256 tries")
}

func ptrOf(v field.Val) *field.Val { return &v }

// Digest is a running curve-point accumulator. Summation uses the
// offset-start trick: accumulation begins at a fixed start point that is
// subtracted back out at the end, so intermediate sums never hit the
// degenerate equal-x cases of the chord rule.
type Digest struct {
	point Point
}

var (
	startOnce sync.Once
	startSum  Point
	startZero Point
)

// start points are lifted from fixed tag messages once per process. Any
// message works; these only need stable, curve-valid values distinct from
// every event digest with overwhelming probability.
func startPoints(p *Params) (sum, zero Point) {
	startOnce.Do(func() {
		var m Extension
		for i := range m {
			m[i] = field.FromUint64(0x6163_6375 + uint64(i)*0x9e37_79b9)
		}
		startSum, _ = p.LiftX(m, true)
		for i := range m {
			m[i] = field.FromUint64(0x7a65_726f + uint64(i)*0x9e37_79b9)
		}
		startZero, _ = p.LiftX(m, false)
	})
	return startSum, startZero
}

// StartPoint is the fixed offset used by the accumulator rows in the trace.
func (p *Params) StartPoint() Point {
	sum, _ := startPoints(p)
	return sum
}

// ZeroDigest is the digest of an empty event set.
func (p *Params) ZeroDigest() Digest {
	_, zero := startPoints(p)
	return Digest{point: zero}
}

// DigestOf wraps a single event point.
func (p *Params) DigestOf(pt Point) Digest { return Digest{point: pt} }

// Point exposes the underlying accumulator point.
func (d Digest) Point() Point { return d.point }

// IsZero reports whether the digest equals the empty-set digest.
func (p *Params) DigestIsZero(d Digest) bool {
	_, zero := startPoints(p)
	return d.point.Equal(zero)
}

// SumDigests folds a slice of event points into one digest, starting from
// the zero-start point. The constraint system uses the chord-only variant
// with the same start, and the two agree on the final value.
func (p *Params) SumDigests(points []Point) Digest {
	_, zero := startPoints(p)
	acc := zero
	for _, pt := range points {
		acc = p.Add(acc, pt)
	}
	return Digest{point: acc}
}

// SumDigestsParallel splits the fold across workers. Complete addition is
// associative, so chunked partial sums combine exactly.
func (p *Params) SumDigestsParallel(points []Point) Digest {
	const minChunk = 1 << 12
	if len(points) < minChunk {
		return p.SumDigests(points)
	}
	workers := (len(points) + minChunk - 1) / minChunk
	partials := make([]Point, workers)
	var next int
	var mu sync.Mutex
	parallel.Execute(len(points), func(start, end int) {
		acc := Infinity()
		for _, pt := range points[start:end] {
			acc = p.Add(acc, pt)
		}
		mu.Lock()
		partials[next] = acc
		next++
		mu.Unlock()
	})
	_, zero := startPoints(p)
	acc := zero
	for _, part := range partials[:next] {
		acc = p.Add(acc, part)
	}
	return Digest{point: acc}
}

// CombineDigests merges two per-chunk digests into one, removing the extra
// zero-start contribution so digests stay additive across chunks.
func (p *Params) CombineDigests(a, b Digest) Digest {
	_, zero := startPoints(p)
	acc := p.Add(a.point, b.point)
	acc = p.Add(acc, zero.Neg())
	return Digest{point: acc}
}
