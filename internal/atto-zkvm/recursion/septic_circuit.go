package recursion

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/septic"
)

// SepticCells is a degree-7 extension element as base cells, low limb
// first.
type SepticCells [septic.Degree]Felt

// PointCells is an affine curve point over the septic extension.
type PointCells struct {
	X, Y SepticCells
}

// SepticCircuit emits septic-extension and curve arithmetic into a
// builder. Inversions are hinted and checked by a product constraint.
type SepticCircuit struct {
	b   *Builder
	par *septic.Params
}

// NewSepticCircuit derives the extension parameters from the field spec.
func NewSepticCircuit(b *Builder, spec field.Spec) *SepticCircuit {
	return &SepticCircuit{b: b, par: septic.NewParams(spec)}
}

// Const embeds a fixed extension element.
func (s *SepticCircuit) Const(v septic.Extension) SepticCells {
	var out SepticCells
	for i := range out {
		out[i] = s.b.ConstF(v[i])
	}
	return out
}

// ConstPoint embeds a fixed curve point.
func (s *SepticCircuit) ConstPoint(pt septic.Point) PointCells {
	return PointCells{X: s.Const(pt.X), Y: s.Const(pt.Y)}
}

func (s *SepticCircuit) Add(a, b SepticCells) SepticCells {
	var out SepticCells
	for i := range out {
		out[i] = s.b.AddF(a[i], b[i])
	}
	return out
}

func (s *SepticCircuit) Sub(a, b SepticCells) SepticCells {
	var out SepticCells
	for i := range out {
		out[i] = s.b.SubF(a[i], b[i])
	}
	return out
}

// Mul is the schoolbook product reduced by z^7 = C1*z + C0.
func (s *SepticCircuit) Mul(a, b SepticCells) SepticCells {
	bld := s.b
	var wide [2*septic.Degree - 1]Felt
	for k := range wide {
		wide[k] = bld.Zero()
	}
	for i := 0; i < septic.Degree; i++ {
		for j := 0; j < septic.Degree; j++ {
			wide[i+j] = bld.AddF(wide[i+j], bld.MulF(a[i], b[j]))
		}
	}
	c0 := bld.ConstF(s.par.C0)
	c1 := bld.ConstF(s.par.C1)
	for k := 2*septic.Degree - 2; k >= septic.Degree; k-- {
		wide[k-septic.Degree+1] = bld.AddF(wide[k-septic.Degree+1], bld.MulF(wide[k], c1))
		wide[k-septic.Degree] = bld.AddF(wide[k-septic.Degree], bld.MulF(wide[k], c0))
	}
	var out SepticCells
	copy(out[:], wide[:septic.Degree])
	return out
}

// Inv hints the inverse and pins a*inv to one.
func (s *SepticCircuit) Inv(a SepticCells) SepticCells {
	bld := s.b
	deps := make([]ExtVar, septic.Degree)
	for i, c := range a {
		deps[i] = bld.FeltToExt(c)
	}
	par := s.par
	hinted := bld.Hint(deps, septic.Degree, func(vals []field.Ext) []field.Ext {
		var el septic.Extension
		for i := range el {
			el[i] = vals[i].B0.A0
		}
		out := make([]field.Ext, septic.Degree)
		if el.IsZero() {
			return out
		}
		inv := par.Inv(el)
		for i := range inv {
			out[i] = field.ExtFromBase(inv[i])
		}
		return out
	})
	var inv SepticCells
	for i, h := range hinted {
		inv[i] = Felt(h)
	}
	prod := s.Mul(a, inv)
	bld.AssertConstF(prod[0], field.One())
	for i := 1; i < septic.Degree; i++ {
		bld.AssertZeroF(prod[i])
	}
	return inv
}

func (s *SepticCircuit) Div(a, b SepticCells) SepticCells {
	return s.Mul(a, s.Inv(b))
}

// AddChord adds two points with distinct x coordinates. Equal x makes the
// inverse hint unsatisfiable, so such a witness cannot verify.
func (s *SepticCircuit) AddChord(a, b PointCells) PointCells {
	slope := s.Div(s.Sub(b.Y, a.Y), s.Sub(b.X, a.X))
	x := s.Sub(s.Sub(s.Mul(slope, slope), a.X), b.X)
	y := s.Sub(s.Mul(slope, s.Sub(a.X, x)), a.Y)
	return PointCells{X: x, Y: y}
}

// CombineDigests merges two per-chunk accumulator points, subtracting the
// extra zero-start contribution, mirroring the native digest combine.
func (s *SepticCircuit) CombineDigests(a, b PointCells) PointCells {
	zero := s.par.ZeroDigest().Point()
	return s.AddChord(s.AddChord(a, b), s.ConstPoint(zero.Neg()))
}

// AssertEqual pins two extension elements limb-wise.
func (s *SepticCircuit) AssertEqual(a, b SepticCells) {
	for i := range a {
		s.b.AssertEqF(a[i], b[i])
	}
}

// PointFromPvs reads the global-sum point out of machine public-value
// cells.
func PointFromPvs(pvs []Felt) PointCells {
	var pt PointCells
	for i := 0; i < septic.Degree; i++ {
		pt.X[i] = pvs[machine.PvGlobalSumOffset+i]
		pt.Y[i] = pvs[machine.PvGlobalSumOffset+septic.Degree+i]
	}
	return pt
}
