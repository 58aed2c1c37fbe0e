package machine

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

// Builder collects a chip's constraints and lookups during Eval. Every
// asserted expression must vanish on all real and padding rows; transition
// constraints are additionally multiplied by the transition selector so the
// last-to-first row wraparound is exempt.
type Builder struct {
	preWidth  int
	mainWidth int

	constraints []Expr
	lookups     []Lookup
}

// NewBuilder returns a builder for a chip with the given trace widths.
func NewBuilder(preWidth, mainWidth int) *Builder {
	return &Builder{preWidth: preWidth, mainWidth: mainWidth}
}

func (b *Builder) check(seg Segment, col int) {
	w := b.mainWidth
	if seg == SegPreprocessed {
		w = b.preWidth
	}
	if col < 0 || col >= w {
		panic(fmt.Sprintf("machine: column %d out of range (width %d)", col, w))
	}
}

// Local reads main-trace column col of the current row.
func (b *Builder) Local(col int) Expr {
	b.check(SegMain, col)
	return VarExpr{Seg: SegMain, Offset: 0, Col: col}
}

// Next reads main-trace column col of the following row.
func (b *Builder) Next(col int) Expr {
	b.check(SegMain, col)
	return VarExpr{Seg: SegMain, Offset: 1, Col: col}
}

// PreLocal reads preprocessed column col of the current row.
func (b *Builder) PreLocal(col int) Expr {
	b.check(SegPreprocessed, col)
	return VarExpr{Seg: SegPreprocessed, Offset: 0, Col: col}
}

// PreNext reads preprocessed column col of the following row.
func (b *Builder) PreNext(col int) Expr {
	b.check(SegPreprocessed, col)
	return VarExpr{Seg: SegPreprocessed, Offset: 1, Col: col}
}

// Public reads the i-th public value.
func (b *Builder) Public(i int) Expr { return PublicExpr{Idx: i} }

// IsFirstRow, IsLastRow, IsTransition expose the row selectors.
func (b *Builder) IsFirstRow() Expr   { return SelectorExpr{Kind: SelFirstRow} }
func (b *Builder) IsLastRow() Expr    { return SelectorExpr{Kind: SelLastRow} }
func (b *Builder) IsTransition() Expr { return SelectorExpr{Kind: SelTransition} }

// AssertZero requires e == 0 on every row.
func (b *Builder) AssertZero(e Expr) {
	b.constraints = append(b.constraints, e)
}

// AssertEq requires l == r on every row.
func (b *Builder) AssertEq(l, r Expr) {
	b.AssertZero(Sub(l, r))
}

// AssertBool requires e ∈ {0, 1} on every row.
func (b *Builder) AssertBool(e Expr) {
	b.AssertZero(Mul(e, Sub(e, Const(field.One()))))
}

// AssertZeroTransition requires e == 0 on every row but the last.
func (b *Builder) AssertZeroTransition(e Expr) {
	b.AssertZero(Mul(b.IsTransition(), e))
}

// AssertEqFirstRow requires l == r on the first row.
func (b *Builder) AssertEqFirstRow(l, r Expr) {
	b.AssertZero(Mul(b.IsFirstRow(), Sub(l, r)))
}

// AssertEqLastRow requires l == r on the last row.
func (b *Builder) AssertEqLastRow(l, r Expr) {
	b.AssertZero(Mul(b.IsLastRow(), Sub(l, r)))
}

// Looking emits a consuming lookup.
func (b *Builder) Looking(t LookupType, scope LookupScope, values []Expr, mult Expr) {
	b.lookups = append(b.lookups, Lookup{Type: t, Scope: scope, Values: values, Mult: mult})
}

// Looked emits a producing lookup.
func (b *Builder) Looked(t LookupType, scope LookupScope, values []Expr, mult Expr) {
	b.lookups = append(b.lookups, Lookup{Type: t, Scope: scope, Values: values, Mult: mult, IsLooked: true})
}

// Constraints returns the collected constraint expressions.
func (b *Builder) Constraints() []Expr { return b.constraints }

// Lookups returns the collected lookups.
func (b *Builder) Lookups() []Lookup { return b.lookups }

// MaxConstraintDegree returns the highest constraint degree, treating the
// permutation argument's contribution as at least quadratic.
func (b *Builder) MaxConstraintDegree() int {
	deg := 2
	for _, c := range b.constraints {
		if d := c.Degree(); d > deg {
			deg = d
		}
	}
	// Permutation columns multiply (challenge - value) pairs per batch plus
	// the multiplicity, so lookup degree also bounds the quotient degree.
	for _, lk := range b.lookups {
		d := lk.Mult.Degree() + 1
		for _, v := range lk.Values {
			if vd := v.Degree() + 1; vd > d {
				d = vd
			}
		}
		if d > deg {
			deg = d
		}
	}
	return deg
}

// LogQuotientDegree returns log2 of the quotient-chunk count implied by the
// constraint degrees.
func (b *Builder) LogQuotientDegree() int {
	d := b.MaxConstraintDegree() - 1
	lg := 0
	for (1 << lg) < d {
		lg++
	}
	return lg
}
