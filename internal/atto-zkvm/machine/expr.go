package machine

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

// Segment identifies which trace a variable reads from.
type Segment uint8

const (
	SegPreprocessed Segment = iota
	SegMain
)

// SelectorKind identifies the row-position selector polynomials.
type SelectorKind uint8

const (
	SelFirstRow SelectorKind = iota
	SelLastRow
	SelTransition
)

// Expr is a symbolic polynomial over trace columns, public values, and
// selectors. Chips build their constraints once as expressions; the same
// tree is then evaluated in three ways: for degree analysis at setup, over
// coset rows in the prover's quotient pass, and at the out-of-domain point
// in the verifier.
type Expr interface {
	// Degree is the total polynomial degree in the trace columns.
	Degree() int
}

// ConstExpr is a base-field constant.
type ConstExpr struct{ V field.Val }

// VarExpr reads column Col of the local (Offset 0) or next (Offset 1) row.
type VarExpr struct {
	Seg    Segment
	Offset int
	Col    int
}

// PublicExpr reads the i-th public value.
type PublicExpr struct{ Idx int }

// SelectorExpr is one of the row-position selectors.
type SelectorExpr struct{ Kind SelectorKind }

// AddExpr, SubExpr, MulExpr, NegExpr are the arithmetic nodes.
type AddExpr struct{ L, R Expr }
type SubExpr struct{ L, R Expr }
type MulExpr struct{ L, R Expr }
type NegExpr struct{ X Expr }

func (ConstExpr) Degree() int    { return 0 }
func (VarExpr) Degree() int      { return 1 }
func (PublicExpr) Degree() int   { return 0 }
func (SelectorExpr) Degree() int { return 1 }
func (e AddExpr) Degree() int    { return max(e.L.Degree(), e.R.Degree()) }
func (e SubExpr) Degree() int    { return max(e.L.Degree(), e.R.Degree()) }
func (e MulExpr) Degree() int    { return e.L.Degree() + e.R.Degree() }
func (e NegExpr) Degree() int    { return e.X.Degree() }

// Constructors used by chip Eval code.

func Const(v field.Val) Expr      { return ConstExpr{V: v} }
func ConstU32(v uint32) Expr      { return ConstExpr{V: field.FromUint32(v)} }
func Add(l, r Expr) Expr          { return AddExpr{L: l, R: r} }
func Sub(l, r Expr) Expr          { return SubExpr{L: l, R: r} }
func Mul(l, r Expr) Expr          { return MulExpr{L: l, R: r} }
func Neg(x Expr) Expr             { return NegExpr{X: x} }
func AddMany(es ...Expr) Expr {
	acc := es[0]
	for _, e := range es[1:] {
		acc = Add(acc, e)
	}
	return acc
}

// EvalEnv supplies variable assignments for one evaluation of an expression
// tree. Everything is in the challenge field: the prover embeds base row
// values, the verifier plugs in opened values at zeta.
type EvalEnv struct {
	PreLocal, PreNext   []field.Ext
	MainLocal, MainNext []field.Ext
	Public              []field.Ext
	Sel                 field.Selectors
}

// Eval evaluates an expression under an environment.
func Eval(e Expr, env *EvalEnv) field.Ext {
	switch n := e.(type) {
	case ConstExpr:
		return field.ExtFromBase(n.V)
	case VarExpr:
		switch {
		case n.Seg == SegPreprocessed && n.Offset == 0:
			return env.PreLocal[n.Col]
		case n.Seg == SegPreprocessed:
			return env.PreNext[n.Col]
		case n.Offset == 0:
			return env.MainLocal[n.Col]
		default:
			return env.MainNext[n.Col]
		}
	case PublicExpr:
		return env.Public[n.Idx]
	case SelectorExpr:
		switch n.Kind {
		case SelFirstRow:
			return env.Sel.IsFirstRow
		case SelLastRow:
			return env.Sel.IsLastRow
		default:
			return env.Sel.IsTransition
		}
	case AddExpr:
		return field.ExtAdd(Eval(n.L, env), Eval(n.R, env))
	case SubExpr:
		return field.ExtSub(Eval(n.L, env), Eval(n.R, env))
	case MulExpr:
		return field.ExtMul(Eval(n.L, env), Eval(n.R, env))
	case NegExpr:
		return field.ExtNeg(Eval(n.X, env))
	default:
		panic("machine: unknown expression node")
	}
}
