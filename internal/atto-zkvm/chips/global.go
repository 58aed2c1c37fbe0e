package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/septic"
)

const (
	glbIsReal = iota
	glbKind
	glbV // 6 tuple values
	glbIsReceive  = glbV + 6
	glbOffsetBits = glbIsReceive + 1 // 8 bits of the lift offset
	glbY          = glbOffsetBits + 8
	glbLam        = glbY + 7
	glbAccX       = glbLam + 7
	glbAccY       = glbAccX + 7
	glbDBits      = glbAccY + 7 // 31 bits of 2*y0 mod p
)

const (
	glbT1 = glbDBits + 31 + iota
	glbT2
	glbTop
	glbY0Inv

	glbWidth
)

// GlobalChip receives every cross-chunk interaction the chunk's chips
// emitted, lifts each tuple onto the septic curve and folds the points into
// the chunk's cumulative sum with the incomplete chord rule. The root's
// low-limb parity is what separates sends from receives, so the bit
// decomposition of 2*y0 must be the canonical one; the top-bits gadget
// rejects the one wraparound alias.
type GlobalChip struct {
	sept *septic.Params
}

func NewGlobalChip(sept *septic.Params) *GlobalChip { return &GlobalChip{sept: sept} }

func (c *GlobalChip) Name() string           { return "Global" }
func (c *GlobalChip) PreprocessedWidth() int { return 0 }
func (c *GlobalChip) MainWidth() int         { return glbWidth }

func (c *GlobalChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }

// Always active: the cumulative sum public values are bound here, even for
// a chunk with no interactions.
func (c *GlobalChip) IsActive(record *emulator.EmulationRecord) bool { return true }

func (c *GlobalChip) LocalOnly() bool                  { return false }
func (c *GlobalChip) LookupScope() machine.LookupScope { return machine.ScopeGlobal }

func (c *GlobalChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}

// liftEvent mirrors the machine-level event lift.
func (c *GlobalChip) liftEvent(ev emulator.GlobalLookupEvent) (septic.Point, uint8) {
	var msg septic.Extension
	for i := 0; i < 6; i++ {
		msg[i] = field.FromUint32(ev.Values[i])
	}
	msg[6] = field.FromUint32(uint32(ev.Kind) << 16)
	return c.sept.LiftX(msg, ev.IsReceive)
}

func (c *GlobalChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.GlobalEvents), glbWidth)
	acc := c.sept.ZeroDigest().Point()
	p := field.ModulusUint32
	for i, ev := range record.GlobalEvents {
		row := m.Row(i)
		row[glbIsReal] = field.One()
		row[glbKind] = field.FromUint32(uint32(ev.Kind))
		for j := 0; j < 6; j++ {
			row[glbV+j] = field.FromUint32(ev.Values[j])
		}
		row[glbIsReceive] = boolVal(ev.IsReceive)
		pt, offset := c.liftEvent(ev)
		for j := 0; j < 8; j++ {
			row[glbOffsetBits+j] = field.FromUint32(uint32(offset>>j) & 1)
		}
		lam := c.sept.Div(pt.Y.Sub(acc.Y), pt.X.Sub(acc.X))
		next := c.sept.AddChord(acc, pt)
		for j := 0; j < 7; j++ {
			row[glbY+j] = pt.Y[j]
			row[glbLam+j] = lam[j]
			row[glbAccX+j] = next.X[j]
			row[glbAccY+j] = next.Y[j]
		}
		d := 2 * field.ToUint32(pt.Y[0])
		if d >= p {
			d -= p
		}
		for j := 0; j < 31; j++ {
			row[glbDBits+j] = field.FromUint32((d >> j) & 1)
		}
		if d>>24&7 == 7 {
			row[glbT1] = field.One()
		}
		if d>>27&7 == 7 {
			row[glbT2] = field.One()
		}
		if d>>24 == 0x7F {
			row[glbTop] = field.One()
		}
		row[glbY0Inv] = field.Inv(pt.Y[0])
		acc = next
	}
	for i := len(record.GlobalEvents); i < m.Height(); i++ {
		row := m.Row(i)
		for j := 0; j < 7; j++ {
			row[glbAccX+j] = acc.X[j]
			row[glbAccY+j] = acc.Y[j]
		}
	}
	return m
}

// septicMulExprs is the symbolic product in F_{p^7}: schoolbook followed by
// the z^7 = C1*z + C0 reduction.
func septicMulExprs(p *septic.Params, a, b [7]expr) [7]expr {
	var prod [13]expr
	for i := range prod {
		prod[i] = zero()
	}
	for i := 0; i < 7; i++ {
		for j := 0; j < 7; j++ {
			prod[i+j] = add(prod[i+j], mul(a[i], b[j]))
		}
	}
	for k := 12; k >= 7; k-- {
		prod[k-7] = add(prod[k-7], mul(machine.Const(p.C0), prod[k]))
		prod[k-6] = add(prod[k-6], mul(machine.Const(p.C1), prod[k]))
	}
	var out [7]expr
	copy(out[:], prod[:7])
	return out
}

func extConsts(e septic.Extension) [7]expr {
	var out [7]expr
	for i := 0; i < 7; i++ {
		out[i] = machine.Const(e[i])
	}
	return out
}

func (c *GlobalChip) Eval(b *machine.Builder) {
	isReal := b.Local(glbIsReal)
	isReceive := b.Local(glbIsReceive)
	b.AssertBool(isReal)
	b.AssertBool(isReceive)

	// Lifted x coordinate: the tuple values with the kind and lift offset
	// packed into the top limb.
	var x, y, lam, accX, accY [7]expr
	offset := zero()
	for j := 0; j < 8; j++ {
		bit := b.Local(glbOffsetBits + j)
		b.AssertBool(bit)
		offset = add(offset, mul(cu(1<<j), bit))
	}
	for j := 0; j < 6; j++ {
		x[j] = b.Local(glbV + j)
	}
	x[6] = add(mul(cu(1<<16), b.Local(glbKind)), offset)
	for j := 0; j < 7; j++ {
		y[j] = b.Local(glbY + j)
		lam[j] = b.Local(glbLam + j)
		accX[j] = b.Local(glbAccX + j)
		accY[j] = b.Local(glbAccY + j)
	}

	// On-curve: y^2 = x^3 + A*x + B.
	x2 := septicMulExprs(c.sept, x, x)
	x3 := septicMulExprs(c.sept, x2, x)
	y2 := septicMulExprs(c.sept, y, y)
	for j := 0; j < 7; j++ {
		rhs := addN(x3[j], mul(machine.Const(c.sept.A), x[j]), machine.Const(c.sept.B[j]))
		b.AssertZero(mul(isReal, sub(y2[j], rhs)))
	}

	// Direction parity: the canonical bits of 2*y0 mod p have bit zero
	// exactly on sends. Canonicality rejects d in [p, 2^31).
	dSum, lowSum := zero(), zero()
	for j := 0; j < 31; j++ {
		bit := b.Local(glbDBits + j)
		b.AssertBool(bit)
		dSum = add(dSum, mul(cu(1<<j), bit))
		if j < 24 {
			lowSum = add(lowSum, bit)
		}
	}
	b.AssertZero(mul(isReal, sub(dSum, mul(cu(2), y[0]))))
	t1, t2, top := b.Local(glbT1), b.Local(glbT2), b.Local(glbTop)
	b.AssertEq(t1, mul(b.Local(glbDBits+24), mul(b.Local(glbDBits+25), b.Local(glbDBits+26))))
	b.AssertEq(t2, mul(b.Local(glbDBits+27), mul(b.Local(glbDBits+28), b.Local(glbDBits+29))))
	b.AssertEq(top, mul(t1, mul(t2, b.Local(glbDBits+30))))
	b.AssertZero(mul(top, lowSum))
	b.AssertZero(mul(isReal, sub(b.Local(glbDBits), not(isReceive))))
	b.AssertZero(mul(isReal, sub(mul(y[0], b.Local(glbY0Inv)), one())))

	// Chord accumulation from the fixed zero-start point. Row i holds the
	// sum after its own point; padding rows carry the final value to the
	// last row, where it is bound to the public cumulative sum.
	start := c.sept.ZeroDigest().Point()
	sx, sy := extConsts(start.X), extConsts(start.Y)
	first := b.IsFirstRow()
	t := b.IsTransition()
	nextReal := b.Next(glbIsReal)
	b.AssertZeroTransition(mul(not(isReal), nextReal))

	chord := septicMulExprs(c.sept, lam, subExt(x, sx))
	lam2 := septicMulExprs(c.sept, lam, lam)
	tail := septicMulExprs(c.sept, lam, subExt(sx, accX))
	for j := 0; j < 7; j++ {
		b.AssertZero(mul(first, mul(isReal, sub(chord[j], sub(y[j], sy[j])))))
		b.AssertZero(mul(first, mul(isReal, sub(accX[j], sub(sub(lam2[j], sx[j]), x[j])))))
		b.AssertZero(mul(first, mul(isReal, sub(accY[j], sub(tail[j], sy[j])))))
		b.AssertZero(mul(first, mul(not(isReal), sub(accX[j], sx[j]))))
		b.AssertZero(mul(first, mul(not(isReal), sub(accY[j], sy[j]))))
	}

	var xn, yn, lamN, accXN, accYN, accXP, accYP [7]expr
	for j := 0; j < 7; j++ {
		xn[j] = b.Next(glbV + j)
		yn[j] = b.Next(glbY + j)
		lamN[j] = b.Next(glbLam + j)
		accXN[j] = b.Next(glbAccX + j)
		accYN[j] = b.Next(glbAccY + j)
		accXP[j] = accX[j]
		accYP[j] = accY[j]
	}
	offsetN := zero()
	for j := 0; j < 8; j++ {
		offsetN = add(offsetN, mul(cu(1<<j), b.Next(glbOffsetBits+j)))
	}
	xn[6] = add(mul(cu(1<<16), b.Next(glbKind)), offsetN)

	chordN := septicMulExprs(c.sept, lamN, subExt(xn, accXP))
	lam2N := septicMulExprs(c.sept, lamN, lamN)
	tailN := septicMulExprs(c.sept, lamN, subExt(accXP, accXN))
	for j := 0; j < 7; j++ {
		b.AssertZero(mul(t, mul(nextReal, sub(chordN[j], sub(yn[j], accYP[j])))))
		b.AssertZero(mul(t, mul(nextReal, sub(accXN[j], sub(sub(lam2N[j], accXP[j]), xn[j])))))
		b.AssertZero(mul(t, mul(nextReal, sub(accYN[j], sub(tailN[j], accYP[j])))))
		b.AssertZero(mul(t, mul(not(nextReal), sub(accXN[j], accXP[j]))))
		b.AssertZero(mul(t, mul(not(nextReal), sub(accYN[j], accYP[j]))))
	}

	last := b.IsLastRow()
	for j := 0; j < 7; j++ {
		b.AssertZero(mul(last, sub(accX[j], b.Public(machine.PvGlobalSumOffset+j))))
		b.AssertZero(mul(last, sub(accY[j], b.Public(machine.PvGlobalSumOffset+7+j))))
	}

	tuple := []expr{b.Local(glbKind)}
	for j := 0; j < 6; j++ {
		tuple = append(tuple, b.Local(glbV+j))
	}
	tuple = append(tuple, isReceive)
	b.Looked(machine.LookupGlobal, machine.ScopeRegional, tuple, isReal)
}

func subExt(a, b [7]expr) [7]expr {
	var out [7]expr
	for i := 0; i < 7; i++ {
		out[i] = sub(a[i], b[i])
	}
	return out
}
