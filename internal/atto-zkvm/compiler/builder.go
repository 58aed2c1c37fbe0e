package compiler

// DefaultPCBase is where assembled programs are placed. Tests and examples
// build programs through Builder; real programs come from the ELF loader
// with their own layout.
const DefaultPCBase = 0x1000

// Builder assembles a Program instruction by instruction.
type Builder struct {
	instrs []Instruction
	image  map[uint32]uint32
}

// NewBuilder returns an empty program builder.
func NewBuilder() *Builder {
	return &Builder{image: map[uint32]uint32{}}
}

// Emit appends one instruction and returns its pc.
func (b *Builder) Emit(ins Instruction) uint32 {
	pc := DefaultPCBase + uint32(len(b.instrs))*4
	b.instrs = append(b.instrs, ins)
	return pc
}

// SetWord seeds one word of the initial memory image.
func (b *Builder) SetWord(addr, value uint32) {
	b.image[addr] = value
}

// Build finalizes the program.
func (b *Builder) Build() *Program {
	return &Program{
		Instructions: append([]Instruction(nil), b.instrs...),
		PCStart:      DefaultPCBase,
		PCBase:       DefaultPCBase,
		Image:        b.image,
	}
}
