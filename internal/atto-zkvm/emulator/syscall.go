package emulator

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// Syscall codes. The low byte is the code class, the rest disambiguates
// precompiles.
const (
	SyscallHalt          uint32 = 0x00
	SyscallWrite         uint32 = 0x02
	SyscallCommit        uint32 = 0x10
	SyscallHintLen       uint32 = 0xF0
	SyscallHintRead      uint32 = 0xF1
	SyscallSha256Extend  uint32 = 0x0030_0105
	SyscallKeccakPermute uint32 = 0x0100_0109
	SyscallUint256Mul    uint32 = 0x0120_010D
	SyscallPoseidon2     uint32 = 0x0030_1009
)

var nativePermInstance *poseidon2.Permutation

func nativePerm() *poseidon2.Permutation {
	if nativePermInstance == nil {
		nativePermInstance = poseidon2.New(field.DefaultSpec())
	}
	return nativePermInstance
}

func (e *Emulator) syscall(code, arg1, arg2 uint32) (uint32, error) {
	switch code {
	case SyscallHalt:
		e.halted = true
		e.exitCode = arg1
		return 0, nil

	case SyscallWrite:
		return e.sysWrite(arg1, arg2, e.reg(12))

	case SyscallCommit:
		if arg1 >= 8 {
			return 0, &EmulationError{Pc: e.pc, Clk: e.clk, Reason: fmt.Sprintf("commit index %d out of range", arg1)}
		}
		e.committed[arg1] = arg2
		return 0, nil

	case SyscallHintLen:
		if len(e.inputStream) == 0 {
			return 0, &EmulationError{Pc: e.pc, Clk: e.clk, Reason: "hint requested but input stream is empty"}
		}
		return uint32(len(e.inputStream[0])), nil

	case SyscallHintRead:
		return e.sysHintRead(arg1, arg2)

	case SyscallSha256Extend:
		return e.sysSha256Extend(arg1)

	case SyscallKeccakPermute:
		return e.sysKeccakPermute(arg1)

	case SyscallUint256Mul:
		return e.sysUint256Mul(arg1, arg2)

	case SyscallPoseidon2:
		return e.sysPoseidon2(arg1, arg2)

	default:
		return 0, &EmulationError{Pc: e.pc, Clk: e.clk, Kind: ErrUnimplementedSyscall, Reason: fmt.Sprintf("unknown syscall %#x", code)}
	}
}

func (e *Emulator) sysWrite(fd, ptr, count uint32) (uint32, error) {
	if fd != 1 && fd != 2 {
		return 0, &EmulationError{Pc: e.pc, Clk: e.clk, Reason: fmt.Sprintf("write to unsupported fd %d", fd)}
	}
	for i := uint32(0); i < count; i++ {
		addr := ptr + i
		rec, err := e.accessWord(addr&^3, false, 0)
		if err != nil {
			return 0, err
		}
		e.stdout = append(e.stdout, byte(rec.Value>>((addr%4)*8)))
	}
	return count, nil
}

func (e *Emulator) sysHintRead(ptr, count uint32) (uint32, error) {
	if len(e.inputStream) == 0 {
		return 0, &EmulationError{Pc: e.pc, Clk: e.clk, Reason: "hint read with empty input stream"}
	}
	data := e.inputStream[0]
	e.inputStream = e.inputStream[1:]
	if uint32(len(data)) != count {
		return 0, &EmulationError{Pc: e.pc, Clk: e.clk, Reason: fmt.Sprintf("hint read of %d bytes but next item has %d", count, len(data))}
	}
	for i := uint32(0); i+4 <= count; i += 4 {
		word := binary.LittleEndian.Uint32(data[i:])
		if _, err := e.accessWord(ptr+i, true, word); err != nil {
			return 0, err
		}
	}
	if rem := count % 4; rem != 0 {
		var word uint32
		for i := uint32(0); i < rem; i++ {
			word |= uint32(data[count-rem+i]) << (8 * i)
		}
		if _, err := e.accessWord(ptr+count-rem, true, word); err != nil {
			return 0, err
		}
	}
	return count, nil
}

func (e *Emulator) readWords(ptr uint32, out []uint32) ([]MemoryRecord, error) {
	recs := make([]MemoryRecord, len(out))
	for i := range out {
		rec, err := e.accessWord(ptr+uint32(i)*4, false, 0)
		if err != nil {
			return nil, err
		}
		out[i] = rec.Value
		recs[i] = rec
	}
	return recs, nil
}

func (e *Emulator) writeWords(ptr uint32, words []uint32) error {
	for i, w := range words {
		if _, err := e.accessWord(ptr+uint32(i)*4, true, w); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emulator) sysPoseidon2(inPtr, outPtr uint32) (uint32, error) {
	var input [16]uint32
	recs, err := e.readWords(inPtr, input[:])
	if err != nil {
		return 0, err
	}
	state := make([]field.Val, 16)
	for i, w := range input {
		state[i] = field.FromUint32(w % field.ModulusUint32)
	}
	nativePerm().Permute(state)
	var output [16]uint32
	for i := range output {
		output[i] = field.ToUint32(state[i])
	}
	if err := e.writeWords(outPtr, output[:]); err != nil {
		return 0, err
	}
	ev := Poseidon2Event{Clk: e.clk, InputPtr: inPtr, Input: input, Output: output}
	copy(ev.InputMem[:], recs)
	e.record.Poseidon2Events = append(e.record.Poseidon2Events, ev)
	return 0, nil
}

// sysUint256Mul computes x*y mod m over 256-bit little-endian words, with
// the result written back over x. A zero modulus is treated as 2^256.
func (e *Emulator) sysUint256Mul(xPtr, yPtr uint32) (uint32, error) {
	var x, y, m [8]uint32
	if _, err := e.readWords(xPtr, x[:]); err != nil {
		return 0, err
	}
	if _, err := e.readWords(yPtr, y[:]); err != nil {
		return 0, err
	}
	if _, err := e.readWords(yPtr+32, m[:]); err != nil {
		return 0, err
	}
	result := uint256MulMod(x, y, m)
	if err := e.writeWords(xPtr, result[:]); err != nil {
		return 0, err
	}
	e.record.Uint256MulEvents = append(e.record.Uint256MulEvents, Uint256MulEvent{
		Clk: e.clk, XPtr: xPtr, YPtr: yPtr, X: x, Y: y, Modulus: m, Result: result,
	})
	return 0, nil
}

func uint256MulMod(x, y, m [8]uint32) [8]uint32 {
	toBig := func(w [8]uint32) *big.Int {
		var buf [32]byte
		for i, v := range w {
			binary.LittleEndian.PutUint32(buf[i*4:], v)
		}
		// big.Int wants big-endian
		for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
			buf[i], buf[j] = buf[j], buf[i]
		}
		return new(big.Int).SetBytes(buf[:])
	}
	mod := toBig(m)
	if mod.Sign() == 0 {
		mod = new(big.Int).Lsh(big.NewInt(1), 256)
	}
	r := new(big.Int).Mul(toBig(x), toBig(y))
	r.Mod(r, mod)
	var out [8]uint32
	bytes := r.FillBytes(make([]byte, 32))
	for i, j := 0, len(bytes)-1; i < j; i, j = i+1, j-1 {
		bytes[i], bytes[j] = bytes[j], bytes[i]
	}
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(bytes[i*4:])
	}
	return out
}

func (e *Emulator) sysSha256Extend(wPtr uint32) (uint32, error) {
	var w [64]uint32
	if _, err := e.readWords(wPtr, w[:16]); err != nil {
		return 0, err
	}
	for i := 16; i < 64; i++ {
		s0 := bits.RotateLeft32(w[i-15], -7) ^ bits.RotateLeft32(w[i-15], -18) ^ (w[i-15] >> 3)
		s1 := bits.RotateLeft32(w[i-2], -17) ^ bits.RotateLeft32(w[i-2], -19) ^ (w[i-2] >> 10)
		w[i] = w[i-16] + s0 + w[i-7] + s1
	}
	if err := e.writeWords(wPtr+64, w[16:]); err != nil {
		return 0, err
	}
	e.record.Sha256Events = append(e.record.Sha256Events, Sha256ExtendEvent{Clk: e.clk, WPtr: wPtr, W: w})
	return 0, nil
}

var keccakRC = [24]uint64{
	0x0000000000000001, 0x0000000000008082, 0x800000000000808A, 0x8000000080008000,
	0x000000000000808B, 0x0000000080000001, 0x8000000080008081, 0x8000000000008009,
	0x000000000000008A, 0x0000000000000088, 0x0000000080008009, 0x000000008000000A,
	0x000000008000808B, 0x800000000000008B, 0x8000000000008089, 0x8000000000008003,
	0x8000000000008002, 0x8000000000000080, 0x000000000000800A, 0x800000008000000A,
	0x8000000080008081, 0x8000000000008080, 0x0000000080000001, 0x8000000080008008,
}

func keccakF1600(a *[25]uint64) {
	for round := 0; round < 24; round++ {
		var c [5]uint64
		for x := 0; x < 5; x++ {
			c[x] = a[x] ^ a[x+5] ^ a[x+10] ^ a[x+15] ^ a[x+20]
		}
		var d [5]uint64
		for x := 0; x < 5; x++ {
			d[x] = c[(x+4)%5] ^ bits.RotateLeft64(c[(x+1)%5], 1)
		}
		for x := 0; x < 5; x++ {
			for y := 0; y < 5; y++ {
				a[x+5*y] ^= d[x]
			}
		}
		var b [25]uint64
		rot := [25]int{
			0, 1, 62, 28, 27,
			36, 44, 6, 55, 20,
			3, 10, 43, 25, 39,
			41, 45, 15, 21, 8,
			18, 2, 61, 56, 14,
		}
		for x := 0; x < 5; x++ {
			for y := 0; y < 5; y++ {
				b[y+5*((2*x+3*y)%5)] = bits.RotateLeft64(a[x+5*y], rot[x+5*y])
			}
		}
		for x := 0; x < 5; x++ {
			for y := 0; y < 5; y++ {
				a[x+5*y] = b[x+5*y] ^ ((^b[(x+1)%5+5*y]) & b[(x+2)%5+5*y])
			}
		}
		a[0] ^= keccakRC[round]
	}
}

func (e *Emulator) sysKeccakPermute(statePtr uint32) (uint32, error) {
	var words [50]uint32
	if _, err := e.readWords(statePtr, words[:]); err != nil {
		return 0, err
	}
	var state [25]uint64
	for i := range state {
		state[i] = uint64(words[2*i]) | uint64(words[2*i+1])<<32
	}
	pre := state
	keccakF1600(&state)
	for i := range state {
		words[2*i] = uint32(state[i])
		words[2*i+1] = uint32(state[i] >> 32)
	}
	if err := e.writeWords(statePtr, words[:]); err != nil {
		return 0, err
	}
	e.record.KeccakEvents = append(e.record.KeccakEvents, KeccakPermuteEvent{
		Clk: e.clk, StatePtr: statePtr, Pre: pre, Post: state,
	})
	return 0, nil
}
