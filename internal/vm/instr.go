package vm

// instr.go defines the instruction set: the opcode table, per-operand
// decoding, and per-opcode execution semantics including flag effects.
// Grounded on cpu_instr_descs.h (opcode/mnemonic/operand assignment) and
// cpu_exec.c (flag formulas, addressing modes).

import (
	"math/bits"
)

// operandKind identifies the shape of one decoded instruction operand.
type operandKind uint8

const (
	opdNone operandKind = iota
	opdReg              // one register code, one byte.
	opdRegs             // two packed register codes, one byte: low nibble then high nibble.
	opdImm5             // one byte, must fit in 5 bits.
	opdImm8             // one byte, used as a signed PC-relative displacement.
	opdImm32            // four bytes, little-endian.
)

func (k operandKind) width() Word {
	switch k {
	case opdImm32:
		return 4
	case opdNone:
		return 0
	default:
		return 1
	}
}

// decodedOperand holds the resolved value of one instruction operand,
// keyed by register code rather than by pointer so a snapshot taken
// mid-decode can be restored faithfully.
type decodedOperand struct {
	kind operandKind

	reg   uint8 // opdReg
	regLo uint8 // opdRegs: low nibble register code; role depends on the opcode.
	regHi uint8 // opdRegs: high nibble register code; role depends on the opcode.
	imm5  uint8
	imm8  uint8 // raw byte; reinterpret as int8 where used as a signed displacement.
	imm32 Word
}

// decodedInstr is the CPU's in-flight decode buffer. At most two operands
// appear in this instruction set (STR_RIR and LDR_RIR pack a REGS operand
// plus a REG operand).
type decodedInstr struct {
	startAddr Word
	opcode    byte
	desc      *instrDesc
	operands  [2]decodedOperand
	next      int
}

// instrDesc describes one opcode: its mnemonic, the operand kinds it
// decodes in order, and its execution semantics.
type instrDesc struct {
	mnemonic string
	operands []operandKind
	exec     func(c *CPU) error
}

func (d *decodedInstr) numOperands() int {
	if d.desc == nil {
		return 0
	}

	return len(d.desc.operands)
}

// fetchU8 reads one byte at PC and advances PC by 1.
func (c *CPU) fetchU8() (byte, error) {
	v, err := c.mem.ReadU8(c.PC)
	if err != nil {
		return 0, err
	}

	c.PC++

	return v, nil
}

// fetchU32 reads a little-endian word at PC and advances PC by 4.
func (c *CPU) fetchU32() (Word, error) {
	v, err := c.mem.ReadU32(c.PC)
	if err != nil {
		return 0, err
	}

	c.PC += 4

	return v, nil
}

// decodeNextOperand fetches and stores the next undecoded operand of the
// in-flight instruction, advancing PC by the operand's width. It is called
// once per Step while the pipeline is in FetchDecodeOperands.
func (c *CPU) decodeNextOperand() error {
	kind := c.instr.desc.operands[c.instr.next]

	var opd decodedOperand
	opd.kind = kind

	switch kind {
	case opdReg:
		b, err := c.fetchU8()
		if err != nil {
			return err
		}

		opd.reg = b

	case opdRegs:
		b, err := c.fetchU8()
		if err != nil {
			return err
		}

		opd.regLo = b & 0x0F
		opd.regHi = (b >> 4) & 0x0F

	case opdImm5:
		b, err := c.fetchU8()
		if err != nil {
			return err
		}

		if b > 31 {
			return faultAt(ErrBadImm5, c.PC-1)
		}

		opd.imm5 = b

	case opdImm8:
		b, err := c.fetchU8()
		if err != nil {
			return err
		}

		opd.imm8 = b

	case opdImm32:
		w, err := c.fetchU32()
		if err != nil {
			return err
		}

		opd.imm32 = w
	}

	c.instr.operands[c.instr.next] = opd
	c.instr.next++

	return nil
}

// --- flag helpers ---

func signBit(w Word) bool { return w&0x80000000 != 0 }

func bitAt(w Word, i uint) bool { return (w>>i)&1 != 0 }

func (c *CPU) setFlag(f Flags, v bool) {
	if v {
		c.F |= f
	} else {
		c.F &^= f
	}
}

func (c *CPU) setZS(res Word) {
	c.setFlag(FlagZero, res == 0)
	c.setFlag(FlagSign, signBit(res))
}

func (c *CPU) setAddFlags(a, b, res Word) {
	c.setZS(res)
	c.setFlag(FlagCarry, (uint64(a)+uint64(b))>>32 != 0)
	c.setFlag(FlagOverflow, signBit(a) == signBit(b) && signBit(res) != signBit(a))
}

func (c *CPU) setSubFlags(a, b, res Word) {
	c.setZS(res)
	c.setFlag(FlagCarry, a >= b)
	c.setFlag(FlagOverflow, signBit(a) != signBit(b) && signBit(res) != signBit(a))
}

func (c *CPU) setMulFlags(a, b, res Word) {
	c.setZS(res)
	hi := uint32((uint64(a) * uint64(b)) >> 32)
	c.setFlag(FlagCarry, hi != 0)
}

// --- register resolution for the in-flight instruction ---

func (c *CPU) operandRegLo(i int) (*Word, error) { return c.decodeReg(c.instr.operands[i].regLo) }
func (c *CPU) operandRegHi(i int) (*Word, error) { return c.decodeReg(c.instr.operands[i].regHi) }
func (c *CPU) operandReg(i int) (*Word, error)   { return c.decodeReg(c.instr.operands[i].reg) }

// --- ALU execution ---

type aluOp func(c *CPU, a, b Word) (res Word, write bool)

func aluRR(op aluOp) func(c *CPU) error {
	return func(c *CPU) error {
		dst, err := c.operandRegHi(0)
		if err != nil {
			return err
		}

		src, err := c.operandRegLo(0)
		if err != nil {
			return err
		}

		res, write := op(c, *dst, *src)
		if write {
			*dst = res
		}

		return nil
	}
}

func aluRV(op aluOp) func(c *CPU) error {
	return func(c *CPU) error {
		dst, err := c.operandReg(0)
		if err != nil {
			return err
		}

		imm := c.instr.operands[1].imm32

		res, write := op(c, *dst, imm)
		if write {
			*dst = res
		}

		return nil
	}
}

func opAdd(c *CPU, a, b Word) (Word, bool) {
	res := a + b
	c.setAddFlags(a, b, res)

	return res, true
}

func opSub(c *CPU, a, b Word) (Word, bool) {
	res := a - b
	c.setSubFlags(a, b, res)

	return res, true
}

func opMul(c *CPU, a, b Word) (Word, bool) {
	res := a * b
	c.setMulFlags(a, b, res)

	return res, true
}

func opAnd(c *CPU, a, b Word) (Word, bool) {
	res := a & b
	c.setZS(res)

	return res, true
}

func opOr(c *CPU, a, b Word) (Word, bool) {
	res := a | b
	c.setZS(res)

	return res, true
}

func opXor(c *CPU, a, b Word) (Word, bool) {
	res := a ^ b
	c.setZS(res)

	return res, true
}

func opCmp(c *CPU, a, b Word) (Word, bool) {
	res := a - b
	c.setSubFlags(a, b, res)

	return res, false
}

func opTst(c *CPU, a, b Word) (Word, bool) {
	res := a & b
	c.setZS(res)

	return res, false
}

func divExec(signed bool) func(c *CPU) error {
	return func(c *CPU) error {
		dst, err := c.operandRegHi(0)
		if err != nil {
			return err
		}

		src, err := c.operandRegLo(0)
		if err != nil {
			return err
		}

		if *src == 0 {
			return ErrDivByZero
		}

		var res Word
		if signed {
			res = Word(int32(*dst) / int32(*src))
		} else {
			res = *dst / *src
		}

		c.setZS(res)
		*dst = res

		return nil
	}
}

func divExecImm(signed bool) func(c *CPU) error {
	return func(c *CPU) error {
		dst, err := c.operandReg(0)
		if err != nil {
			return err
		}

		imm := c.instr.operands[1].imm32

		if imm == 0 {
			return ErrDivByZero
		}

		var res Word
		if signed {
			res = Word(int32(*dst) / int32(imm))
		} else {
			res = *dst / imm
		}

		c.setZS(res)
		*dst = res

		return nil
	}
}

func execNot(c *CPU) error {
	reg, err := c.operandReg(0)
	if err != nil {
		return err
	}

	res := ^*reg
	c.setZS(res)
	*reg = res

	return nil
}

func execShlRR(c *CPU) error {
	dst, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	src, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	n := uint(*src & 31)
	a := *dst
	res := a << n

	c.setZS(res)
	if n > 0 {
		c.setFlag(FlagCarry, bitAt(a, 32-n))
	}

	*dst = res

	return nil
}

func execShrRR(c *CPU) error {
	dst, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	src, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	n := uint(*src & 31)
	a := *dst
	res := a >> n

	c.setZS(res)
	if n > 0 {
		c.setFlag(FlagCarry, bitAt(a, n-1))
	}

	*dst = res

	return nil
}

func execShlRV(c *CPU) error {
	dst, err := c.operandReg(0)
	if err != nil {
		return err
	}

	n := uint(c.instr.operands[1].imm5)
	a := *dst
	res := a << n

	c.setZS(res)
	if n > 0 {
		c.setFlag(FlagCarry, bitAt(a, 32-n))
	}

	*dst = res

	return nil
}

func execShrRV(c *CPU) error {
	dst, err := c.operandReg(0)
	if err != nil {
		return err
	}

	n := uint(c.instr.operands[1].imm5)
	a := *dst
	res := a >> n

	c.setZS(res)
	if n > 0 {
		c.setFlag(FlagCarry, bitAt(a, n-1))
	}

	*dst = res

	return nil
}

func execRolRR(c *CPU) error {
	dst, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	src, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	n := int(*src & 31)
	res := Word(bits.RotateLeft32(uint32(*dst), n))
	c.setZS(res)
	*dst = res

	return nil
}

func execRorRR(c *CPU) error {
	dst, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	src, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	n := int(*src & 31)
	res := Word(bits.RotateLeft32(uint32(*dst), -n))
	c.setZS(res)
	*dst = res

	return nil
}

func execRolRV(c *CPU) error {
	dst, err := c.operandReg(0)
	if err != nil {
		return err
	}

	n := int(c.instr.operands[1].imm5)
	res := Word(bits.RotateLeft32(uint32(*dst), n))
	c.setZS(res)
	*dst = res

	return nil
}

func execRorRV(c *CPU) error {
	dst, err := c.operandReg(0)
	if err != nil {
		return err
	}

	n := int(c.instr.operands[1].imm5)
	res := Word(bits.RotateLeft32(uint32(*dst), -n))
	c.setZS(res)
	*dst = res

	return nil
}

// --- data movement ---

func execMovRR(c *CPU) error {
	dst, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	src, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	*dst = *src

	return nil
}

func execMovVR(c *CPU) error {
	dst, err := c.operandReg(0)
	if err != nil {
		return err
	}

	*dst = c.instr.operands[1].imm32

	return nil
}

func execStrRI0(c *CPU) error {
	base, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	val, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	return c.mem.WriteU32(*base, *val)
}

func execStrRV0(c *CPU) error {
	val, err := c.operandReg(0)
	if err != nil {
		return err
	}

	addr := c.instr.operands[1].imm32

	return c.mem.WriteU32(addr, *val)
}

func execStrRI8(c *CPU) error {
	base, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	val, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	addr := *base + Word(int32(int8(c.instr.operands[1].imm8)))

	return c.mem.WriteU32(addr, *val)
}

func execStrRI32(c *CPU) error {
	base, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	val, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	addr := *base + c.instr.operands[1].imm32

	return c.mem.WriteU32(addr, *val)
}

func execStrRIR(c *CPU) error {
	base, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	val, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	off, err := c.operandReg(1)
	if err != nil {
		return err
	}

	return c.mem.WriteU32(*base+*off, *val)
}

func execLdrRV0(c *CPU) error {
	dst, err := c.operandReg(0)
	if err != nil {
		return err
	}

	addr := c.instr.operands[1].imm32

	v, err := c.mem.ReadU32(addr)
	if err != nil {
		return err
	}

	*dst = v

	return nil
}

func execLdrRI0(c *CPU) error {
	dst, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	base, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	v, err := c.mem.ReadU32(*base)
	if err != nil {
		return err
	}

	*dst = v

	return nil
}

func execLdrRI8(c *CPU) error {
	dst, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	base, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	addr := *base + Word(int32(int8(c.instr.operands[1].imm8)))

	v, err := c.mem.ReadU32(addr)
	if err != nil {
		return err
	}

	*dst = v

	return nil
}

func execLdrRI32(c *CPU) error {
	dst, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	base, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	addr := *base + c.instr.operands[1].imm32

	v, err := c.mem.ReadU32(addr)
	if err != nil {
		return err
	}

	*dst = v

	return nil
}

func execLdrRIR(c *CPU) error {
	dst, err := c.operandRegLo(0)
	if err != nil {
		return err
	}

	base, err := c.operandRegHi(0)
	if err != nil {
		return err
	}

	off, err := c.operandReg(1)
	if err != nil {
		return err
	}

	v, err := c.mem.ReadU32(*base + *off)
	if err != nil {
		return err
	}

	*dst = v

	return nil
}

// --- control flow ---

func jumpTarget(c *CPU, formOffset byte) (Word, bool, error) {
	switch formOffset {
	case 0:
		return c.instr.startAddr + Word(int32(int8(c.instr.operands[0].imm8))), true, nil
	case 1:
		return c.instr.operands[0].imm32, true, nil
	case 2:
		r, err := c.operandReg(0)
		if err != nil {
			return 0, false, err
		}

		return *r, true, nil
	}

	return 0, false, faultAt(ErrBadOpcode, c.instr.startAddr)
}

func jumpExec(formOffset byte, predicate func(*CPU) bool) func(c *CPU) error {
	return func(c *CPU) error {
		target, ok, err := jumpTarget(c, formOffset)
		if err != nil {
			return err
		}

		if !ok {
			return faultAt(ErrBadOpcode, c.instr.startAddr)
		}

		if predicate == nil || predicate(c) {
			c.PC = target
		}

		return nil
	}
}

func predEQ(c *CPU) bool { return c.F.Zero() }
func predNE(c *CPU) bool { return !c.F.Zero() }
func predGT(c *CPU) bool { return !c.F.Zero() && c.F.Sign() == c.F.Overflow() }
func predGE(c *CPU) bool { return c.F.Sign() == c.F.Overflow() }
func predLT(c *CPU) bool { return c.F.Sign() != c.F.Overflow() }
func predLE(c *CPU) bool { return c.F.Zero() || c.F.Sign() != c.F.Overflow() }

func execCallV32(c *CPU) error {
	target := c.instr.operands[0].imm32
	return doCall(c, target)
}

func execCallR(c *CPU) error {
	r, err := c.operandReg(0)
	if err != nil {
		return err
	}

	return doCall(c, *r)
}

func doCall(c *CPU, target Word) error {
	if err := c.pushWord(c.PC); err != nil {
		return err
	}

	c.PC = target

	return nil
}

func execRet(c *CPU) error {
	v, err := c.popWord()
	if err != nil {
		return err
	}

	c.PC = v

	return nil
}

// --- stack ---

func (c *CPU) pushWord(v Word) error {
	if c.SP < 4 {
		return ErrStackOverflow
	}

	c.SP -= 4

	return c.mem.WriteU32(c.SP, v)
}

func (c *CPU) popWord() (Word, error) {
	v, err := c.mem.ReadU32(c.SP)
	if err != nil {
		return 0, err
	}

	c.SP += 4

	return v, nil
}

func execPushV32(c *CPU) error {
	return c.pushWord(c.instr.operands[0].imm32)
}

func execPushR(c *CPU) error {
	r, err := c.operandReg(0)
	if err != nil {
		return err
	}

	return c.pushWord(*r)
}

func execPopR(c *CPU) error {
	r, err := c.operandReg(0)
	if err != nil {
		return err
	}

	v, err := c.popWord()
	if err != nil {
		return err
	}

	*r = v

	return nil
}

// --- misc ---

func execNop(c *CPU) error { return nil }

func execHalt(c *CPU) error {
	c.State = StateHalted
	return nil
}

func execInt(c *CPU) error {
	line := c.instr.operands[0].imm8

	if err := c.ic.Raise(uint8(line)); err != nil {
		return err
	}

	return nil
}

func execIret(c *CPU) error {
	v, err := c.popWord()
	if err != nil {
		return err
	}

	c.PC = v
	c.numNestedExc = 0

	return nil
}

// instrTable maps opcode byte to its descriptor. Built once at init.
var instrTable = buildInstrTable()

func buildInstrTable() map[byte]*instrDesc {
	t := make(map[byte]*instrDesc, 64)

	add := func(op byte, mnemonic string, operands []operandKind, exec func(c *CPU) error) {
		t[op] = &instrDesc{mnemonic: mnemonic, operands: operands, exec: exec}
	}

	regs := []operandKind{opdRegs}
	regImm32 := []operandKind{opdReg, opdImm32}
	regImm5 := []operandKind{opdReg, opdImm5}
	reg := []operandKind{opdReg}
	none := []operandKind{}

	add(0x20, "MOV_RR", regs, execMovRR)
	add(0x21, "MOV_VR", regImm32, execMovVR)
	add(0x22, "STR_RI0", regs, execStrRI0)
	add(0x23, "STR_RV0", regImm32, execStrRV0)
	add(0x24, "STR_RI8", []operandKind{opdRegs, opdImm8}, execStrRI8)
	add(0x25, "STR_RI32", []operandKind{opdRegs, opdImm32}, execStrRI32)
	add(0x26, "STR_RIR", []operandKind{opdRegs, opdReg}, execStrRIR)
	add(0x27, "LDR_RV0", regImm32, execLdrRV0)
	add(0x28, "LDR_RI0", regs, execLdrRI0)
	add(0x29, "LDR_RI8", []operandKind{opdRegs, opdImm8}, execLdrRI8)
	add(0x2A, "LDR_RI32", []operandKind{opdRegs, opdImm32}, execLdrRI32)
	add(0x2B, "LDR_RIR", []operandKind{opdRegs, opdReg}, execLdrRIR)

	add(0x41, "ADD_RV", regImm32, aluRV(opAdd))
	add(0x42, "ADD_RR", regs, aluRR(opAdd))
	add(0x43, "SUB_RV", regImm32, aluRV(opSub))
	add(0x44, "SUB_RR", regs, aluRR(opSub))
	add(0x45, "MUL_RV", regImm32, aluRV(opMul))
	add(0x46, "MUL_RR", regs, aluRR(opMul))
	add(0x47, "DIV_RV", regImm32, divExecImm(false))
	add(0x48, "DIV_RR", regs, divExec(false))
	add(0x49, "IDIV_RV", regImm32, divExecImm(true))
	add(0x4A, "IDIV_RR", regs, divExec(true))
	add(0x4B, "AND_RV", regImm32, aluRV(opAnd))
	add(0x4C, "AND_RR", regs, aluRR(opAnd))
	add(0x4D, "OR_RV", regImm32, aluRV(opOr))
	add(0x4E, "OR_RR", regs, aluRR(opOr))
	add(0x4F, "XOR_RV", regImm32, aluRV(opXor))
	add(0x50, "XOR_RR", regs, aluRR(opXor))
	add(0x51, "SHL_RV", regImm5, execShlRV)
	add(0x52, "SHL_RR", regs, execShlRR)
	add(0x53, "SHR_RV", regImm5, execShrRV)
	add(0x54, "SHR_RR", regs, execShrRR)
	add(0x55, "TST_RV", regImm32, aluRV(opTst))
	add(0x56, "ROL_RR", regs, execRolRR)
	add(0x57, "NOT_R", reg, execNot)
	add(0x58, "ROR_RR", regs, execRorRR)
	add(0x59, "ROL_RV", regImm5, execRolRV)
	add(0x5A, "CMP_RR", regs, aluRR(opCmp))
	add(0x5B, "ROR_RV", regImm5, execRorRV)
	add(0x5C, "TST_RR", regs, aluRR(opTst))

	jumpGroups := []struct {
		base byte
		name string
		pred func(*CPU) bool
	}{
		{0x60, "JMP", nil},
		{0x64, "JEQ", predEQ},
		{0x68, "JNE", predNE},
		{0x6C, "JGT", predGT},
		{0x70, "JGE", predGE},
		{0x74, "JLT", predLT},
		{0x78, "JLE", predLE},
	}

	for _, g := range jumpGroups {
		add(g.base+0, g.name+"_I8", []operandKind{opdImm8}, jumpExec(0, g.pred))
		add(g.base+1, g.name+"_V32", []operandKind{opdImm32}, jumpExec(1, g.pred))
		add(g.base+2, g.name+"_R", []operandKind{opdReg}, jumpExec(2, g.pred))
	}

	add(0x7D, "CALL_V32", []operandKind{opdImm32}, execCallV32)
	add(0x7E, "CALL_R", []operandKind{opdReg}, execCallR)
	add(0x7F, "RET", none, execRet)

	add(0x80, "PUSH_V32", []operandKind{opdImm32}, execPushV32)
	add(0x81, "PUSH_R", reg, execPushR)
	add(0x82, "POP_R", reg, execPopR)

	add(0xA0, "NOP", none, execNop)
	add(0xA1, "HALT", none, execHalt)
	add(0xA2, "INT_V8", []operandKind{opdImm8}, execInt)
	add(0xA3, "IRET", none, execIret)

	return t
}
