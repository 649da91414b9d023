package vm

// cpu.go defines the CPU core's state and register decoding. The pipeline
// transitions live in exec.go; instruction semantics live in instr.go.
// Grounded on cpu.h and cpu.c.

import (
	"fmt"

	"github.com/nullbus/vm32/internal/log"
)

// snVersionCPU is the snapshot format version for CPU.
const snVersionCPU uint32 = 1

// regCodeSP is the register code that addresses the dedicated stack
// pointer rather than one of the eight general-purpose registers.
const regCodeSP = 0x08

// CPU is the instruction-cycle state machine: eight general-purpose
// registers, a program counter, a dedicated stack pointer, a condition-flag
// byte, a cycle counter, and the scratch a pipeline transition needs while
// it's in flight.
type CPU struct {
	State PipelineState
	instr decodedInstr

	Reg RegisterFile
	PC  Word
	SP  Word
	F   Flags

	Cycles uint64

	mem *MemoryController
	ic  *InterruptController

	numNestedExc int
	currIntLine  uint32
	currISRAddr  Word
	pcAfterISR   Word

	log *log.Logger
}

// NewCPU creates a CPU in the Reset state, wired to mem for instruction and
// operand fetches and to ic for interrupt delivery.
func NewCPU(mem *MemoryController, ic *InterruptController) *CPU {
	return &CPU{
		State: StateReset,
		mem:   mem,
		ic:    ic,
		log:   log.DefaultLogger(),
	}
}

// RaiseIRQ forwards to the interrupt controller the CPU polls.
func (c *CPU) RaiseIRQ(line uint8) error {
	return c.ic.Raise(line)
}

// decodeReg resolves a register code into a pointer at one of the CPU's
// storage locations: codes 0-7 address the general-purpose registers,
// code 8 addresses the dedicated stack pointer. Any other code is
// ErrBadRegCode.
func (c *CPU) decodeReg(code uint8) (*Word, error) {
	switch {
	case code < uint8(NumGPR):
		return &c.Reg[code], nil
	case code == regCodeSP:
		return &c.SP, nil
	default:
		return nil, fmt.Errorf("cpu: decode reg %#x: %w", code, ErrBadRegCode)
	}
}

func (c *CPU) LogValue() log.Value {
	return log.GroupValue(
		log.Any("state", c.State),
		log.Any("pc", c.PC),
		log.Any("sp", c.SP),
		log.Any("flags", c.F.String()),
		log.Any("cycles", c.Cycles),
		log.Any("reg", c.Reg.String()),
	)
}
