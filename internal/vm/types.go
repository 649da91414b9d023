package vm

// types.go defines the basic data types shared across the core: the 32-bit
// word, general-purpose register identifiers, the condition-flag register,
// and the pipeline-state discriminant.

import "fmt"

// Word is the base data type on which the CPU, memory, and bus operate.
// Registers, memory cells, and instruction operands are all 32-bit values.
type Word uint32

func (w Word) String() string {
	return fmt.Sprintf("%0#10x", uint32(w))
}

// GPR identifies one of the eight general-purpose registers. The stack
// pointer is a distinct, dedicated register (CPU.SP) and has no GPR code of
// its own in the register file; it is addressed by a separate register code
// (regCodeSP) in instruction encodings.
type GPR uint8

// General-purpose registers.
const (
	R0 GPR = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7

	NumGPR
)

func (r GPR) String() string {
	if r < NumGPR {
		return fmt.Sprintf("R%d", uint8(r))
	}

	return fmt.Sprintf("R?%#x", uint8(r))
}

// RegisterFile holds the values of the eight general-purpose registers.
type RegisterFile [NumGPR]Word

func (rf RegisterFile) String() string {
	return fmt.Sprintf(
		"R0:%s R1:%s R2:%s R3:%s R4:%s R5:%s R6:%s R7:%s",
		rf[R0], rf[R1], rf[R2], rf[R3], rf[R4], rf[R5], rf[R6], rf[R7],
	)
}

// Flags holds the CPU's condition-code bits, set by most ALU operations.
type Flags uint8

// Condition flag bits.
const (
	FlagZero     Flags = 1 << iota // Z: result was zero.
	FlagSign                       // S: result's high bit was set.
	FlagCarry                      // C: unsigned carry/borrow out.
	FlagOverflow                   // V: signed overflow.
)

func (f Flags) String() string {
	flag := func(set bool, c byte) byte {
		if set {
			return c
		}

		return '-'
	}

	return string([]byte{
		flag(f&FlagZero != 0, 'Z'),
		flag(f&FlagSign != 0, 'S'),
		flag(f&FlagCarry != 0, 'C'),
		flag(f&FlagOverflow != 0, 'V'),
	})
}

func (f Flags) Zero() bool     { return f&FlagZero != 0 }
func (f Flags) Sign() bool     { return f&FlagSign != 0 }
func (f Flags) Carry() bool    { return f&FlagCarry != 0 }
func (f Flags) Overflow() bool { return f&FlagOverflow != 0 }

// PipelineState discriminates the stage of instruction or interrupt
// handling the CPU is currently in. A single call to (*CPU).Step advances
// the state machine by exactly one transition.
type PipelineState uint8

// Pipeline states, per the instruction-cycle state machine.
const (
	StateReset PipelineState = iota
	StateFetchDecodeOpcode
	StateFetchDecodeOperands
	StateExecute
	StateHalted
	StateIntFetchIsrAddr
	StateIntPushPc
	StateIntJump
	StateTripleFault
)

//go:generate go run golang.org/x/tools/cmd/stringer -type PipelineState -output pipelinestate_string.go

// Exception line numbers. These occupy the first five IVT entries; device
// IRQ lines are assigned entries starting at 32 (see IVTDeviceBase).
const (
	ExcReset         uint32 = 0
	ExcBadMem        uint32 = 1
	ExcBadInstr      uint32 = 2
	ExcDivByZero     uint32 = 3
	ExcStackOverflow uint32 = 4

	// IVTDeviceBase is the first IVT entry reserved for device IRQ lines;
	// line l is delivered through entry IVTDeviceBase+l.
	IVTDeviceBase uint32 = 32
)

// Fixed memory-map constants.
const (
	IVTBase   Word = 0x00000000
	IVTSize   Word = 1024 // 256 entries * 4 bytes.
	IVTLen         = 256

	BusDevMapStart Word = 0x00000000
	BusDevMapEnd   Word = 0xF0000000

	BusMMIOStart Word = 0xF0000000
	BusMaxDevs        = 32
	// 4-byte slot-status register, plus 12 bytes per device descriptor.
	BusMMIOSize  Word = 4 + 12*BusMaxDevs
	BusMMIOEnd   Word = BusMMIOStart + BusMMIOSize
)

// maxNestedExceptions is the number of consecutive unhandled exceptions
// the CPU tolerates before forcing a triple fault and reset.
const maxNestedExceptions = 3

// maxRegions is the fixed capacity of the memory controller's region table.
const maxRegions = 33
