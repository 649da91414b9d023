package vm

// exec.go drives the pipeline state machine. Unlike a conventional
// fetch/execute loop, Step advances by exactly one transition of
// PipelineState; a caller runs a full instruction, or a full interrupt
// dispatch, by calling Step repeatedly. Grounded on cpu_exec.c.

import "fmt"

// Step advances the CPU by one pipeline transition. It returns an error
// only for a condition the caller must stop on; guest-visible faults are
// absorbed into an exception dispatch and do not surface as a Go error.
func (c *CPU) Step() error {
	switch c.State {
	case StateReset:
		c.currIntLine = ExcReset
		c.numNestedExc = 0
		c.State = StateIntFetchIsrAddr

	case StateFetchDecodeOpcode, StateHalted:
		if line, ok := c.ic.TakePending(); ok {
			c.currIntLine = IVTDeviceBase + uint32(line)
			c.pcAfterISR = c.PC
			c.State = StateIntFetchIsrAddr

			return nil
		}

		if c.State == StateHalted {
			return nil
		}

		start := c.PC

		op, err := c.fetchU8()
		if err != nil {
			c.raise(err, start)
			return nil
		}

		desc, ok := instrTable[op]
		if !ok {
			c.raise(faultAt(ErrBadOpcode, start), start)
			return nil
		}

		c.instr = decodedInstr{startAddr: start, opcode: op, desc: desc}

		if len(desc.operands) == 0 {
			c.State = StateExecute
		} else {
			c.State = StateFetchDecodeOperands
		}

	case StateFetchDecodeOperands:
		if err := c.decodeNextOperand(); err != nil {
			c.raise(err, c.instr.startAddr)
			return nil
		}

		if c.instr.next >= c.instr.numOperands() {
			c.State = StateExecute
		}

	case StateExecute:
		if err := c.instr.desc.exec(c); err != nil {
			c.raise(err, c.instr.startAddr)
			return nil
		}

		c.Cycles++
		c.numNestedExc = 0

		if c.State == StateExecute {
			c.State = StateFetchDecodeOpcode
		}

	case StateIntFetchIsrAddr:
		addr, err := c.mem.ReadU32(IVTBase + 4*Word(c.currIntLine))
		if err != nil {
			c.raise(err, IVTBase+4*Word(c.currIntLine))
			return nil
		}

		c.currISRAddr = addr

		if c.currIntLine == ExcReset {
			c.State = StateIntJump
		} else {
			c.State = StateIntPushPc
		}

	case StateIntPushPc:
		if err := c.pushWord(c.pcAfterISR); err != nil {
			c.raise(err, c.SP)
			return nil
		}

		c.State = StateIntJump

	case StateIntJump:
		c.PC = c.currISRAddr
		c.State = StateFetchDecodeOpcode

	case StateTripleFault:
		c.State = StateReset

	default:
		return fmt.Errorf("cpu: step: unknown pipeline state %s", c.State)
	}

	return nil
}

// raise enters the exception-dispatch path for err, which occurred while
// executing the instruction starting at instrStart. It increments the
// nested-exception counter and forces a triple fault at the configured
// limit, per the nested-exception policy.
func (c *CPU) raise(err error, instrStart Word) {
	line, ok := translateFault(err)
	if !ok {
		line = ExcBadInstr
	}

	c.numNestedExc++
	c.pcAfterISR = instrStart
	c.currIntLine = line

	if c.numNestedExc >= maxNestedExceptions {
		c.State = StateTripleFault
		return
	}

	c.State = StateIntFetchIsrAddr
}
