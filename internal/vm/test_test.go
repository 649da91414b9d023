package vm

import "testing"

// testHarness composes the constructors tests need repeatedly: a VM with a
// flat RAM region already mapped at [0, size), so tests can write a guest
// program and an IVT entry without hand-rolling a device.
type testHarness struct {
	*testing.T
}

func newTestHarness(t *testing.T) *testHarness {
	return &testHarness{T: t}
}

// makeRAM builds a VM and maps size bytes of read/write RAM at address 0,
// returning both the VM and the backing slice so tests can poke at memory
// directly as well as through the VM's own Memory() accessor.
func (th *testHarness) makeRAM(size Word) (*VM, []byte) {
	th.Helper()

	machine, err := New()
	if err != nil {
		th.Fatalf("vm.New: %v", err)
	}

	ram := make([]byte, size)

	region := Region{
		Start: 0,
		End:   size,
		Iface: RegionIface{
			ReadU8:  func(addr Word) (byte, error) { return ram[addr], nil },
			ReadU32: func(addr Word) (Word, error) { return ramReadU32(ram, addr), nil },
			WriteU8: func(addr Word, val byte) error { ram[addr] = val; return nil },
			WriteU32: func(addr Word, val Word) error {
				ramWriteU32(ram, addr, val)
				return nil
			},
		},
	}

	if err := machine.Memory().Map(region); err != nil {
		th.Fatalf("map ram: %v", err)
	}

	return machine, ram
}

func ramReadU32(ram []byte, addr Word) Word {
	return Word(ram[addr]) | Word(ram[addr+1])<<8 | Word(ram[addr+2])<<16 | Word(ram[addr+3])<<24
}

func ramWriteU32(ram []byte, addr, val Word) {
	ram[addr] = byte(val)
	ram[addr+1] = byte(val >> 8)
	ram[addr+2] = byte(val >> 16)
	ram[addr+3] = byte(val >> 24)
}

// loadProgram writes a byte sequence into ram at addr.
func loadProgram(ram []byte, addr Word, program []byte) {
	copy(ram[addr:], program)
}

// setIVT points IVT entry line at target.
func setIVT(ram []byte, line uint32, target Word) {
	ramWriteU32(ram, IVTBase+4*Word(line), target)
}

// runSteps advances the CPU n times, failing the test on the first Go error
// Step itself returns (guest-visible faults are not Go errors and do not
// stop this loop).
func (th *testHarness) runSteps(c *CPU, n int) {
	th.Helper()

	for i := 0; i < n; i++ {
		if err := c.Step(); err != nil {
			th.Fatalf("step %d: %v", i, err)
		}
	}
}

// runInstruction steps c, which must already be parked at
// StateFetchDecodeOpcode with PC at the instruction to run, until it
// retires (back to StateFetchDecodeOpcode), halts, or begins exception
// dispatch. It fails the test if none of those happen within a generous
// step budget, since this implementation advances one pipeline transition
// per Step rather than one instruction per call.
func (th *testHarness) runInstruction(c *CPU) {
	th.Helper()

	const budget = 16

	for i := 0; i < budget; i++ {
		if err := c.Step(); err != nil {
			th.Fatalf("step %d: %v", i, err)
		}

		switch c.State {
		case StateFetchDecodeOpcode, StateHalted, StateIntFetchIsrAddr, StateTripleFault:
			return
		}
	}

	th.Fatalf("instruction did not retire within %d steps, state=%s", budget, c.State)
}

// parkAt sets up c to begin decoding an opcode at addr, skipping Reset and
// any interrupt dispatch.
func parkAt(c *CPU, addr Word) {
	c.State = StateFetchDecodeOpcode
	c.PC = addr
}
