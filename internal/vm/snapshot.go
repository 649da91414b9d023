package vm

// snapshot.go implements the nested snapshot/restore protocol: VM header,
// then CPU (with its nested IC), then BC (with per-device payloads). The
// memory controller has no layer of its own: restore re-maps the regions of
// bus-connected devices, and regions mapped directly with Map are not
// saved or restored. Every pointer field is excluded from the serialized
// form; restore rebuilds the pointer graph by construction order.

import (
	"encoding/binary"
	"fmt"
)

const snVersionVM uint32 = 1

// SnapshotSize returns the exact number of bytes Snapshot will write.
func (vm *VM) SnapshotSize() int {
	size := 4 // VM header version.
	size += vm.cpuSnapshotSize()
	size += vm.bus.snapshotSize()

	return size
}

// Snapshot serializes the VM into buf, which must be at least
// SnapshotSize() bytes, and returns the number of bytes written.
func (vm *VM) Snapshot(buf []byte) int {
	n := 0
	n += putU32(buf[n:], snVersionVM)
	n += vm.cpuSnapshot(buf[n:])
	n += vm.bus.snapshot(buf[n:])

	return n
}

// Restore rebuilds VM state from a buffer produced by Snapshot. restoreDev
// is invoked once per connected device slot found in the buffer, in slot
// order, to rehydrate that device's RegionIface and re-map it into the
// memory controller.
func (vm *VM) Restore(buf []byte, restoreDev RestoreDevice) error {
	if len(buf) < 4 {
		return fmt.Errorf("vm: restore: short buffer")
	}

	n := 0

	ver := binary.LittleEndian.Uint32(buf[n:])
	n += 4

	if ver != snVersionVM {
		return fmt.Errorf("vm: restore: version %d, want %d", ver, snVersionVM)
	}

	consumed, err := vm.cpuRestore(buf[n:])
	if err != nil {
		return fmt.Errorf("vm: restore cpu: %w", err)
	}

	n += consumed

	consumed, err = vm.busRestore(buf[n:], restoreDev)
	if err != nil {
		return fmt.Errorf("vm: restore bus: %w", err)
	}

	n += consumed

	return nil
}

// operandSnapshotSize is the fixed serialized width of one decodedOperand:
// kind, reg, regLo, regHi, imm5, imm8 (1 byte each) and imm32 (4 bytes).
const operandSnapshotSize = 10

// cpuSnapshotSize reports the serialized size of the CPU layer, including
// its nested interrupt controller.
func (vm *VM) cpuSnapshotSize() int {
	// version, state, opcode, next-operand index, startAddr, the two
	// in-flight decoded operands, 8 GPRs, SP, PC, flags, cycles,
	// numNestedExc, currIntLine, currISRAddr, pcAfterISR, IC pending
	// bitmap.
	return 4 + 1 + 1 + 1 + 4 + len(vm.cpu.instr.operands)*operandSnapshotSize +
		int(NumGPR)*4 + 4 + 4 + 1 + 8 + 4 + 4 + 4 + 4 + 4
}

// putOperand serializes a decodedOperand by its register codes and
// immediate values, never a pointer, so restore can rebuild a pending
// instruction's in-flight operands exactly as decoded.
func putOperand(buf []byte, opd decodedOperand) int {
	n := 0

	buf[n] = byte(opd.kind)
	n++
	buf[n] = opd.reg
	n++
	buf[n] = opd.regLo
	n++
	buf[n] = opd.regHi
	n++
	buf[n] = opd.imm5
	n++
	buf[n] = opd.imm8
	n++

	n += putU32(buf[n:], uint32(opd.imm32))

	return n
}

func getOperand(buf []byte) (decodedOperand, int) {
	var opd decodedOperand

	n := 0

	opd.kind = operandKind(buf[n])
	n++
	opd.reg = buf[n]
	n++
	opd.regLo = buf[n]
	n++
	opd.regHi = buf[n]
	n++
	opd.imm5 = buf[n]
	n++
	opd.imm8 = buf[n]
	n++

	opd.imm32 = Word(binary.LittleEndian.Uint32(buf[n:]))
	n += 4

	return opd, n
}

func (vm *VM) cpuSnapshot(buf []byte) int {
	c := vm.cpu
	n := 0

	n += putU32(buf[n:], snVersionCPU)

	buf[n] = byte(c.State)
	n++
	buf[n] = c.instr.opcode
	n++
	buf[n] = byte(c.instr.next)
	n++

	n += putU32(buf[n:], uint32(c.instr.startAddr))

	for i := range c.instr.operands {
		n += putOperand(buf[n:], c.instr.operands[i])
	}

	for i := 0; i < int(NumGPR); i++ {
		n += putU32(buf[n:], uint32(c.Reg[i]))
	}

	n += putU32(buf[n:], uint32(c.SP))
	n += putU32(buf[n:], uint32(c.PC))

	buf[n] = byte(c.F)
	n++

	binary.LittleEndian.PutUint64(buf[n:], c.Cycles)
	n += 8

	n += putU32(buf[n:], uint32(c.numNestedExc))
	n += putU32(buf[n:], c.currIntLine)
	n += putU32(buf[n:], uint32(c.currISRAddr))
	n += putU32(buf[n:], uint32(c.pcAfterISR))

	n += putU32(buf[n:], vm.ic.pending)

	return n
}

func (vm *VM) cpuRestore(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("short cpu record")
	}

	n := 0

	ver := binary.LittleEndian.Uint32(buf[n:])
	n += 4

	if ver != snVersionCPU {
		return 0, fmt.Errorf("cpu version %d, want %d", ver, snVersionCPU)
	}

	c := vm.cpu

	c.State = PipelineState(buf[n])
	n++
	c.instr.opcode = buf[n]
	n++
	c.instr.next = int(buf[n])
	n++

	c.instr.startAddr = Word(binary.LittleEndian.Uint32(buf[n:]))
	n += 4

	if desc, ok := instrTable[c.instr.opcode]; ok {
		c.instr.desc = desc
	}

	// Operand register codes and immediates are recomputed from this saved
	// form rather than from pointers, so a pending instruction in
	// FetchDecodeOperands or Execute restores with the operands it had
	// already decoded before the snapshot was taken.
	for i := range c.instr.operands {
		opd, consumed := getOperand(buf[n:])
		c.instr.operands[i] = opd
		n += consumed
	}

	for i := 0; i < int(NumGPR); i++ {
		c.Reg[i] = Word(binary.LittleEndian.Uint32(buf[n:]))
		n += 4
	}

	c.SP = Word(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	c.PC = Word(binary.LittleEndian.Uint32(buf[n:]))
	n += 4

	c.F = Flags(buf[n])
	n++

	c.Cycles = binary.LittleEndian.Uint64(buf[n:])
	n += 8

	c.numNestedExc = int(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	c.currIntLine = binary.LittleEndian.Uint32(buf[n:])
	n += 4
	c.currISRAddr = Word(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	c.pcAfterISR = Word(binary.LittleEndian.Uint32(buf[n:]))
	n += 4

	vm.ic.pending = binary.LittleEndian.Uint32(buf[n:])
	n += 4

	return n, nil
}

// busRestore rebuilds the bus controller's slot table, remaps each
// device's region into the memory controller, and invokes restoreDev to
// rehydrate each device's callbacks and consume its own payload.
func (vm *VM) busRestore(buf []byte, restoreDev RestoreDevice) (int, error) {
	bc := vm.bus
	n := 0

	ver := binary.LittleEndian.Uint32(buf[n:])
	n += 4

	if ver != snVersionBus {
		return 0, fmt.Errorf("bus version %d, want %d", ver, snVersionBus)
	}

	for i := 0; i < BusMaxDevs; i++ {
		bc.used[i] = buf[n] != 0
		n++
	}

	for i := 0; i < BusMaxDevs; i++ {
		bc.slot[i].Index = i
		bc.slot[i].DevClass = buf[n]
		n++
		bc.slot[i].IRQLine = buf[n]
		n++
		bc.slot[i].Region.Start = Word(binary.LittleEndian.Uint32(buf[n:]))
		n += 4
		bc.slot[i].Region.End = Word(binary.LittleEndian.Uint32(buf[n:]))
		n += 4
	}

	bc.nextRegionAt = Word(binary.LittleEndian.Uint32(buf[n:]))
	n += 4
	bc.nextIRQ = buf[n]
	n++

	for i := 0; i < BusMaxDevs; i++ {
		if !bc.used[i] {
			continue
		}

		iface, desc, consumed := restoreDev(bc.slot[i].DevClass, buf[n:])
		n += consumed

		desc.DevClass = bc.slot[i].DevClass
		bc.desc[i] = desc

		region := Region{Start: bc.slot[i].Region.Start, End: bc.slot[i].Region.End, Iface: iface}
		bc.slot[i].Region = region

		if err := bc.mc.Map(region); err != nil {
			return n, fmt.Errorf("remap slot %d: %w", i, err)
		}
	}

	return n, nil
}
