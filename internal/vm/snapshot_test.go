package vm

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// fakeMemDevice is a bus-connected device whose entire region is plain
// read/write memory, used to exercise the snapshot/restore protocol's
// device-rehydration path. Its own snapshot payload is self-describing (a
// length prefix followed by its bytes) since RestoreDevice is not handed
// the region size separately.
type fakeMemDevice struct {
	data []byte
}

func newFakeMemDevice(size Word) *fakeMemDevice {
	return &fakeMemDevice{data: make([]byte, size)}
}

const fakeMemDevClass byte = 0xFE

func (d *fakeMemDevice) descriptor(class byte) DeviceDescriptor {
	return DeviceDescriptor{
		DevClass:   class,
		RegionSize: Word(len(d.data)),
		Iface: RegionIface{
			ReadU8:  func(addr Word) (byte, error) { return d.data[addr], nil },
			ReadU32: func(addr Word) (Word, error) { return ramReadU32(d.data, addr), nil },
			WriteU8: func(addr Word, val byte) error { d.data[addr] = val; return nil },
			WriteU32: func(addr Word, val Word) error {
				ramWriteU32(d.data, addr, val)
				return nil
			},
		},
		SnapshotSize: func() int { return 4 + len(d.data) },
		Snapshot: func(buf []byte) int {
			binary.LittleEndian.PutUint32(buf, uint32(len(d.data)))
			copy(buf[4:], d.data)

			return 4 + len(d.data)
		},
	}
}

func restoreFakeMem(devClass byte, buf []byte) (RegionIface, DeviceDescriptor, int) {
	size := int(binary.LittleEndian.Uint32(buf))

	dev := newFakeMemDevice(Word(size))
	copy(dev.data, buf[4:4+size])

	desc := dev.descriptor(devClass)

	return desc.Iface, desc, 4 + size
}

// TestVM_SnapshotRoundTrip matches the documented scenario: a FakeMem
// device is connected and filled with a sentinel pattern, the VM is run a
// few pipeline transitions, snapshotted, and restored into a second VM.
// Stepping both the original and the restored VM the same number of times
// must produce byte-identical snapshots.
func TestVM_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	const memSize = Word(64)

	vmA, err := New()
	if err != nil {
		t.Fatalf("new vmA: %v", err)
	}

	devA := newFakeMemDevice(memSize)
	if _, err := vmA.ConnectDevice(devA.descriptor(fakeMemDevClass)); err != nil {
		t.Fatalf("connect fake mem: %v", err)
	}

	for i := range devA.data {
		devA.data[i] = 0xAE
	}

	const progAddr = Word(32)

	ramWriteU32(devA.data, IVTBase+4*Word(ExcReset), progAddr)
	devA.data[progAddr] = 0xA0   // NOP
	devA.data[progAddr+1] = 0xA1 // HALT

	// Reset, IntFetchIsrAddr, IntJump, NOP's opcode fetch, NOP's execute.
	for i := 0; i < 5; i++ {
		if err := vmA.Step(); err != nil {
			t.Fatalf("vmA warmup step %d: %v", i, err)
		}
	}

	if vmA.CPU().State != StateFetchDecodeOpcode || vmA.CPU().PC != progAddr+1 {
		t.Fatalf("vmA warmup left state=%s pc=%s, want FetchDecodeOpcode at %s",
			vmA.CPU().State, vmA.CPU().PC, progAddr+1)
	}

	buf := make([]byte, vmA.SnapshotSize())
	if n := vmA.Snapshot(buf); n != len(buf) {
		t.Fatalf("Snapshot wrote %d bytes, want %d", n, len(buf))
	}

	vmB, err := New()
	if err != nil {
		t.Fatalf("new vmB: %v", err)
	}

	if err := vmB.Restore(buf, restoreFakeMem); err != nil {
		t.Fatalf("restore vmB: %v", err)
	}

	// Drive both VMs through HALT's opcode fetch and execute.
	for i := 0; i < 2; i++ {
		if err := vmA.Step(); err != nil {
			t.Fatalf("vmA post-restore step %d: %v", i, err)
		}

		if err := vmB.Step(); err != nil {
			t.Fatalf("vmB post-restore step %d: %v", i, err)
		}
	}

	if vmA.CPU().State != StateHalted || vmB.CPU().State != StateHalted {
		t.Fatalf("states = %s, %s, want both Halted", vmA.CPU().State, vmB.CPU().State)
	}

	bufA := make([]byte, vmA.SnapshotSize())
	vmA.Snapshot(bufA)

	bufB := make([]byte, vmB.SnapshotSize())
	vmB.Snapshot(bufB)

	if !bytes.Equal(bufA, bufB) {
		t.Error("snapshots diverged after identical steps on the original and the restored VM")
	}
}

// TestVM_SnapshotRoundTrip_MidInstruction snapshots a CPU parked in
// StateExecute, with an ADD_RR already decoded but not yet retired, and
// verifies the pending instruction's operands (saved by register code, not
// by pointer) survive the round trip: the restored VM must execute the same
// ADD_RR with the same operands as the original.
func TestVM_SnapshotRoundTrip_MidInstruction(t *testing.T) {
	t.Parallel()

	const memSize = Word(64)

	vmA, err := New()
	if err != nil {
		t.Fatalf("new vmA: %v", err)
	}

	devA := newFakeMemDevice(memSize)
	if _, err := vmA.ConnectDevice(devA.descriptor(fakeMemDevClass)); err != nil {
		t.Fatalf("connect fake mem: %v", err)
	}

	const progAddr = Word(32)

	ramWriteU32(devA.data, IVTBase+4*Word(ExcReset), progAddr)
	devA.data[progAddr] = 0x42   // ADD_RR
	devA.data[progAddr+1] = 0x01 // regHi=R0 (dest), regLo=R1 (src)

	vmA.CPU().Reg[R0] = 5
	vmA.CPU().Reg[R1] = 7

	// Reset, IntFetchIsrAddr, IntJump, opcode fetch, operand decode: lands
	// in StateExecute with the operand decoded but not yet applied.
	for i := 0; i < 5; i++ {
		if err := vmA.Step(); err != nil {
			t.Fatalf("vmA warmup step %d: %v", i, err)
		}
	}

	if vmA.CPU().State != StateExecute {
		t.Fatalf("vmA warmup left state=%s, want Execute", vmA.CPU().State)
	}

	if vmA.CPU().Reg[R0] != 5 {
		t.Fatalf("vmA.Reg[R0] = %#x before execute, want unchanged 5", uint32(vmA.CPU().Reg[R0]))
	}

	buf := make([]byte, vmA.SnapshotSize())
	if n := vmA.Snapshot(buf); n != len(buf) {
		t.Fatalf("Snapshot wrote %d bytes, want %d", n, len(buf))
	}

	vmB, err := New()
	if err != nil {
		t.Fatalf("new vmB: %v", err)
	}

	if err := vmB.Restore(buf, restoreFakeMem); err != nil {
		t.Fatalf("restore vmB: %v", err)
	}

	if vmB.CPU().State != StateExecute {
		t.Fatalf("vmB restored state=%s, want Execute", vmB.CPU().State)
	}

	if err := vmA.Step(); err != nil {
		t.Fatalf("vmA execute step: %v", err)
	}

	if err := vmB.Step(); err != nil {
		t.Fatalf("vmB execute step: %v", err)
	}

	if vmA.CPU().Reg[R0] != 12 {
		t.Fatalf("vmA.Reg[R0] = %#x after execute, want 12", uint32(vmA.CPU().Reg[R0]))
	}

	if vmB.CPU().Reg[R0] != vmA.CPU().Reg[R0] {
		t.Errorf("vmB.Reg[R0] = %#x, want %#x (restored operands must resolve the same registers)",
			uint32(vmB.CPU().Reg[R0]), uint32(vmA.CPU().Reg[R0]))
	}

	if vmB.CPU().F != vmA.CPU().F {
		t.Errorf("vmB flags = %s, want %s", vmB.CPU().F, vmA.CPU().F)
	}
}

// TestVM_RestoreRejectsVersionMismatch verifies a corrupted or
// incompatible version word is reported rather than silently misread.
func TestVM_RestoreRejectsVersionMismatch(t *testing.T) {
	t.Parallel()

	vm, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	buf := make([]byte, vm.SnapshotSize())
	vm.Snapshot(buf)

	binary.LittleEndian.PutUint32(buf, 0xFFFFFFFF)

	if err := vm.Restore(buf, restoreFakeMem); err == nil {
		t.Error("restore with a bad version word should fail")
	}
}
