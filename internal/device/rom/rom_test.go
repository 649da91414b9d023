package rom_test

import (
	"errors"
	"testing"

	"github.com/nullbus/vm32/internal/device/rom"
	"github.com/nullbus/vm32/internal/vm"
)

func TestROM_DescriptorReadOnly(t *testing.T) {
	t.Parallel()

	r := rom.FromBytes([]byte{0x01, 0x02, 0x03, 0x04})
	desc := r.Descriptor()

	if desc.DevClass != rom.DevClass {
		t.Errorf("DevClass = %#x, want %#x", desc.DevClass, rom.DevClass)
	}

	if desc.RegionSize != 4 {
		t.Errorf("RegionSize = %d, want 4", desc.RegionSize)
	}

	if desc.Iface.WriteU8 != nil || desc.Iface.WriteU32 != nil {
		t.Error("ROM must not expose a write callback")
	}

	b, err := desc.Iface.ReadU8(0)
	if err != nil || b != 0x01 {
		t.Errorf("ReadU8(0) = (%#x, %v), want (0x01, nil)", b, err)
	}

	w, err := desc.Iface.ReadU32(0)
	if err != nil || w != 0x04030201 {
		t.Errorf("ReadU32(0) = (%#x, %v), want (0x04030201, nil)", uint32(w), err)
	}
}

func TestROM_OutOfBoundsRead(t *testing.T) {
	t.Parallel()

	r := rom.FromBytes([]byte{0x01, 0x02})
	desc := r.Descriptor()

	if _, err := desc.Iface.ReadU8(2); !errors.Is(err, vm.ErrBadMem) {
		t.Errorf("ReadU8 past end: got %v, want ErrBadMem", err)
	}

	if _, err := desc.Iface.ReadU32(0); !errors.Is(err, vm.ErrBadMem) {
		t.Errorf("ReadU32 spanning end: got %v, want ErrBadMem", err)
	}
}

func TestROM_SnapshotRestore(t *testing.T) {
	t.Parallel()

	r := rom.FromBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	desc := r.Descriptor()

	buf := make([]byte, desc.SnapshotSize())
	n := desc.Snapshot(buf)

	if n != len(buf) {
		t.Fatalf("Snapshot wrote %d bytes, want %d", n, len(buf))
	}

	restored, consumed := rom.Restore(buf, len(buf))
	if consumed != len(buf) {
		t.Fatalf("Restore consumed %d bytes, want %d", consumed, len(buf))
	}

	got := restored.Descriptor()

	for i := vm.Word(0); i < 4; i++ {
		gotByte, err := got.Iface.ReadU8(i)
		if err != nil {
			t.Fatalf("restored ReadU8(%d): %v", i, err)
		}

		wantByte, _ := desc.Iface.ReadU8(i)
		if gotByte != wantByte {
			t.Errorf("restored byte %d = %#x, want %#x", i, gotByte, wantByte)
		}
	}
}
