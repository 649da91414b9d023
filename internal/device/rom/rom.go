// Package rom implements a read-only memory device backed by a byte image
// read once when the ROM is created, from a file (Load) or from memory
// (FromBytes). Grounded on ex_common/file_rom.c: the guest sees a flat byte
// array; writes are unsupported.
package rom

import (
	"fmt"
	"os"

	"github.com/nullbus/vm32/internal/vm"
)

// DevClass identifies this device to the bus controller's self-description
// block and to snapshot restore callbacks.
const DevClass byte = 0x02

// ROM is a fixed, read-only byte buffer mapped into guest memory.
type ROM struct {
	buf []byte
}

// Load reads the file at path into a new ROM.
func Load(path string) (*ROM, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rom: load %s: %w", path, err)
	}

	return &ROM{buf: buf}, nil
}

// FromBytes wraps an in-memory image as a ROM, for tests and for guest
// images assembled by the host rather than read from disk.
func FromBytes(buf []byte) *ROM {
	return &ROM{buf: buf}
}

// Descriptor returns the vm.DeviceDescriptor to pass to VM.ConnectDevice.
func (r *ROM) Descriptor() vm.DeviceDescriptor {
	return vm.DeviceDescriptor{
		DevClass:     DevClass,
		RegionSize:   vm.Word(len(r.buf)),
		Iface:        vm.RegionIface{ReadU8: r.readU8, ReadU32: r.readU32},
		SnapshotSize: r.snapshotSize,
		Snapshot:     r.snapshot,
	}
}

func (r *ROM) readU8(addr vm.Word) (byte, error) {
	if int(addr)+1 > len(r.buf) {
		return 0, vm.ErrBadMem
	}

	return r.buf[addr], nil
}

func (r *ROM) readU32(addr vm.Word) (vm.Word, error) {
	if int(addr)+4 > len(r.buf) {
		return 0, vm.ErrBadMem
	}

	w := uint32(r.buf[addr]) | uint32(r.buf[addr+1])<<8 | uint32(r.buf[addr+2])<<16 | uint32(r.buf[addr+3])<<24

	return vm.Word(w), nil
}

func (r *ROM) snapshotSize() int { return len(r.buf) }

func (r *ROM) snapshot(buf []byte) int {
	return copy(buf, r.buf)
}

// Restore rehydrates a ROM from a snapshot payload of exactly size bytes.
func Restore(buf []byte, size int) (*ROM, int) {
	image := make([]byte, size)
	n := copy(image, buf)

	return &ROM{buf: image}, n
}
