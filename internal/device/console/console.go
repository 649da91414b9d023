// Package console implements a serial console for the machine, adapting
// the guest's synchronous print device onto the host terminal. Grounded on
// ex_common/print_dev.c (register layout and flush protocol) and on
// internal/tty's use of golang.org/x/term and golang.org/x/sys/unix for
// raw terminal handling.
package console

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/nullbus/vm32/internal/vm"
)

// DevClass identifies this device to the bus controller's self-description
// block and to snapshot restore callbacks.
const DevClass byte = 0x01

// bufSize is the guest-visible output buffer length, in bytes.
const bufSize = 128

// ctrlFlush is the control register's flush bit.
const ctrlFlush uint32 = 1 << 0

// Console adapts the guest's print device onto a host terminal. If
// standard input is a TTY, the terminal is put into raw mode for the
// lifetime of the console so guest output is not line-mangled by host line
// discipline; otherwise output is still written, just without raw mode.
type Console struct {
	out   *bufio.Writer
	state *term.State
	fd    int

	ctrl   uint32
	outbuf [bufSize]byte
}

// NewConsole creates a console writing guest output to sout. If sin is a
// terminal, its state is saved and the terminal is switched to raw mode;
// call Restore to undo this before the process exits.
func NewConsole(sin, sout *os.File) (*Console, error) {
	c := &Console{out: bufio.NewWriter(sout), fd: int(sin.Fd())}

	if !term.IsTerminal(c.fd) {
		return c, nil
	}

	saved, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, fmt.Errorf("console: make raw: %w", err)
	}

	c.state = saved

	// Query the window size once at startup; a real console would also
	// watch SIGWINCH, but the print device has no notion of terminal
	// geometry to react to it with.
	if _, _, err := unix.IoctlGetWinsize(c.fd, unix.TIOCGWINSZ); err != nil {
		return nil, fmt.Errorf("console: get window size: %w", err)
	}

	return c, nil
}

// Restore returns the terminal to the state captured by NewConsole. It is
// a no-op if the console was not put into raw mode.
func (c *Console) Restore() error {
	if c.state == nil {
		return nil
	}

	return term.Restore(c.fd, c.state)
}

// Descriptor returns the vm.DeviceDescriptor to pass to VM.ConnectDevice.
// The device is write-only: reads are unsupported, matching the guest
// print device's API.
func (c *Console) Descriptor() vm.DeviceDescriptor {
	return vm.DeviceDescriptor{
		DevClass:     DevClass,
		RegionSize:   4 + bufSize,
		Iface:        vm.RegionIface{WriteU8: c.writeU8, WriteU32: c.writeU32},
		SnapshotSize: c.snapshotSize,
		Snapshot:     c.snapshot,
	}
}

// writeU8 accepts only writes into the output buffer register; a byte
// write into the control register is unaligned and rejected, mirroring
// the guest device's own check.
func (c *Console) writeU8(addr vm.Word, val byte) error {
	if addr < 4 {
		return vm.ErrBadMem
	}

	off := int(addr) - 4
	if off >= bufSize {
		return vm.ErrBadMem
	}

	c.outbuf[off] = val

	return nil
}

func (c *Console) writeU32(addr vm.Word, val vm.Word) error {
	switch {
	case addr == 0:
		c.ctrl = uint32(val)
	case addr < 4:
		return vm.ErrBadMem
	default:
		off := int(addr) - 4
		if off+4 > bufSize {
			return vm.ErrBadMem
		}

		binary.LittleEndian.PutUint32(c.outbuf[off:], uint32(val))
	}

	if c.ctrl&ctrlFlush != 0 {
		c.flush()
		c.ctrl &^= ctrlFlush
	}

	return nil
}

// flush writes the NUL-terminated output buffer to the console, per the
// guest device's synchronous flush protocol.
func (c *Console) flush() {
	n := 0
	for n < bufSize && c.outbuf[n] != 0 {
		n++
	}

	if n == bufSize {
		fmt.Fprintln(os.Stderr, "console: output not NUL-terminated, dropped")
		return
	}

	c.out.Write(c.outbuf[:n])
	c.out.WriteByte('\n')
	c.out.Flush()
}

func (c *Console) snapshotSize() int { return 4 + bufSize }

func (c *Console) snapshot(buf []byte) int {
	binary.LittleEndian.PutUint32(buf, c.ctrl)
	copy(buf[4:], c.outbuf[:])

	return 4 + bufSize
}

// Restore rehydrates a Console's register state from a snapshot payload.
// The terminal connection itself (out, raw-mode state) is not part of the
// snapshot and must be re-established by the caller.
func Restore(buf []byte, out *os.File) (*Console, int) {
	c := &Console{out: bufio.NewWriter(out)}
	c.ctrl = binary.LittleEndian.Uint32(buf)
	copy(c.outbuf[:], buf[4:4+bufSize])

	return c, 4 + bufSize
}
