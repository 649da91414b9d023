package console

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/nullbus/vm32/internal/vm"
)

func newTestConsole() (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	return &Console{out: bufio.NewWriter(&out)}, &out
}

func TestConsole_WriteAndFlush(t *testing.T) {
	t.Parallel()

	c, out := newTestConsole()
	desc := c.Descriptor()

	msg := "hello"
	for i, b := range []byte(msg) {
		if err := desc.Iface.WriteU8(4+vm.Word(i), b); err != nil {
			t.Fatalf("write byte %d: %v", i, err)
		}
	}

	if err := desc.Iface.WriteU32(0, vm.Word(ctrlFlush)); err != nil {
		t.Fatalf("write control register: %v", err)
	}

	if got := out.String(); got != msg+"\n" {
		t.Errorf("flushed output = %q, want %q", got, msg+"\n")
	}
}

func TestConsole_ControlRegisterByteWriteRejected(t *testing.T) {
	t.Parallel()

	c, _ := newTestConsole()
	desc := c.Descriptor()

	if err := desc.Iface.WriteU8(0, 'x'); !errors.Is(err, vm.ErrBadMem) {
		t.Errorf("byte write to control register: got %v, want ErrBadMem", err)
	}
}

func TestConsole_OutOfBoundsWrite(t *testing.T) {
	t.Parallel()

	c, _ := newTestConsole()
	desc := c.Descriptor()

	if err := desc.Iface.WriteU8(4+bufSize, 'x'); !errors.Is(err, vm.ErrBadMem) {
		t.Errorf("write past buffer end: got %v, want ErrBadMem", err)
	}
}

func TestConsole_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	c, _ := newTestConsole()
	desc := c.Descriptor()

	if err := desc.Iface.WriteU8(4, 'A'); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, desc.SnapshotSize())
	if n := desc.Snapshot(buf); n != len(buf) {
		t.Fatalf("Snapshot wrote %d bytes, want %d", n, len(buf))
	}

	var sink bytes.Buffer

	out := bufio.NewWriter(&sink)
	restored, consumed := restoreFromBuf(buf, out)

	if consumed != len(buf) {
		t.Fatalf("Restore consumed %d bytes, want %d", consumed, len(buf))
	}

	if restored.outbuf[0] != 'A' {
		t.Errorf("restored outbuf[0] = %q, want 'A'", restored.outbuf[0])
	}
}

// restoreFromBuf mirrors Restore without needing a real *os.File, for
// tests that only care about register state.
func restoreFromBuf(buf []byte, out *bufio.Writer) (*Console, int) {
	c := &Console{out: out}
	c.ctrl = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	copy(c.outbuf[:], buf[4:4+bufSize])

	return c, 4 + bufSize
}
