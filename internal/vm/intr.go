package vm

// intr.go implements the interrupt controller: a 32-bit pending-IRQ bitmap
// with strict ascending-line priority, grounded on intctl.c.

import (
	"fmt"
	"math/bits"

	"github.com/nullbus/vm32/internal/log"
)

// MaxIRQNum is the highest IRQ line the interrupt controller accepts.
const MaxIRQNum = 31

// snVersionIntr is the snapshot format version for InterruptController.
const snVersionIntr uint32 = 1

// InterruptController holds the pending-IRQ bitmap. Only lines 0-31 are
// meaningful; Raise rejects anything higher.
type InterruptController struct {
	pending uint32

	log *log.Logger
}

// NewInterruptController creates an interrupt controller with no lines
// pending.
func NewInterruptController() *InterruptController {
	return &InterruptController{log: log.DefaultLogger()}
}

// Raise sets the pending bit for line. It fails with ErrInvalidIrq when
// line exceeds MaxIRQNum and leaves the bitmap unmodified. Raising an
// already-pending line is a no-op.
func (ic *InterruptController) Raise(line uint8) error {
	if line > MaxIRQNum {
		return fmt.Errorf("intr: raise: line %d: %w", line, ErrInvalidIrq)
	}

	ic.pending |= 1 << line

	ic.log.Debug("irq raised", log.Any("line", line))

	return nil
}

// HasPending reports whether any IRQ line is pending.
func (ic *InterruptController) HasPending() bool {
	return ic.pending != 0
}

// TakePending clears and returns the lowest-numbered pending line. The
// second return value is false if no line is pending.
func (ic *InterruptController) TakePending() (uint8, bool) {
	if ic.pending == 0 {
		return 0, false
	}

	line := uint8(bits.TrailingZeros32(ic.pending))
	ic.pending &^= 1 << line

	return line, true
}

func (ic *InterruptController) LogValue() log.Value {
	return log.GroupValue(log.Any("pending", ic.pending))
}
